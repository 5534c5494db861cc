package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askmygarmin/backend/adapters/registry"
	"github.com/askmygarmin/backend/adapters/sealer"
	"github.com/askmygarmin/backend/core"
	"github.com/askmygarmin/backend/garmin"
)

// fakeProvider scripts one provider exchange: an optional pre-prompt delay,
// an optional MFA challenge, and a fixed result.
type fakeProvider struct {
	mfa         bool
	acceptCode  string
	promptDelay time.Duration
	finishDelay time.Duration
	loginErr    error

	profile    *garmin.Profile
	profileErr error

	prompted atomic.Bool
}

func (f *fakeProvider) Login(ctx context.Context, email, password string, prompt func() string) (*garmin.Credential, error) {
	time.Sleep(f.promptDelay)
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if f.mfa {
		f.prompted.Store(true)
		code := prompt()
		if code != f.acceptCode {
			return nil, errors.New("MFA verification failed")
		}
	}
	time.Sleep(f.finishDelay)
	return testCredential(), nil
}

func (f *fakeProvider) Profile(ctx context.Context, cred *garmin.Credential) (*garmin.Profile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if f.profile != nil {
		return f.profile, nil
	}
	return &garmin.Profile{UserID: 12345, DisplayName: "runner", EmailAddress: "a@example.com"}, nil
}

func (f *fakeProvider) FetchAll(ctx context.Context, cred *garmin.Credential) (map[string]any, error) {
	return map[string]any{"profile": map[string]any{"displayName": "runner"}}, nil
}

type capturedLogin struct {
	subject string
	mfaUsed bool
	success bool
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	logins []capturedLogin
}

func (p *capturePublisher) PublishLogin(ctx context.Context, subject string, mfaUsed, success bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins = append(p.logins, capturedLogin{subject: subject, mfaUsed: mfaUsed, success: success})
	return nil
}

func (p *capturePublisher) PublishLogout(ctx context.Context, subject string) error { return nil }

func (p *capturePublisher) Logins() []capturedLogin {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedLogin(nil), p.logins...)
}

func testCredential() *garmin.Credential {
	return &garmin.Credential{
		OAuth1: &garmin.OAuth1Token{
			OAuthToken:       "fake_oauth_token",
			OAuthTokenSecret: "fake_oauth_secret",
			Domain:           "garmin.com",
		},
		OAuth2: &garmin.OAuth2Token{
			Scope:        "CONNECT_READ",
			TokenType:    "Bearer",
			AccessToken:  "fake_access_token",
			RefreshToken: "fake_refresh_token",
			ExpiresAt:    9_999_999_999,
		},
		Domain: "garmin.com",
	}
}

// newTestAuth builds a coordinator with waits shrunk to test scale.
func newTestAuth(t *testing.T, provider *fakeProvider) *AuthService {
	t.Helper()
	seal, err := sealer.New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := NewAuthService(provider, registry.New(time.Minute), seal, NewLoginLimiter(), nil, log)
	s.initialWait = 100 * time.Millisecond
	s.submitWait = 200 * time.Millisecond
	s.codeWait = 500 * time.Millisecond
	return s
}

func TestLoginDirectSuccess(t *testing.T) {
	s := newTestAuth(t, &fakeProvider{})

	outcome, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)
	assert.False(t, outcome.MFARequired)
	require.NotEmpty(t, outcome.SessionToken)

	cred, err := s.RestoreCredential(outcome.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "fake_oauth_token", cred.OAuth1.OAuthToken)
	assert.Equal(t, "fake_access_token", cred.OAuth2.AccessToken)
}

func TestLoginInvalidCredentials(t *testing.T) {
	s := newTestAuth(t, &fakeProvider{loginErr: errors.New("Invalid username or password")})

	_, err := s.StartLogin(context.Background(), "origin", "a@example.com", "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAuthenticationFailed)
	assert.Contains(t, err.Error(), "Invalid username or password")
}

func TestChallengeBeatsCompletion(t *testing.T) {
	// The challenge fires almost immediately while completion would take
	// far longer than the initial wait; the caller must see the challenge,
	// not a timeout.
	provider := &fakeProvider{
		mfa:         true,
		acceptCode:  "123456",
		promptDelay: 2 * time.Millisecond,
		finishDelay: 300 * time.Millisecond,
	}
	s := newTestAuth(t, provider)

	started := time.Now()
	outcome, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, outcome.MFARequired)
	assert.NotEmpty(t, outcome.SessionID)
	assert.True(t, provider.prompted.Load())
	assert.Less(t, time.Since(started), s.initialWait/2, "challenge must preempt the bounded wait")
}

func TestMFAFlowEndToEnd(t *testing.T) {
	provider := &fakeProvider{mfa: true, acceptCode: "123456"}
	s := newTestAuth(t, provider)

	outcome, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)
	require.True(t, outcome.MFARequired)

	final, err := s.SubmitMFA(context.Background(), outcome.SessionID, "123456")
	require.NoError(t, err)
	require.NotEmpty(t, final.SessionToken)

	cred, err := s.RestoreCredential(final.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "fake_oauth_token", cred.OAuth1.OAuthToken)
	assert.Equal(t, "fake_access_token", cred.OAuth2.AccessToken)

	// The attempt was collected exactly once; resubmission finds nothing.
	_, err = s.SubmitMFA(context.Background(), outcome.SessionID, "123456")
	assert.ErrorIs(t, err, core.ErrInvalidSession)
}

func TestMFAWrongCode(t *testing.T) {
	provider := &fakeProvider{mfa: true, acceptCode: "123456"}
	s := newTestAuth(t, provider)

	outcome, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)
	require.True(t, outcome.MFARequired)

	_, err = s.SubmitMFA(context.Background(), outcome.SessionID, "000000")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAuthenticationFailed)
	assert.Contains(t, err.Error(), "MFA verification failed")
}

func TestMFAUnknownSession(t *testing.T) {
	s := newTestAuth(t, &fakeProvider{})
	_, err := s.SubmitMFA(context.Background(), "no-such-session", "123456")
	assert.ErrorIs(t, err, core.ErrInvalidSession)
}

func TestLateCodeSubmissionStillCompletes(t *testing.T) {
	// The original caller's bounded wait elapses long before the code
	// shows up; the attempt must still be resumable through the registry
	// within the code window.
	provider := &fakeProvider{mfa: true, acceptCode: "123456"}
	s := newTestAuth(t, provider)

	outcome, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)
	require.True(t, outcome.MFARequired)

	time.Sleep(s.initialWait + 50*time.Millisecond)

	final, err := s.SubmitMFA(context.Background(), outcome.SessionID, "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, final.SessionToken)
}

func TestCodeWindowElapsesWithoutCode(t *testing.T) {
	provider := &fakeProvider{mfa: true, acceptCode: "123456"}
	s := newTestAuth(t, provider)
	s.codeWait = 30 * time.Millisecond

	outcome, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)
	require.True(t, outcome.MFARequired)

	// Nobody submits a code; the exchange's own wait elapses and the
	// provider call fails naturally.
	time.Sleep(100 * time.Millisecond)

	_, err = s.SubmitMFA(context.Background(), outcome.SessionID, "123456")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAuthenticationFailed)
}

func TestTimedOutWaitLeavesAttemptRegistered(t *testing.T) {
	provider := &fakeProvider{finishDelay: 150 * time.Millisecond}
	s := newTestAuth(t, provider)
	s.initialWait = 20 * time.Millisecond

	_, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrAuthenticationFailed)
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestAuth(t, &fakeProvider{loginErr: errors.New("nope")})

	for i := 0; i < 5; i++ {
		_, err := s.StartLogin(context.Background(), "same-origin", "a@example.com", "pw")
		assert.ErrorIs(t, err, core.ErrAuthenticationFailed, "attempt %d reaches the provider", i+1)
	}

	_, err := s.StartLogin(context.Background(), "same-origin", "a@example.com", "pw")
	assert.ErrorIs(t, err, core.ErrRateLimited, "the sixth attempt is throttled before the provider")
}

func TestLoginEventsCarrySubjectOnBothPaths(t *testing.T) {
	provider := &fakeProvider{mfa: true, acceptCode: "123456"}
	s := newTestAuth(t, provider)
	pub := &capturePublisher{}
	s.events = pub

	outcome, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)
	require.True(t, outcome.MFARequired)

	_, err = s.SubmitMFA(context.Background(), outcome.SessionID, "123456")
	require.NoError(t, err)

	events := pub.Logins()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].subject, "the MFA path must attribute the event like the direct path")
	assert.NotContains(t, events[0].subject, "a@example.com")
	assert.True(t, events[0].mfaUsed)
	assert.True(t, events[0].success)

	// Direct path publishes the same subject for the same account.
	direct := newTestAuth(t, &fakeProvider{})
	direct.events = pub
	_, err = direct.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)

	events = pub.Logins()
	require.Len(t, events, 2)
	assert.Equal(t, events[0].subject, events[1].subject)
	assert.False(t, events[1].mfaUsed)
}

func TestStatus(t *testing.T) {
	s := newTestAuth(t, &fakeProvider{})

	outcome, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)

	connected, email := s.Status(context.Background(), outcome.SessionToken)
	assert.True(t, connected)
	assert.Equal(t, "a@example.com", email)
}

func TestStatusProfileFailureKeepsConnected(t *testing.T) {
	provider := &fakeProvider{profileErr: errors.New("profile endpoint down")}
	s := newTestAuth(t, provider)

	outcome, err := s.StartLogin(context.Background(), "origin", "a@example.com", "pw")
	require.NoError(t, err)

	connected, email := s.Status(context.Background(), outcome.SessionToken)
	assert.True(t, connected, "a valid token stays connected even if the profile fetch fails")
	assert.Empty(t, email)
}

func TestStatusInvalidToken(t *testing.T) {
	s := newTestAuth(t, &fakeProvider{})

	connected, _ := s.Status(context.Background(), "not-a-real-token")
	assert.False(t, connected)
}
