package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/askmygarmin/backend/core"
	"github.com/askmygarmin/backend/garmin"
	"github.com/askmygarmin/backend/ports"
)

// AuthService coordinates the login lifecycle: it runs the blocking Garmin
// exchange in its own goroutine, surfaces a mid-flight MFA challenge to the
// caller, and packages the finished credential into an encrypted bearer
// token. There is no cancellation, only bounded waits: a timed-out wait
// changes what the waiting request reports, never what the exchange does.
type AuthService struct {
	provider ports.Provider
	registry ports.AttemptRegistry
	sealer   ports.Sealer
	limiter  *LoginLimiter
	events   ports.EventPublisher
	log      *logrus.Logger

	// initialWait bounds the login request's race between "challenge
	// requested" and "attempt finished".
	initialWait time.Duration

	// submitWait bounds how long an MFA submission waits for the exchange
	// to finish after the code is handed over.
	submitWait time.Duration

	// codeWait bounds how long the blocked exchange waits for a code.
	codeWait time.Duration

	// profileWait bounds the best-effort profile fetch on status checks.
	profileWait time.Duration
}

// NewAuthService creates the login coordinator with production wait bounds.
func NewAuthService(
	provider ports.Provider,
	registry ports.AttemptRegistry,
	sealer ports.Sealer,
	limiter *LoginLimiter,
	events ports.EventPublisher,
	log *logrus.Logger,
) *AuthService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthService{
		provider:    provider,
		registry:    registry,
		sealer:      sealer,
		limiter:     limiter,
		events:      events,
		log:         log,
		initialWait: 15 * time.Second,
		submitWait:  30 * time.Second,
		codeWait:    300 * time.Second,
		profileWait: 5 * time.Second,
	}
}

// LoginOutcome is the terminal or intermediate result of a login call.
type LoginOutcome struct {
	// MFARequired means the caller must submit a code via SubmitMFA using
	// SessionID. SessionToken is empty in that case.
	MFARequired bool
	SessionID   string

	// SessionToken is the encrypted bearer token, set on success.
	SessionToken string
}

// StartLogin begins a login attempt and waits, bounded, for either an MFA
// challenge or completion. origin is the caller's rate-limit key.
func (s *AuthService) StartLogin(ctx context.Context, origin, email, password string) (*LoginOutcome, error) {
	if err := s.limiter.Check(origin); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	attempt := core.NewLoginAttempt(id)
	attempt.Subject = subjectHash(email)
	s.registry.Put(id, attempt)

	go s.runExchange(attempt, email, password)

	select {
	case <-attempt.ChallengeRequested():
		s.log.WithField("session_id", id).Info("login paused for MFA")
		return &LoginOutcome{MFARequired: true, SessionID: id}, nil

	case <-attempt.Finished():
		return s.collect(ctx, attempt, false)

	case <-time.After(s.initialWait):
		if attempt.Terminal() {
			return s.collect(ctx, attempt, false)
		}
		// The exchange keeps running; the attempt stays registered so the
		// MFA endpoint can still resume it.
		s.log.WithField("session_id", id).Warn("login wait elapsed before the exchange settled")
		return nil, fmt.Errorf("%w: login timed out", core.ErrAuthenticationFailed)
	}
}

// SubmitMFA hands the out-of-band code to a waiting attempt and waits,
// bounded, for the final outcome.
func (s *AuthService) SubmitMFA(ctx context.Context, sessionID, code string) (*LoginOutcome, error) {
	attempt, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, core.ErrInvalidSession
	}

	if !attempt.SupplyCode(code) {
		s.log.WithField("session_id", sessionID).Warn("mfa code already supplied, ignoring resubmission")
	}

	select {
	case <-attempt.Finished():
	case <-time.After(s.submitWait):
	}

	if !attempt.Terminal() {
		return nil, fmt.Errorf("%w: login did not complete in time", core.ErrAuthenticationFailed)
	}
	return s.collect(ctx, attempt, true)
}

// runExchange is the background execution context for one attempt. Failures
// are captured into the attempt record; nothing propagates across the
// goroutine boundary.
func (s *AuthService) runExchange(attempt *core.LoginAttempt, email, password string) {
	prompt := func() string {
		attempt.RequestChallenge()
		select {
		case <-attempt.CodeSupplied():
			return attempt.Code()
		case <-time.After(s.codeWait):
			// Returning "" lets the provider call fail naturally; the
			// failure is then observed like any other.
			return ""
		}
	}

	cred, err := s.provider.Login(context.Background(), email, password, prompt)
	if err != nil {
		s.log.WithError(err).WithField("session_id", attempt.ID).Info("garmin exchange failed")
		attempt.Fail(err.Error())
		return
	}

	blob, err := garmin.Encode(cred)
	if err != nil {
		s.log.WithError(err).WithField("session_id", attempt.ID).Error("credential serialization failed")
		attempt.Fail(err.Error())
		return
	}
	attempt.Succeed(blob)
}

// collect pops a terminal attempt from the registry and turns it into the
// caller's outcome, sealing the credential blob on success. Exactly one
// request context collects each attempt; the attempt carries its own
// subject so the MFA path attributes events the same way the direct path
// does.
func (s *AuthService) collect(ctx context.Context, attempt *core.LoginAttempt, mfaUsed bool) (*LoginOutcome, error) {
	s.registry.Remove(attempt.ID)

	if attempt.State() != core.AttemptSucceeded {
		detail := attempt.ErrDetail()
		if detail == "" {
			detail = "login failed"
		}
		s.publishLogin(ctx, attempt.Subject, mfaUsed, false)
		return nil, fmt.Errorf("%w: %s", core.ErrAuthenticationFailed, detail)
	}

	token, err := s.sealer.Seal([]byte(attempt.CredentialBlob()))
	if err != nil {
		return nil, fmt.Errorf("seal session token: %w", err)
	}
	s.publishLogin(ctx, attempt.Subject, mfaUsed, true)
	return &LoginOutcome{SessionToken: token}, nil
}

// RestoreCredential decrypts and decodes a bearer token back into a
// provider credential. Decrypted credentials are never cached; every
// request pays the decrypt so no secret state outlives it.
func (s *AuthService) RestoreCredential(token string) (*garmin.Credential, error) {
	plaintext, err := s.sealer.Open(token)
	if err != nil {
		return nil, err
	}
	return garmin.Decode(string(plaintext))
}

// Status reports whether a bearer token holds a usable credential. The
// profile fetch is best-effort and bounded: its failure enriches nothing
// but never flips a valid token to disconnected.
func (s *AuthService) Status(ctx context.Context, token string) (connected bool, email string) {
	cred, err := s.RestoreCredential(token)
	if err != nil {
		return false, ""
	}

	pctx, cancel := context.WithTimeout(ctx, s.profileWait)
	defer cancel()
	profile, err := s.provider.Profile(pctx, cred)
	if err != nil {
		s.log.WithError(err).Debug("status profile fetch failed")
		return true, ""
	}
	return true, profile.EmailAddress
}

// Profile exposes the provider's profile fetch for handlers that need the
// caller's Garmin identity.
func (s *AuthService) Profile(ctx context.Context, cred *garmin.Credential) (*garmin.Profile, error) {
	return s.provider.Profile(ctx, cred)
}

// Logout is stateless by design: tokens cannot be revoked server-side, the
// client simply discards its copy. The event is still published so other
// instances can react.
func (s *AuthService) Logout(ctx context.Context, token string) {
	subject := ""
	if cred, err := s.RestoreCredential(token); err == nil && cred.OAuth2 != nil {
		subject = subjectHash(cred.OAuth2.JTI)
	}
	if s.events != nil {
		if err := s.events.PublishLogout(ctx, subject); err != nil {
			s.log.WithError(err).Warn("publish logout event failed")
		}
	}
}

func (s *AuthService) publishLogin(ctx context.Context, subject string, mfaUsed, success bool) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLogin(ctx, subject, mfaUsed, success); err != nil {
		s.log.WithError(err).Warn("publish login event failed")
	}
}

// subjectHash hides account identifiers in logs and events.
func subjectHash(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:8])
}
