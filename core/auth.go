package core

import (
	"sync"
	"time"
)

// AttemptState tracks where a login attempt is in its lifecycle.
type AttemptState int

const (
	// AttemptPending means the provider exchange is still running.
	AttemptPending AttemptState = iota

	// AttemptChallengeRequested means the provider asked for an MFA code
	// and the exchange is blocked waiting for it.
	AttemptChallengeRequested

	// AttemptSucceeded means the exchange finished and a serialized
	// credential is available on the attempt.
	AttemptSucceeded

	// AttemptFailed means the exchange finished with an error.
	AttemptFailed
)

// LoginAttempt is the shared record for one in-flight login. The background
// exchange goroutine and the request goroutines coordinate exclusively
// through its channels; the mutex only guards the scalar fields.
//
// State transitions: Pending -> ChallengeRequested -> Succeeded|Failed,
// or Pending -> Succeeded|Failed when no MFA is needed. Terminal states
// are immutable.
type LoginAttempt struct {
	ID string

	// Subject is the hashed account identifier, set once at registration
	// so whichever request collects the outcome can attribute it.
	Subject string

	StartedAt time.Time

	mu             sync.Mutex
	state          AttemptState
	mfaCode        string
	errDetail      string
	credentialBlob string

	challengeRequested chan struct{}
	codeSupplied       chan struct{}
	finished           chan struct{}

	challengeOnce sync.Once
	codeOnce      sync.Once
	finishOnce    sync.Once
}

// NewLoginAttempt returns a pending attempt with the given session ID.
func NewLoginAttempt(id string) *LoginAttempt {
	return &LoginAttempt{
		ID:                 id,
		StartedAt:          time.Now(),
		state:              AttemptPending,
		challengeRequested: make(chan struct{}),
		codeSupplied:       make(chan struct{}),
		finished:           make(chan struct{}),
	}
}

// State returns the current attempt state.
func (a *LoginAttempt) State() AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Terminal reports whether the attempt has finished, either way.
func (a *LoginAttempt) Terminal() bool {
	s := a.State()
	return s == AttemptSucceeded || s == AttemptFailed
}

// RequestChallenge marks the attempt as waiting for an MFA code and wakes
// anyone racing on ChallengeRequested. Safe to call more than once.
func (a *LoginAttempt) RequestChallenge() {
	a.challengeOnce.Do(func() {
		a.mu.Lock()
		if a.state == AttemptPending {
			a.state = AttemptChallengeRequested
		}
		a.mu.Unlock()
		close(a.challengeRequested)
	})
}

// SupplyCode stores the MFA code and signals the blocked exchange. The code
// is write-once; later calls are ignored and return false.
func (a *LoginAttempt) SupplyCode(code string) bool {
	supplied := false
	a.codeOnce.Do(func() {
		a.mu.Lock()
		a.mfaCode = code
		a.mu.Unlock()
		close(a.codeSupplied)
		supplied = true
	})
	return supplied
}

// Code returns the supplied MFA code, or "" if none was supplied.
func (a *LoginAttempt) Code() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mfaCode
}

// Succeed finishes the attempt with a serialized credential blob.
func (a *LoginAttempt) Succeed(credentialBlob string) {
	a.finishOnce.Do(func() {
		a.mu.Lock()
		a.state = AttemptSucceeded
		a.credentialBlob = credentialBlob
		a.mu.Unlock()
		close(a.finished)
	})
}

// Fail finishes the attempt with the provider's error message.
func (a *LoginAttempt) Fail(detail string) {
	a.finishOnce.Do(func() {
		a.mu.Lock()
		a.state = AttemptFailed
		a.errDetail = detail
		a.mu.Unlock()
		close(a.finished)
	})
}

// ErrDetail returns the failure message, set only on failed attempts.
func (a *LoginAttempt) ErrDetail() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errDetail
}

// CredentialBlob returns the serialized credential, set only on success.
func (a *LoginAttempt) CredentialBlob() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.credentialBlob
}

// ChallengeRequested is closed when the provider asks for an MFA code.
func (a *LoginAttempt) ChallengeRequested() <-chan struct{} { return a.challengeRequested }

// CodeSupplied is closed when a code has been stored on the attempt.
func (a *LoginAttempt) CodeSupplied() <-chan struct{} { return a.codeSupplied }

// Finished is closed when the attempt reaches a terminal state.
func (a *LoginAttempt) Finished() <-chan struct{} { return a.finished }
