package core

import "errors"

var (
	// ErrRateLimited is returned when an origin exceeds the login rate limit.
	ErrRateLimited = errors.New("too many login attempts")

	// ErrAuthenticationFailed is returned when the provider exchange fails,
	// including rejected credentials, a wrong or never-supplied MFA code,
	// and provider-side errors. The provider message is attached by wrapping.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidSession is returned when an MFA code is submitted for an
	// unknown or expired login session.
	ErrInvalidSession = errors.New("invalid or expired login session")

	// ErrMalformedToken is returned when a session token payload is not
	// structured data at all.
	ErrMalformedToken = errors.New("session token is not valid JSON")

	// ErrCredentialDecode is returned when a session token parses but the
	// provider credential inside it cannot be reconstructed.
	ErrCredentialDecode = errors.New("could not restore provider credential")

	// ErrTokenDecrypt is returned when a session token fails authenticated
	// decryption: tampering, truncation, or a key mismatch.
	ErrTokenDecrypt = errors.New("could not decrypt session token")

	// ErrUpstream is returned when a post-auth provider data call fails.
	ErrUpstream = errors.New("garmin upstream unavailable")
)

// IsTokenError reports whether err means the presented session token is
// unusable, for any of the decode/decrypt reasons.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrCredentialDecode) ||
		errors.Is(err, ErrTokenDecrypt)
}
