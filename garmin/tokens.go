package garmin

import "time"

// OAuth1Token is the initial-exchange token issued by Garmin SSO. Field
// names follow the upstream wire format and must not change: previously
// issued session tokens embed them.
type OAuth1Token struct {
	OAuthToken             string `json:"oauth_token"`
	OAuthTokenSecret       string `json:"oauth_token_secret"`
	MFAToken               string `json:"mfa_token,omitempty"`
	MFAExpirationTimestamp string `json:"mfa_expiration_timestamp,omitempty"`
	Domain                 string `json:"domain"`
}

// OAuth2Token is the refreshable access/refresh pair used for Connect API
// calls. Wire field names are fixed, see OAuth1Token.
type OAuth2Token struct {
	Scope                 string `json:"scope"`
	JTI                   string `json:"jti"`
	TokenType             string `json:"token_type"`
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	ExpiresIn             int64  `json:"expires_in"`
	ExpiresAt             int64  `json:"expires_at"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	RefreshTokenExpiresAt int64  `json:"refresh_token_expires_at"`
}

// Expired reports whether the access token needs re-exchanging.
func (t *OAuth2Token) Expired() bool {
	return time.Now().Unix() >= t.ExpiresAt
}

// RefreshExpired reports whether the refresh window has also closed.
func (t *OAuth2Token) RefreshExpired() bool {
	return time.Now().Unix() >= t.RefreshTokenExpiresAt
}

// AuthorizationHeader renders the token for the Authorization header.
func (t *OAuth2Token) AuthorizationHeader() string {
	return t.TokenType + " " + t.AccessToken
}

// Credential is the full provider credential handle: both sub-tokens plus
// the Garmin domain they were issued against. Either sub-token may be nil
// after a legacy decode; missing pieces surface later as an authentication
// failure on first use, not as a decode failure.
type Credential struct {
	OAuth1 *OAuth1Token
	OAuth2 *OAuth2Token
	Domain string
}
