package garmin

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askmygarmin/backend/core"
)

func fakeCredential() *Credential {
	return &Credential{
		OAuth1: &OAuth1Token{
			OAuthToken:       "fake_oauth_token",
			OAuthTokenSecret: "fake_oauth_secret",
			Domain:           "garmin.com",
		},
		OAuth2: &OAuth2Token{
			Scope:                 "CONNECT_READ CONNECT_WRITE",
			JTI:                   "fake-jti-1234",
			TokenType:             "Bearer",
			AccessToken:           "fake_access_token",
			RefreshToken:          "fake_refresh_token",
			ExpiresIn:             3600,
			ExpiresAt:             9_999_999_999,
			RefreshTokenExpiresIn: 7_776_000,
			RefreshTokenExpiresAt: 9_999_999_999,
		},
		Domain: "garmin.com",
	}
}

// legacyBlob produces a token as the old file-based writer stored it:
// section values are JSON-encoded strings, keys optionally suffixed.
func legacyBlob(t *testing.T, withSuffix bool) string {
	t.Helper()
	cred := fakeCredential()
	o1, err := json.Marshal(cred.OAuth1)
	require.NoError(t, err)
	o2, err := json.Marshal(cred.OAuth2)
	require.NoError(t, err)

	suffix := ""
	if withSuffix {
		suffix = ".json"
	}
	out, err := json.Marshal(map[string]string{
		"oauth1_token" + suffix: string(o1),
		"oauth2_token" + suffix: string(o2),
	})
	require.NoError(t, err)
	return string(out)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	blob, err := Encode(fakeCredential())
	require.NoError(t, err)

	restored, err := Decode(blob)
	require.NoError(t, err)
	require.NotNil(t, restored.OAuth1)
	require.NotNil(t, restored.OAuth2)

	assert.Equal(t, "fake_oauth_token", restored.OAuth1.OAuthToken)
	assert.Equal(t, "fake_oauth_secret", restored.OAuth1.OAuthTokenSecret)
	assert.Equal(t, "garmin.com", restored.OAuth1.Domain)
	assert.Equal(t, "fake_access_token", restored.OAuth2.AccessToken)
	assert.Equal(t, "fake_refresh_token", restored.OAuth2.RefreshToken)
	assert.Equal(t, "CONNECT_READ CONNECT_WRITE", restored.OAuth2.Scope)
	assert.Equal(t, "Bearer", restored.OAuth2.TokenType)
	assert.Equal(t, "garmin.com", restored.Domain)
}

func TestEncodeUsesCurrentEnvelope(t *testing.T) {
	blob, err := Encode(fakeCredential())
	require.NoError(t, err)

	var outer map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(blob), &outer))
	assert.Contains(t, outer, "dumps_b64")
}

func TestRepeatedRoundTripsAreStable(t *testing.T) {
	blob1, err := Encode(fakeCredential())
	require.NoError(t, err)
	cred1, err := Decode(blob1)
	require.NoError(t, err)

	blob2, err := Encode(cred1)
	require.NoError(t, err)
	cred2, err := Decode(blob2)
	require.NoError(t, err)

	assert.Equal(t, cred1, cred2)
	assert.Equal(t, "fake_oauth_token", cred2.OAuth1.OAuthToken)
	assert.Equal(t, "fake_access_token", cred2.OAuth2.AccessToken)
}

func TestLegacyFormatWithSuffix(t *testing.T) {
	restored, err := Decode(legacyBlob(t, true))
	require.NoError(t, err)
	require.NotNil(t, restored.OAuth1)
	require.NotNil(t, restored.OAuth2)
	assert.Equal(t, "fake_oauth_token", restored.OAuth1.OAuthToken)
	assert.Equal(t, "fake_access_token", restored.OAuth2.AccessToken)
}

func TestLegacyFormatWithoutSuffix(t *testing.T) {
	restored, err := Decode(legacyBlob(t, false))
	require.NoError(t, err)
	require.NotNil(t, restored.OAuth1)
	assert.Equal(t, "fake_oauth_token", restored.OAuth1.OAuthToken)
	assert.Equal(t, "garmin.com", restored.Domain)
}

func TestLegacyFormatInlineObjects(t *testing.T) {
	// Some old writers stored the sections as objects instead of
	// JSON-encoded strings.
	cred := fakeCredential()
	out, err := json.Marshal(map[string]any{
		"oauth1_token": cred.OAuth1,
		"oauth2_token": cred.OAuth2,
	})
	require.NoError(t, err)

	restored, err := Decode(string(out))
	require.NoError(t, err)
	assert.Equal(t, "fake_oauth_token", restored.OAuth1.OAuthToken)
	assert.Equal(t, "fake_refresh_token", restored.OAuth2.RefreshToken)
}

func TestLegacyUnknownFieldsAreDropped(t *testing.T) {
	// A future provider version may add fields; they must not fail the
	// decode.
	section := `{"oauth_token":"fake_oauth_token","oauth_token_secret":"s","domain":"garmin.com","brand_new_field":"whatever"}`
	out, err := json.Marshal(map[string]string{"oauth1_token.json": section})
	require.NoError(t, err)

	restored, err := Decode(string(out))
	require.NoError(t, err)
	require.NotNil(t, restored.OAuth1)
	assert.Equal(t, "fake_oauth_token", restored.OAuth1.OAuthToken)
}

func TestLegacyMissingSectionIsSkipped(t *testing.T) {
	cred := fakeCredential()
	o1, err := json.Marshal(cred.OAuth1)
	require.NoError(t, err)
	out, err := json.Marshal(map[string]string{"oauth1_token.json": string(o1)})
	require.NoError(t, err)

	restored, err := Decode(string(out))
	require.NoError(t, err)
	require.NotNil(t, restored.OAuth1)
	assert.Nil(t, restored.OAuth2, "missing section must surface as a nil token, not an error")
}

func TestLegacyFieldTypeMismatchFails(t *testing.T) {
	section := `{"scope":"x","access_token":"y","expires_at":"not-a-number"}`
	out, err := json.Marshal(map[string]string{"oauth2_token": section})
	require.NoError(t, err)

	_, err = Decode(string(out))
	assert.ErrorIs(t, err, core.ErrCredentialDecode)
}

func TestDecodeRejectsNonJSON(t *testing.T) {
	_, err := Decode("not-json-at-all")
	assert.ErrorIs(t, err, core.ErrMalformedToken)
}

func TestDecodeRejectsCorruptDump(t *testing.T) {
	_, err := Decode(`{"dumps_b64": "this-is-not-valid-base64!!!"}`)
	assert.ErrorIs(t, err, core.ErrCredentialDecode)
}

func TestDecodeRejectsNonStringDump(t *testing.T) {
	_, err := Decode(`{"dumps_b64": 42}`)
	assert.ErrorIs(t, err, core.ErrCredentialDecode)
}

func TestDecodeRejectsShortDump(t *testing.T) {
	one, err := json.Marshal([]any{fakeCredential().OAuth1})
	require.NoError(t, err)
	blob := fmt.Sprintf(`{"dumps_b64": %q}`, base64.StdEncoding.EncodeToString(one))

	_, err = Decode(blob)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCredentialDecode))
}
