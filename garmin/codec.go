package garmin

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/askmygarmin/backend/core"
)

// The current envelope wraps the provider's native dump: a base64 of the
// JSON pair [oauth1, oauth2] under this key. The key doubles as the format
// discriminator; it never appeared in the legacy layout.
const envelopeKey = "dumps_b64"

// Legacy envelopes carried one section per sub-token, written by the old
// file-based storage. Keys optionally carry a ".json" suffix.
const (
	legacyOAuth1Key = "oauth1_token"
	legacyOAuth2Key = "oauth2_token"
	legacySuffix    = ".json"
)

// Encode serializes a credential into the current envelope format.
func Encode(cred *Credential) (string, error) {
	pair := [2]any{cred.OAuth1, cred.OAuth2}
	raw, err := json.Marshal(pair)
	if err != nil {
		return "", fmt.Errorf("marshal token pair: %w", err)
	}
	env := map[string]string{
		envelopeKey: base64.StdEncoding.EncodeToString(raw),
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(out), nil
}

// Decode reconstructs a credential from any envelope format ever shipped.
// The discriminator key selects the current path; everything else goes
// through the legacy path. The credential format evolved once already in
// production, so previously issued tokens must keep decoding.
func Decode(blob string) (*Credential, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedToken, err)
	}

	if raw, ok := outer[envelopeKey]; ok {
		return decodeNative(raw)
	}
	return decodeLegacy(outer)
}

// decodeNative handles the current format: base64 of JSON [oauth1, oauth2].
// Any reconstruction failure is hard: the current writer always produces a
// complete pair, so anything less is corruption.
func decodeNative(raw json.RawMessage) (*Credential, error) {
	var b64 string
	if err := json.Unmarshal(raw, &b64); err != nil {
		return nil, fmt.Errorf("%w: %s is not a string", core.ErrCredentialDecode, envelopeKey)
	}
	dump, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCredentialDecode, err)
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(dump, &pair); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCredentialDecode, err)
	}
	if len(pair) < 2 {
		return nil, fmt.Errorf("%w: dump holds %d tokens, want 2", core.ErrCredentialDecode, len(pair))
	}

	cred := &Credential{OAuth1: &OAuth1Token{}, OAuth2: &OAuth2Token{}}
	if err := json.Unmarshal(pair[0], cred.OAuth1); err != nil {
		return nil, fmt.Errorf("%w: oauth1: %v", core.ErrCredentialDecode, err)
	}
	if err := json.Unmarshal(pair[1], cred.OAuth2); err != nil {
		return nil, fmt.Errorf("%w: oauth2: %v", core.ErrCredentialDecode, err)
	}
	cred.Domain = cred.OAuth1.Domain
	return cred, nil
}

// decodeLegacy handles both legacy layouts: section keys with or without
// the ".json" suffix, section values stored either as JSON-encoded strings
// or as inline objects. Unknown fields inside a section are dropped, and a
// wholly missing section is logged and skipped; only a field-level type
// error fails the decode. The asymmetry with decodeNative is deliberate:
// maximal tolerance for tokens written by retired code.
func decodeLegacy(outer map[string]json.RawMessage) (*Credential, error) {
	sections := make(map[string]json.RawMessage, len(outer))
	for k, v := range outer {
		sections[strings.TrimSuffix(k, legacySuffix)] = v
	}

	cred := &Credential{}

	if raw, ok := sections[legacyOAuth1Key]; ok {
		t := &OAuth1Token{}
		if err := decodeLegacySection(raw, t); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrCredentialDecode, legacyOAuth1Key, err)
		}
		cred.OAuth1 = t
		cred.Domain = t.Domain
	} else {
		logrus.WithField("section", legacyOAuth1Key).Warn("legacy token envelope is missing a section, skipping")
	}

	if raw, ok := sections[legacyOAuth2Key]; ok {
		t := &OAuth2Token{}
		if err := decodeLegacySection(raw, t); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrCredentialDecode, legacyOAuth2Key, err)
		}
		cred.OAuth2 = t
	} else {
		logrus.WithField("section", legacyOAuth2Key).Warn("legacy token envelope is missing a section, skipping")
	}

	return cred, nil
}

// decodeLegacySection unwraps the double encoding the old writer used
// (sections were JSON strings containing JSON) while also accepting plain
// objects.
func decodeLegacySection(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return err
		}
		trimmed = []byte(inner)
	}
	return json.Unmarshal(trimmed, dst)
}
