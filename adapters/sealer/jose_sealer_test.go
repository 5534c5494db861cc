package sealer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askmygarmin/backend/core"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := New(testKey(1))
	require.NoError(t, err)

	token, err := s.Seal([]byte(`{"dumps_b64":"abc"}`))
	require.NoError(t, err)
	assert.NotContains(t, token, "dumps_b64", "token must not expose the plaintext")

	plaintext, err := s.Open(token)
	require.NoError(t, err)
	assert.Equal(t, `{"dumps_b64":"abc"}`, string(plaintext))
}

func TestOpenFailsClosedOnTampering(t *testing.T) {
	s, err := New(testKey(1))
	require.NoError(t, err)

	token, err := s.Seal([]byte("secret payload"))
	require.NoError(t, err)

	// Flip a character in the ciphertext segment.
	parts := strings.Split(token, ".")
	require.Len(t, parts, 5)
	seg := []byte(parts[3])
	if seg[0] == 'A' {
		seg[0] = 'B'
	} else {
		seg[0] = 'A'
	}
	parts[3] = string(seg)

	_, err = s.Open(strings.Join(parts, "."))
	assert.ErrorIs(t, err, core.ErrTokenDecrypt)
}

func TestOpenFailsClosedOnTruncation(t *testing.T) {
	s, err := New(testKey(1))
	require.NoError(t, err)

	token, err := s.Seal([]byte("secret payload"))
	require.NoError(t, err)

	_, err = s.Open(token[:len(token)/2])
	assert.ErrorIs(t, err, core.ErrTokenDecrypt)
}

func TestOpenFailsClosedOnKeyMismatch(t *testing.T) {
	s1, err := New(testKey(1))
	require.NoError(t, err)
	s2, err := New(testKey(2))
	require.NoError(t, err)

	token, err := s1.Seal([]byte("secret payload"))
	require.NoError(t, err)

	_, err = s2.Open(token)
	assert.ErrorIs(t, err, core.ErrTokenDecrypt)
}

func TestOpenFailsClosedOnGarbage(t *testing.T) {
	s, err := New(testKey(1))
	require.NoError(t, err)

	for _, input := range []string{"", "garbage", "a.b.c.d.e", "{\"not\":\"a jwe\"}"} {
		_, err := s.Open(input)
		assert.ErrorIs(t, err, core.ErrTokenDecrypt, "input=%q", input)
	}
}

func TestFromEnvFallsBackToRandomKey(t *testing.T) {
	log := logrus.New()

	s, err := FromEnv("", log)
	require.NoError(t, err)

	token, err := s.Seal([]byte("x"))
	require.NoError(t, err)

	// A second sealer gets its own random key, so tokens do not carry over.
	other, err := FromEnv("", log)
	require.NoError(t, err)
	_, err = other.Open(token)
	assert.ErrorIs(t, err, core.ErrTokenDecrypt)
}

func TestFromEnvUsesConfiguredKey(t *testing.T) {
	encoded := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=" // 32 zero bytes

	s1, err := FromEnv(encoded, nil)
	require.NoError(t, err)
	s2, err := FromEnv(encoded, nil)
	require.NoError(t, err)

	token, err := s1.Seal([]byte("shared"))
	require.NoError(t, err)
	plaintext, err := s2.Open(token)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(plaintext))
}
