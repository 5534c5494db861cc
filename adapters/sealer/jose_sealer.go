// Package sealer implements the session token envelope: authenticated
// symmetric encryption of serialized provider credentials, using JWE with
// direct A256GCM encryption. There is no server-side session store; losing
// the key invalidates every outstanding token.
package sealer

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/sirupsen/logrus"

	"github.com/askmygarmin/backend/core"
)

const keySize = 32

// JoseSealer seals and opens bearer tokens with a process-lifetime key.
type JoseSealer struct {
	key       []byte
	encrypter jose.Encrypter
}

// New builds a sealer from a 32-byte key.
func New(key []byte) (*JoseSealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("session key must be %d bytes, got %d", keySize, len(key))
	}
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: key},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("build encrypter: %w", err)
	}
	return &JoseSealer{key: key, encrypter: enc}, nil
}

// FromEnv builds a sealer from a base64url-encoded key string. An empty or
// invalid value falls back to a random per-process key with a warning:
// the service stays usable, but tokens stop surviving restarts.
func FromEnv(encoded string, log *logrus.Logger) (*JoseSealer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if encoded != "" {
		key, err := base64.URLEncoding.DecodeString(encoded)
		if err == nil && len(key) == keySize {
			return New(key)
		}
		log.WithError(err).Warn("SESSION_KEY is not a base64url 32-byte key, ignoring it")
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	log.Warn("no session key configured; using a random per-process key, tokens will not survive restarts")
	return New(key)
}

// Seal encrypts a plaintext into a compact JWE token.
func (s *JoseSealer) Seal(plaintext []byte) (string, error) {
	obj, err := s.encrypter.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("seal token: %w", err)
	}
	token, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serialize token: %w", err)
	}
	return token, nil
}

// Open decrypts a token, failing closed on any tampering, truncation, or
// key mismatch.
func (s *JoseSealer) Open(token string) ([]byte, error) {
	obj, err := jose.ParseEncrypted(token,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenDecrypt, err)
	}
	plaintext, err := obj.Decrypt(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrTokenDecrypt, err)
	}
	return plaintext, nil
}
