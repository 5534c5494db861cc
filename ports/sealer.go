package ports

// Sealer converts serialized credentials to and from the opaque bearer
// tokens held by clients. Open must fail closed: tampered or truncated
// input never yields a partial plaintext.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(token string) ([]byte, error)
}
