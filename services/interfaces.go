package services

// SecretHasher hashes client secrets at rest and verifies presented ones.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(hashedSecret, secret string) error
}
