package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Entropy of generated credentials, in bytes before hex encoding.
const (
	authorizationCodeBytes = 32
	accessTokenBytes       = 32
	refreshTokenBytes      = 40
	clientIDBytes          = 16
	clientSecretBytes      = 32
)

// generateRandomString returns n bytes from the CSPRNG, hex encoded.
func generateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

func generateAuthorizationCode() (string, error) { return generateRandomString(authorizationCodeBytes) }
func generateAccessToken() (string, error)       { return generateRandomString(accessTokenBytes) }
func generateRefreshToken() (string, error)      { return generateRandomString(refreshTokenBytes) }
func generateClientID() (string, error)          { return generateRandomString(clientIDBytes) }
func generateClientSecret() (string, error)      { return generateRandomString(clientSecretBytes) }

// newRecordID returns a fresh authorization record ID.
func newRecordID() string {
	return uuid.NewString()
}
