package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// ChallengeMethod is a PKCE code challenge transformation (RFC 7636 §4.2).
type ChallengeMethod string

const (
	ChallengeS256  ChallengeMethod = "S256"
	ChallengePlain ChallengeMethod = "plain"
)

// ParseChallengeMethod maps code_challenge_method onto one of the supported
// methods. The comparison is case-sensitive.
func ParseChallengeMethod(method string) (ChallengeMethod, bool) {
	switch ChallengeMethod(method) {
	case ChallengeS256:
		return ChallengeS256, true
	case ChallengePlain:
		return ChallengePlain, true
	default:
		return "", false
	}
}

// S256Challenge derives the S256 code challenge of a verifier:
// base64url without padding of its SHA-256 digest.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a code verifier against the stored challenge. Comparisons
// run in constant time; an unknown method never verifies.
func VerifyPKCE(verifier, method, challenge string) bool {
	m, ok := ParseChallengeMethod(method)
	if !ok || verifier == "" || challenge == "" {
		return false
	}

	var computed string
	switch m {
	case ChallengeS256:
		computed = S256Challenge(verifier)
	case ChallengePlain:
		computed = verifier
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
