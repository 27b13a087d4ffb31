package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SecretBytes is the amount of randomness behind every generated secret
	// (key secrets, access tokens, refresh tokens).
	SecretBytes = 48

	// BcryptCost is the work factor for bcrypt (12 = ~300ms per hash)
	BcryptCost = 12
)

// GenerateSecret returns a fresh high-entropy secret, text-encoded.
// The plaintext exists only in the return value; callers store a hash.
func GenerateSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret produces a salted one-way hash suitable for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret compares a candidate against a stored hash. It reports
// true/false only; callers must not surface anything more granular.
func VerifySecret(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// DigestToken returns the SHA-256 digest of a session token, base64-encoded.
// Session rows are looked up by this digest, so it must be deterministic;
// the tokens themselves carry 48 bytes of randomness, which is the actual
// defense against guessing.
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
