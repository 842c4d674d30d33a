// Package auth covers credential handling: password hashing and the bearer
// token middleware that resolves the Authorization header to a user.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is a valid bcrypt hash of a random string nobody knows. Login
// verifies against it when the account does not exist so that the timing of
// a failed login does not reveal whether the email is registered.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks whether a plaintext password matches the given hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// BurnVerification runs a bcrypt comparison that always fails, spending the
// same work a real verification would. Call it on the account-not-found path.
func BurnVerification(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
}
