package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinCredentialLength is the shortest password accepted at registration.
const MinCredentialLength = 6

// ErrCredentialTooShort is returned for passwords under MinCredentialLength.
var ErrCredentialTooShort = fmt.Errorf("password must be at least %d characters", MinCredentialLength)

// HashCredential returns the bcrypt hash of a plaintext password.
func HashCredential(plain string) (string, error) {
	if len(plain) < MinCredentialLength {
		return "", ErrCredentialTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckCredential reports whether plain matches hash.
func CheckCredential(hash, plain string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare password: %w", err)
	}
	return true, nil
}
