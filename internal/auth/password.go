package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 6
	// bcrypt only reads the first 72 bytes and x/crypto rejects longer input.
	maxPasswordLen = 72

	passwordCost = bcrypt.DefaultCost
)

// dummyHash is compared against when the username is unknown so a failed
// login costs the same whether or not the account exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("wiredm-unknown-user"), passwordCost)

func burnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return ErrInvalidPassword
	}
	return nil
}

// hashPassword returns the bcrypt hash stored in users.password_hash.
func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// checkPassword reports ErrInvalidCredentials for a mismatch and passes any
// other bcrypt failure (a corrupt stored hash) through.
func checkPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	return err
}
