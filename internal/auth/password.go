package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultPasswordCost is the bcrypt work factor for local identity accounts.
const DefaultPasswordCost = 12

// maxPasswordBytes is bcrypt's input limit; longer inputs are silently
// truncated by the library, so they are rejected up front instead.
const maxPasswordBytes = 72

// ErrInvalidPassword is returned by Verify when the password does not match.
var ErrInvalidPassword = errors.New("auth: invalid password")

// PasswordService hashes and verifies the passwords of accounts registered with
// the local identity provider.
//
// The cost is a field so tests can run at bcrypt.MinCost.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with DefaultPasswordCost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: DefaultPasswordCost}
}

// NewPasswordServiceWithCost creates a PasswordService with a custom cost.
// Anything outside bcrypt's accepted range falls back to DefaultPasswordCost.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultPasswordCost
	}
	return &PasswordService{cost: cost}
}

// Hash returns the bcrypt hash of plaintext. The salt and cost are embedded
// in the output, so it can be stored as-is.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("auth: password must not be empty")
	}
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks plaintext against a stored hash. A mismatch returns
// ErrInvalidPassword; a malformed hash returns a wrapped bcrypt error.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
