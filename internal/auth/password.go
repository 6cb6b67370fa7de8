// Passwords are hashed with bcrypt. The output is a self-describing blob:
//
//	$2a$12$<22-char salt><31-char digest>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
//
// so verification needs nothing but the blob and the candidate plaintext.

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production (~250ms per hash).
const defaultCost = 12

// MaxPasswordBytes is bcrypt's input limit. Longer inputs are rejected
// rather than silently truncated.
const MaxPasswordBytes = 72

var (
	// ErrPasswordMismatch means the blob is well formed but the plaintext is wrong.
	ErrPasswordMismatch = errors.New("auth: invalid password")
	// ErrMalformedHash means the stored blob could not be decoded at all.
	ErrMalformedHash = errors.New("auth: malformed password hash")
	// ErrPasswordTooLong is returned by Hash for inputs over MaxPasswordBytes.
	ErrPasswordTooLong = fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
)

// PasswordService provides bcrypt hashing and verification.
// The cost is a field so tests can run at bcrypt.MinCost.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceWithCost creates a PasswordService with a custom cost.
// Costs outside bcrypt's range fall back to the default.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = defaultCost
	}
	return &PasswordService{cost: cost}
}

// Hash hashes plaintext with a fresh random salt.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks plaintext against a stored bcrypt hash.
//
// It returns nil on a match, ErrPasswordMismatch on a wrong password and an
// error wrapping ErrMalformedHash when the blob is corrupted. The comparison
// inside bcrypt is constant time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return fmt.Errorf("%w: %w", ErrMalformedHash, err)
	}
}

// Matches is the boolean form of Verify. Any failure, including a corrupted
// hash, is reported as false.
func (p *PasswordService) Matches(hash, plaintext string) bool {
	return p.Verify(hash, plaintext) == nil
}
