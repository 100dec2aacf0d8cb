package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	MaxPasswordLen    = 72 // bcrypt ignores bytes past 72
)

// PasswordValidationError lists every rule a password broke. Error() stays
// generic so the rules are not echoed back to callers.
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	return "invalid password"
}

var commonPasswords = map[string]bool{
	"password":     true,
	"password123":  true,
	"password123!": true,
	"12345678":     true,
	"qwerty123":    true,
	"letmein":      true,
	"welcome1":     true,
	"passw0rd":     true,
	"trustno1":     true,
}

// PasswordHasher wraps bcrypt with a fixed cost
type PasswordHasher struct {
	cost      int
	dummyHash []byte
}

// NewPasswordHasher panics only if bcrypt rejects cost, which is a programming error
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost {
		cost = DefaultBcryptCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("estateguard-dummy-password"), cost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt cost %d: %v", cost, err))
	}
	return &PasswordHasher{cost: cost, dummyHash: dummy}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func (h *PasswordHasher) Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// CompareDummy burns the same CPU as a real comparison for unknown accounts
func (h *PasswordHasher) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

// GenerateSecureToken returns n random bytes, hex encoded
func GenerateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidatePassword enforces length, character classes and a small deny list
func ValidatePassword(password string) error {
	problems := make([]string, 0)

	if len(password) < MinPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		problems = append(problems, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		problems = append(problems, "must contain an uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "must contain a lowercase letter")
	}
	if !hasDigit {
		problems = append(problems, "must contain a digit")
	}
	if !hasSpecial {
		problems = append(problems, "must contain a special character")
	}
	if commonPasswords[strings.ToLower(password)] {
		problems = append(problems, "is too common")
	}

	if len(problems) > 0 {
		return &PasswordValidationError{Errors: problems}
	}
	return nil
}
