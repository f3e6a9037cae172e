package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// StaffAuth checks the staff PIN used to reset a table device
type StaffAuth struct {
	hash string
}

// NewStaffAuth creates a checker for a bcrypt PIN hash. An empty hash disables staff actions.
func NewStaffAuth(hash string) *StaffAuth {
	return &StaffAuth{hash: hash}
}

// Enabled reports whether a PIN hash is configured
func (s *StaffAuth) Enabled() bool {
	return s != nil && s.hash != ""
}

// Verify compares a PIN against the configured hash
func (s *StaffAuth) Verify(pin string) bool {
	if !s.Enabled() || pin == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.hash), []byte(pin)) == nil
}

// HashPIN hashes a staff PIN for the STAFF_PIN_HASH setting
func HashPIN(pin string) (string, error) {
	if len(pin) < 4 {
		return "", fmt.Errorf("pin must be at least 4 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}
