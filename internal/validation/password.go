package validation

import (
	"errors"
	"fmt"
	"strings"
)

// PasswordMaxLength is the bcrypt input limit; longer input is silently truncated by bcrypt.
const PasswordMaxLength = 72

var commonPatterns = []string{
	"password", "123456", "qwerty", "letmein",
	"welcome", "monkey", "dragon", "sunshine",
}

// ValidatePassword validates password length and rejects common patterns.
func ValidatePassword(password string, minLength int) error {
	if len(password) < minLength {
		return fmt.Errorf("password must be at least %d characters", minLength)
	}

	if len(password) > PasswordMaxLength {
		return errors.New("password must not exceed 72 characters")
	}

	lower := strings.ToLower(password)
	for _, pattern := range commonPatterns {
		if strings.Contains(lower, pattern) {
			return errors.New("password is too common, please choose a stronger one")
		}
	}

	return nil
}
