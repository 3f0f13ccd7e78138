package validation

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	UsernameMinLength = 3
	UsernameMaxLength = 32
)

var usernameFolder = cases.Fold()

// NormalizeUsername returns the canonical form used for storage and uniqueness:
// NFKC-normalised, case-folded, surrounding space removed.
func NormalizeUsername(username string) string {
	return usernameFolder.String(norm.NFKC.String(strings.TrimSpace(username)))
}

// ValidateUsername validates a normalised username.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}

	n := utf8.RuneCountInString(username)
	if n < UsernameMinLength {
		return errors.New("username is too short (min 3 characters)")
	}
	if n > UsernameMaxLength {
		return errors.New("username is too long (max 32 characters)")
	}

	for _, r := range username {
		if !usernameRune(r) {
			return errors.New("username may only contain letters, digits, '.', '_' and '-'")
		}
	}

	if strings.ContainsRune("._-", rune(username[0])) {
		return errors.New("username must start with a letter or digit")
	}

	return nil
}

func usernameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
}

// UsernameFromEmail derives a username candidate from the local part of an email.
// Characters outside the username alphabet are dropped.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	local = NormalizeUsername(local)

	var b strings.Builder
	for _, r := range local {
		if usernameRune(r) {
			b.WriteRune(r)
		}
	}

	candidate := strings.TrimLeft(b.String(), "._-")
	if utf8.RuneCountInString(candidate) > UsernameMaxLength-5 {
		candidate = candidate[:UsernameMaxLength-5]
	}
	for utf8.RuneCountInString(candidate) < UsernameMinLength {
		candidate += "0"
	}
	return candidate
}
