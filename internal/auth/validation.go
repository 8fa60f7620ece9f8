package auth

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrPasswordRequired = errors.New("password is required")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail checks the address shape only. The address is stored exactly
// as given, so no normalisation happens here.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len(password) > 72 {
		return ErrPasswordTooLong
	}
	return nil
}

// IsValidationError reports whether err came from input validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrPasswordRequired) ||
		errors.Is(err, ErrPasswordTooLong)
}
