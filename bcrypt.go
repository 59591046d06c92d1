package credentials

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation)

// ErrMismatchedHashAndPassword is returned when a cleartext password does
// not verify against the stored hash.
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds)

// BcryptCost is the work factor applied to new hashes.
var BcryptCost = 12

// PasswordMinEntropyBits is the floor applied by ValidatePasswordStrength
// on top of the length policy.
var PasswordMinEntropyBits = 40.0

const (
	passwordMinLength = 8
	passwordMaxLength = 40
)

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// ValidatePasswordPolicy enforces the password rules shared by signup,
// password change, and reset completion: confirmation must match, length
// must fall in [8, 40], and the password needs a minimum of entropy.
// Failures come back as the full human readable message list.
func ValidatePasswordPolicy(password, confirmation string) error {
	var messages []string

	if password != confirmation {
		messages = append(messages, "Passwords do not match")
	}

	if len(password) < passwordMinLength {
		messages = append(messages, "Password must be a minimum of 8 characters.")
	} else if len(password) > passwordMaxLength {
		messages = append(messages, "Password must be at most 40 characters.")
	} else if err := passwordvalidator.Validate(password, PasswordMinEntropyBits); err != nil {
		messages = append(messages, err.Error())
	}

	if len(messages) > 0 {
		return NewValidationErrors(messages...)
	}

	return nil
}
