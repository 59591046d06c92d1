package credentials

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeInvalidCreds is attached to credential mismatches.
	TextCodeInvalidCreds = "INVALID_CREDENTIALS"
	// TextCodeInvalidToken covers absent, consumed, or unmatched tokens.
	TextCodeInvalidToken = "INVALID_TOKEN"
	// TextCodeTokenExpired is attached to expired tokens of any class.
	TextCodeTokenExpired = "TOKEN_EXPIRED"
	// TextCodeTokenMalformed covers undecodable or tampered tokens.
	TextCodeTokenMalformed = "TOKEN_MALFORMED"
	// TextCodeEmailNotVerified is returned when login requires confirmation.
	TextCodeEmailNotVerified = "EMAIL_NOT_VERIFIED"
	// TextCodeEmailExists is attached to email uniqueness conflicts.
	TextCodeEmailExists = "EMAIL_EXISTS"
	// TextCodeUsernameExists is attached to username uniqueness conflicts.
	TextCodeUsernameExists = "USERNAME_EXISTS"
)

// ErrInvalidCredentials is returned for an unknown account or a password
// mismatch. The two cases are intentionally indistinguishable so callers
// cannot enumerate accounts.
var ErrInvalidCredentials = goerrors.New("invalid username / password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidToken is returned when a confirmation, reset, or refresh token
// is absent, unmatched, or already consumed. Deliberately coarse.
var ErrInvalidToken = goerrors.New("invalid token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token decodes correctly but its
// validity window has lapsed.
var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a signed token fails signature or
// structural verification.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailNotVerified is returned when login is blocked pending email
// confirmation.
var ErrEmailNotVerified = goerrors.New("email not verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailTaken is returned when an email is already held, confirmed or
// pending within its confirmation window, by another account.
var ErrEmailTaken = goerrors.New("email has already been taken", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailExists).
	WithCode(goerrors.CodeConflict)

// ErrUsernameTaken is returned when a username is already held by another
// account.
var ErrUsernameTaken = goerrors.New("username has already been taken", goerrors.CategoryConflict).
	WithTextCode(TextCodeUsernameExists).
	WithCode(goerrors.CodeConflict)

// ErrIdentityNotFound is the error we return for non found accounts
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ValidationErrors is the field-level failure list surfaced to callers as
// human readable messages, e.g. "Passwords do not match".
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return strings.Join(v, "; ")
}

// NewValidationErrors builds a ValidationErrors from messages.
func NewValidationErrors(messages ...string) ValidationErrors {
	return ValidationErrors(messages)
}

// IsValidationError reports whether err carries field-level messages.
func IsValidationError(err error) bool {
	var v ValidationErrors
	return goerrors.As(err, &v)
}

// IsConflictError reports whether err is a uniqueness conflict.
func IsConflictError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryConflict
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token has expired") ||
		strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
