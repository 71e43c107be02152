package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for authentication.
var (
	// ErrTokenMissing indicates that no token was presented.
	ErrTokenMissing = errors.New("token is missing")

	// ErrTokenMalformed indicates that the token is structurally invalid.
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid indicates that the token failed verification.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenRevoked indicates that the token has been revoked.
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrKeyNotFound indicates that the signing key was not found.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrInvalidKey indicates that the signing key is invalid.
	ErrInvalidKey = errors.New("signing key is invalid")

	// ErrUnsupportedAlgorithm indicates that the signing algorithm is not allowed.
	ErrUnsupportedAlgorithm = errors.New("signing algorithm is not supported")
)

// Stable error codes exposed in rejection bodies.
const (
	CodeTokenMissing            = "token_missing"
	CodeTokenMalformed          = "token_malformed"
	CodeTokenExpired            = "token_expired"
	CodeTokenInvalid            = "token_invalid"
	CodeRateLimited             = "rate_limited"
	CodeInsufficientPermissions = "insufficient_permissions"
	CodeInsufficientRole        = "insufficient_role"
	CodeWrongDepartment         = "wrong_department"
	CodeStoreUnavailable        = "store_unavailable"
)

// CodeForError maps an authentication error to its stable code.
func CodeForError(err error) string {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return CodeTokenMissing
	case errors.Is(err, ErrTokenMalformed):
		return CodeTokenMalformed
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	default:
		return CodeTokenInvalid
	}
}

// VerificationError wraps a token verification failure with detail.
type VerificationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token verification error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("token verification error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *VerificationError) Is(target error) bool {
	_, ok := target.(*VerificationError)
	return ok || errors.Is(e.Cause, target)
}

// NewVerificationError creates a new VerificationError.
func NewVerificationError(message string, cause error) *VerificationError {
	return &VerificationError{Message: message, Cause: cause}
}
