package authz

import (
	"errors"
	"fmt"
)

// Common authorization errors.
var (
	// ErrAccessDenied indicates that access was denied.
	ErrAccessDenied = errors.New("access denied")

	// ErrNoPrincipal indicates that no principal was found in the context.
	ErrNoPrincipal = errors.New("no principal in context")

	// ErrUnknownRole indicates a role outside the known set.
	ErrUnknownRole = errors.New("unknown role")
)

// DenialError carries the detail of a denied authorization check.
type DenialError struct {
	// Subject is the subject that was denied.
	Subject string

	// Code is the stable denial code (insufficient_permissions,
	// insufficient_role, wrong_department).
	Code string

	// Reason is a human-readable explanation of the denial.
	Reason string
}

// Error returns the error message.
func (e *DenialError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authorization failed: %s", e.Reason)
	}
	return "authorization failed"
}

// Unwrap returns the underlying sentinel.
func (e *DenialError) Unwrap() error {
	return ErrAccessDenied
}

// NewDenialError creates a new DenialError.
func NewDenialError(subject, code, reason string) *DenialError {
	return &DenialError{
		Subject: subject,
		Code:    code,
		Reason:  reason,
	}
}
