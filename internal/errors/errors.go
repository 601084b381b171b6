package errors

import (
	"errors"
)

// Common error types
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Enforcement and appeal errors
var (
	ErrForbidden             = errors.New("forbidden")
	ErrAlreadyAppealed       = errors.New("violation already appealed")
	ErrAlreadyDismissed      = errors.New("violation already dismissed")
	ErrNoPendingAppeal       = errors.New("no pending appeal")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)

// Code is the machine-readable reason attached to every gate decision.
type Code string

const (
	CodeOK               Code = "ok"
	CodeContentViolation Code = "content_violation"
	CodeUserRestricted   Code = "user_restricted"
	CodeUserSuspended    Code = "user_suspended"
	CodeUserBanned       Code = "user_banned"
	CodeReviewRequired   Code = "review_required"
	CodeInternalError    Code = "internal_error"
	CodeInvalidInput     Code = "invalid_input"
	CodeNotFound         Code = "not_found"
	CodeForbidden        Code = "forbidden"
	CodeConflict         Code = "conflict"
	CodeUnauthorized     Code = "unauthorized"
)

// CodeOf maps an error chain onto its reason code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrAlreadyAppealed), errors.Is(err, ErrAlreadyDismissed), errors.Is(err, ErrNoPendingAppeal):
		return CodeConflict
	case errors.Is(err, ErrClassifierUnavailable):
		return CodeReviewRequired
	default:
		return CodeInternalError
	}
}
