package command

import (
	"errors"
	"fmt"
)

// The error taxonomy the dispatch loop maps to user-facing replies. Every
// type carries the exact text sent back to the chat; anything else that
// escapes a handler is treated as internal and answered generically.

// ValidationError covers bad arguments, bad duration formats, and missing
// targets. No state change has occurred.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string       { return "validation: " + e.Msg }
func (e *ValidationError) UserMessage() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PermissionError is an insufficient tier/role denial. Not logged as usage.
type PermissionError struct {
	Required Permission
}

func (e *PermissionError) Error() string {
	return "permission: requires " + e.Required.String()
}

func (e *PermissionError) UserMessage() string {
	switch e.Required {
	case PermOwner:
		return "Only the bot owner can use this command."
	case PermAdmin:
		return "Only room admins can use this command."
	default:
		return "You are not allowed to use this command."
	}
}

// QuotaError is an exhausted-allowance denial. Not logged as usage.
type QuotaError struct{}

func (e *QuotaError) Error() string { return "quota exceeded" }
func (e *QuotaError) UserMessage() string {
	return "You've used up your command quota. Upgrade to premium for unlimited access."
}

// NotFoundError covers unknown commands and absent target users.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string       { return "not found: " + e.What }
func (e *NotFoundError) UserMessage() string { return e.What + " not found." }

// UserFacing extracts the reply text when err belongs to the taxonomy above.
// Anything else is internal and must be answered generically.
func UserFacing(err error) (string, bool) {
	var (
		verr *ValidationError
		perr *PermissionError
		qerr *QuotaError
		nerr *NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return verr.UserMessage(), true
	case errors.As(err, &perr):
		return perr.UserMessage(), true
	case errors.As(err, &qerr):
		return qerr.UserMessage(), true
	case errors.As(err, &nerr):
		return nerr.UserMessage(), true
	}
	return "", false
}
