package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrTransient         = errors.New("transient failure")
	ErrInvalidInviteCode = errors.New("invalid invite code")
	ErrExpired           = errors.New("expired")
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
)

type AppError struct {
	Err     error  // one of the sentinels above
	Message string // human-readable
	Field   string // optional field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func PermissionDenied(message string) *AppError {
	return &AppError{
		Err:     ErrPermissionDenied,
		Message: message,
	}
}

func CapacityExceeded(pageIndex, capacity int) *AppError {
	return &AppError{
		Err:     ErrCapacityExceeded,
		Message: fmt.Sprintf("page %d already holds the maximum of %d layers", pageIndex, capacity),
	}
}

// Transient wraps a store or upload failure that survived the retry budget.
func Transient(op string, err error) *AppError {
	return &AppError{
		Err:     ErrTransient,
		Message: fmt.Sprintf("%s failed: %v", op, err),
	}
}

func InvalidInviteCode() *AppError {
	return &AppError{
		Err:     ErrInvalidInviteCode,
		Message: "invite code does not match",
		Field:   "code",
	}
}

func Expired(canvasId string) *AppError {
	return &AppError{
		Err:     ErrExpired,
		Message: fmt.Sprintf("canvas %s has expired", canvasId),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s %s was modified concurrently", resource, id),
	}
}

// Kind returns a machine-readable name for err, used by the REST and websocket layers.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrInvalidInviteCode):
		return "invalid_invite_code"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal_error"
}
