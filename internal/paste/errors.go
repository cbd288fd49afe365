package paste

import "errors"

var (
	// ErrInvalidInput marks a rejected CreateInput; the concrete error is a *ValidationError.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound covers every reason a paste cannot be served.
	ErrNotFound = errors.New("paste not found")
	// ErrExpired is returned when the deadline has passed. It matches ErrNotFound.
	ErrExpired = unavailable("paste expired")
	// ErrViewLimit is returned when all allowed views are used. It matches ErrNotFound.
	ErrViewLimit = unavailable("paste view limit exceeded")
	// ErrIDGenerationFailed is returned when no free identifier could be obtained.
	ErrIDGenerationFailed = errors.New("failed to generate paste id")
	// ErrStorage wraps failures of the underlying store.
	ErrStorage = errors.New("paste storage failure")
)

type unavailableError struct{ msg string }

func unavailable(msg string) error { return &unavailableError{msg: msg} }

func (e *unavailableError) Error() string { return e.msg }

func (e *unavailableError) Is(target error) bool { return target == ErrNotFound }
