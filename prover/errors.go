package prover

import (
	"errors"
	"fmt"
)

// Backend error kinds. Only ErrBackendUnavailable is worth retrying with
// the same input.
var (
	ErrBackendUnavailable = errors.New("prover: backend unavailable")
	ErrExecutionTrapped   = errors.New("prover: execution trapped")
	ErrProvingTimeout     = errors.New("prover: proving timeout")
)

// ProveError is a failure inside a proving backend. Kind is one of the
// sentinels above; errors.Is matches both Kind and the cause.
type ProveError struct {
	Backend string
	Kind    error
	Err     error
}

func (e *ProveError) Error() string {
	return fmt.Sprintf("%v (%s): %v", e.Kind, e.Backend, e.Err)
}

func (e *ProveError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Retryable reports whether resubmitting the same input may succeed.
func (e *ProveError) Retryable() bool { return e.Kind == ErrBackendUnavailable }

func proveErr(backend string, kind, err error) *ProveError {
	return &ProveError{Backend: backend, Kind: kind, Err: err}
}

// Retryable reports whether err is a retryable backend error.
func Retryable(err error) bool {
	var pe *ProveError
	return errors.As(err, &pe) && pe.Retryable()
}
