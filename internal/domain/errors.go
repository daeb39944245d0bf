// Package domain provides shared domain-level sentinel errors and IO error
// classification.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict or an illegal
// status transition.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrInvalidInput indicates malformed input that must never be retried,
// such as a vector layer passed to the zonal engine.
var ErrInvalidInput = errors.New("invalid input")

// ErrBadConfiguration indicates a scenario or goal configuration that
// references something that does not exist, such as an unknown aggregation.
var ErrBadConfiguration = errors.New("bad configuration")

// ErrNoCoverage indicates a datalayer that covers zero stands in scope.
// Callers record null metrics and continue.
var ErrNoCoverage = errors.New("datalayer has no coverage over the requested stands")

// Optimizer outcomes. The workflow coordinator maps these onto scenario
// result statuses.
var (
	ErrOptimizerTimeout    = errors.New("optimizer timed out")
	ErrOptimizerInfeasible = errors.New("optimizer reported infeasible")
	ErrOptimizerPanic      = errors.New("optimizer failed unexpectedly")
)

// IOError classifies a raster or broker IO failure as transient (retry with
// backoff) or permanent (fail the current task immediately).
type IOError struct {
	Transient bool
	Err       error
}

func (e *IOError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient io: %v", e.Err)
	}
	return fmt.Sprintf("permanent io: %v", e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// TransientIO wraps err as a retryable IO failure.
func TransientIO(err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Transient: true, Err: err}
}

// PermanentIO wraps err as a non-retryable IO failure.
func PermanentIO(err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Transient: false, Err: err}
}

// IsTransientIO reports whether err is classified as transient IO.
func IsTransientIO(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr) && ioErr.Transient
}

// IsPermanentIO reports whether err is classified as permanent IO.
func IsPermanentIO(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr) && !ioErr.Transient
}
