package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// ErrStaleStatus is returned by a guarded status update whose precondition no longer holds.
var ErrStaleStatus = errors.New("status changed concurrently")

type FailureKind string

const (
	FailureExternal    FailureKind = "external"
	FailureValidation  FailureKind = "validation"
	FailureTimeout     FailureKind = "timeout"
	FailurePersistence FailureKind = "persistence"
	FailureFatal       FailureKind = "fatal"
)

// Failure is the typed error every public engine operation returns.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func External(err error, reason string) *Failure {
	return &Failure{Kind: FailureExternal, Reason: reason, Err: err}
}

func Validation(reason string) *Failure {
	return &Failure{Kind: FailureValidation, Reason: reason}
}

func Timeout(reason string) *Failure {
	return &Failure{Kind: FailureTimeout, Reason: reason}
}

func Persistence(err error, reason string) *Failure {
	return &Failure{Kind: FailurePersistence, Reason: reason, Err: err}
}

func Fatal(err error, reason string) *Failure {
	return &Failure{Kind: FailureFatal, Reason: reason, Err: err}
}

// KindOf extracts the failure kind, or "" when err is not a *Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
