package engine

import (
	"context"
	"errors"
	"fmt"

	pl "github.com/ichiban/prolog/engine"

	"github.com/cognicore/prologd/pkg/prologd/serialization"
)

// AcquisitionError reports an engine that could not be bound to an owner
type AcquisitionError struct {
	Engine string
	Reason string
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire engine %q: %s", e.Engine, e.Reason)
}

// ReleaseError reports a release by a caller that does not hold the engine
type ReleaseError struct {
	Engine string
	Reason string
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("failed to release engine %q: %s", e.Engine, e.Reason)
}

// ResourceError reports an exhausted engine resource, such as the open
// query table of an acquisition
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resource error in %s: %v", e.Op, e.Err)
	}
	return "resource error in " + e.Op
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ConversionError reports an interpreter term that has no portable form,
// or the reverse
type ConversionError struct {
	Description string
}

func (e *ConversionError) Error() string {
	return "term conversion failed: " + e.Description
}

// InvalidOperationError reports a call made in the wrong lifecycle state
type InvalidOperationError struct {
	Op     string
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %s: %s", e.Op, e.Reason)
}

// Exception is an uncaught Prolog exception. Message describes the
// exception term, which Term holds in canonical text form.
type Exception struct {
	Message string
	Term    string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return "Prolog exception: " + e.Term
	}
	return e.Message
}

// thrown is implemented by the interpreter's exception values
type thrown interface {
	error
	Term() pl.Term
}

// exceptionOf describes an exception raised by the interpreter. ok is
// false when err carries no exception term.
func exceptionOf(err error) (*Exception, bool) {
	var th thrown
	if !errors.As(err, &th) {
		return nil, false
	}
	t, cerr := fromNative(th.Term())
	if cerr != nil {
		return &Exception{Message: th.Error()}, true
	}
	exc := &Exception{Message: messageText(t)}
	exc.Term, _ = serialization.ToString(serialization.PrologSerializer{}, t)
	return exc, true
}

// solveError converts the error that ended a query into the one reported
// to callers
func solveError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, errHalt) {
		return &Exception{Message: "No permission to halt the service", Term: "halt"}
	}
	if exc, ok := exceptionOf(err); ok {
		return exc
	}
	return fmt.Errorf("next solution: %w", err)
}

// parseError converts a goal the interpreter could not read
func parseError(err error) error {
	if exc, ok := exceptionOf(err); ok {
		return exc
	}
	return &Exception{Message: "Syntax error: " + err.Error()}
}

// loadFailure converts a source the interpreter refused to load
func loadFailure(err error) error {
	var le *loadError
	if !errors.As(err, &le) {
		return err
	}
	if exc, ok := exceptionOf(le.err); ok {
		return exc
	}
	if errors.Is(le.err, context.Canceled) || errors.Is(le.err, context.DeadlineExceeded) {
		return le.err
	}
	return &Exception{Message: le.err.Error()}
}
