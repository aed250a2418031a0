// Package outcome defines the run-level error taxonomy and the terminal state
// of one report cycle. Errors are classified at the point of failure by
// attaching a Category to the error value; nothing downstream inspects error
// text to decide how a run ended.
package outcome

import (
	"errors"
	"fmt"
)

// Category classifies why a report cycle failed. Categories are mutually
// exclusive and map 1:1 onto process exit codes.
type Category int

const (
	General Category = iota
	Configuration
	Database
	Authentication
	Email
	AlreadyRunning
)

func (c Category) String() string {
	switch c {
	case Configuration:
		return "Configuration"
	case Database:
		return "Database"
	case Authentication:
		return "Authentication"
	case Email:
		return "Email"
	case AlreadyRunning:
		return "AlreadyRunning"
	default:
		return "General"
	}
}

// ExitCode returns the process exit code contracted with the scheduler.
// Authentication failures share the database code: monitoring treats both as
// "could not reach the data layer".
func (c Category) ExitCode() int {
	switch c {
	case Configuration:
		return 2
	case Database, Authentication:
		return 3
	case Email:
		return 4
	case AlreadyRunning:
		return 5
	default:
		return 1
	}
}

// Error is an error carrying its run-level category.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Category.String() + " error"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches a category to err. Returns nil for a nil err. If err already
// carries a category it is kept; the first classification wins because it was
// made closest to the failure.
func Wrap(c Category, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Category: c, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(c Category, format string, args ...any) error {
	return &Error{Category: c, Err: fmt.Errorf(format, args...)}
}

// CategoryOf extracts the category from an error chain, defaulting to General
// for unclassified errors.
func CategoryOf(err error) Category {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return General
}

// Outcome is the terminal state of one report cycle.
type Outcome struct {
	Success     bool
	ChangeCount int
	Category    Category
	Err         error
}

// Succeeded builds a successful outcome for a run that reported count changes.
func Succeeded(count int) Outcome {
	return Outcome{Success: true, ChangeCount: count}
}

// Failed builds a failure outcome, deriving the category from the error.
func Failed(err error) Outcome {
	return Outcome{Success: false, Category: CategoryOf(err), Err: err}
}

// ExitCode maps the outcome onto the scheduler contract: 0 on success,
// a category-specific non-zero code otherwise.
func (o Outcome) ExitCode() int {
	if o.Success {
		return 0
	}
	return o.Category.ExitCode()
}
