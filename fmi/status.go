// Package fmi defines the FMI-like unit contract shared by the plant,
// controller, and supervisor models: lifecycle states, typed value
// references, and the generic get/set dispatch every unit embeds.
package fmi

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status mirrors the FMI3 status enum returned by every unit operation.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusDiscard
	StatusError
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusDiscard:
		return "discard"
	case StatusError:
		return "error"
	case StatusFatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// UnitError wraps an error with the FMI status it corresponds to, so
// callers can branch on severity (discard vs. error vs. fatal) without
// string-matching the message.
type UnitError struct {
	Status Status
	Unit   string
	Err    error
}

func (e *UnitError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("%s: %s: %v", e.Unit, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// NewStatusError builds a UnitError, capturing a stack trace via
// github.com/pkg/errors so the scheduler can log the originating frame of
// a fatal unit failure.
func NewStatusError(status Status, unit string, format string, args ...any) error {
	return &UnitError{
		Status: status,
		Unit:   unit,
		Err:    errors.Errorf(format, args...),
	}
}

// AsStatus extracts the Status from err, defaulting to StatusError when err
// is non-nil but not a *UnitError, and StatusOK when err is nil.
func AsStatus(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *UnitError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusError
}
