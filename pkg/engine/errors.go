package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLeaseNotHeld marks a save skipped because another session holds the lease
	ErrLeaseNotHeld = errors.New("engine: lease not held by this session")

	ErrNoDocument       = errors.New("engine: no document open")
	ErrWrongKind        = errors.New("engine: operation not supported for this document kind")
	ErrUnknownAct       = errors.New("engine: unknown act")
	ErrUnknownChapter   = errors.New("engine: unknown chapter")
	ErrUnknownCharacter = errors.New("engine: unknown character")
	ErrUnknownLocation  = errors.New("engine: unknown location")
	ErrLimitExceeded    = errors.New("engine: content limit reached")
	ErrInvalidValue     = errors.New("engine: invalid value")

	// ErrOffline and ErrSignedOut mark edits held back by FlushAll because
	// nothing may be written until connectivity or sign-in returns
	ErrOffline   = errors.New("engine: offline, edits not saved")
	ErrSignedOut = errors.New("engine: signed out, edits not saved")
)

// SaveError is a failed persistence attempt for one unit
type SaveError struct {
	Unit string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save %s: %v", e.Unit, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// FlushError lists every unit FlushAll could not persist
type FlushError struct {
	Failures []*SaveError
}

func (e *FlushError) Error() string {
	units := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		units[i] = f.Unit
	}
	return fmt.Sprintf("flush: %d unit(s) not saved: %s", len(e.Failures), strings.Join(units, ", "))
}

// Units returns the failing unit keys
func (e *FlushError) Units() []string {
	units := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		units[i] = f.Unit
	}
	return units
}

// Unwrap exposes the unit errors to errors.Is and errors.As
func (e *FlushError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
