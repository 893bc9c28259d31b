// Package xerrors implements the error taxonomy from the deployment core's
// design (validation, configuration, resolution, runtime, transient,
// shutdown-race) on top of github.com/pkg/errors, so every error surfaced to
// a done handler or warnings list carries a reconstructable cause chain.
package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error along the axis a caller actually needs to act
// on: is this the caller's fault (validation/configuration), a resolution
// failure, a runtime fault, a transient condition worth retrying, or a
// shutdown race.
type Kind int

const (
	KindValidation Kind = iota
	KindConfiguration
	KindResolution
	KindRuntime
	KindTransient
	KindShutdownRace
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindResolution:
		return "resolution"
	case KindRuntime:
		return "runtime"
	case KindTransient:
		return "transient"
	case KindShutdownRace:
		return "shutdown-race"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Cause() makes it compatible with
// github.com/pkg/errors' Cause()/Unwrap() chain walking.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg, err: errors.New(msg)}
}

func Newf(kind Kind, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{kind: kind, msg: msg, err: errors.New(msg)}
}

// Wrap annotates err with msg, tagging it with kind. A nil err yields a nil
// *Error so call sites can do `if e := xerrors.Wrap(...); e != nil { ... }`.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: errors.Wrap(err, msg)}
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Cause() error  { return errors.Cause(e.err) }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }

// Is reports whether err is an *Error of the given kind, walking the chain.
func Is(err error, kind Kind) bool {
	var xe *Error
	for err != nil {
		if x, ok := err.(*Error); ok {
			xe = x
			break
		}
		err = errors.Unwrap(err)
	}
	return xe != nil && xe.kind == kind
}
