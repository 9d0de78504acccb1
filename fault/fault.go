// Package fault classifies the errors that can end a run.
package fault

import (
	"github.com/pkg/errors"
)

// Kind is the class of a fault.
type Kind int

const (
	// Configuration faults are raised at construction and never retried.
	Configuration Kind = iota + 1
	// TransientIO covers network hiccups and sensor read glitches.
	TransientIO
	// Safety covers emergency stop and vacuum loss.
	Safety
	// PlanValidation rejects a plan before any motion begins.
	PlanValidation
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case TransientIO:
		return "io"
	case Safety:
		return "safety"
	case PlanValidation:
		return "plan"
	}
	return "unknown"
}

// Sentinels usable as errors.Is targets for a whole Kind.
var (
	ErrConfiguration  = &Error{Kind: Configuration}
	ErrTransientIO    = &Error{Kind: TransientIO}
	ErrSafety         = &Error{Kind: Safety}
	ErrPlanValidation = &Error{Kind: PlanValidation}
)

// Safety faults reported by the feedback monitor.
var (
	ErrEmergencyStop = New(Safety, "emergency stop pressed")
	ErrVacuumLost    = New(Safety, "vacuum lost")
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " fault"
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind when target carries no cause,
// so errors.Is(err, ErrSafety) holds for every safety fault.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// New returns a classified error with a message.
func New(k Kind, msg string) error {
	return &Error{Kind: k, Err: errors.New(msg)}
}

// Errorf returns a classified, formatted error.
func Errorf(k Kind, format string, args ...interface{}) error {
	return &Error{Kind: k, Err: errors.Errorf(format, args...)}
}

// Wrap classifies err. A nil err stays nil.
func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Err: errors.Wrap(err, msg)}
}

// KindOf returns the Kind of the first classified error in the chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
