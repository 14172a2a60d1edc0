package pv

import "errors"

var (
	ErrNotRegistered = errors.New("not registered in registry")
	ErrTypeMismatch  = errors.New("incompatible types")
	ErrChoiceIndex   = errors.New("choice index out of range")
	ErrDisconnected  = errors.New("not connected")
	ErrClosed        = errors.New("registry closed")
)

// MismatchError reports a payload or binding whose shape disagrees with the
// kind fixed on a handle. It matches ErrTypeMismatch with errors.Is.
type MismatchError struct {
	Name string
	Kind Kind
	Err  error
}

func (e *MismatchError) Error() string {
	msg := "incompatible types for monitor: " + e.Name + " (bound as " + e.Kind.String() + ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MismatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTypeMismatch}
	}
	return []error{ErrTypeMismatch, e.Err}
}
