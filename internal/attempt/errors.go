// internal/attempt/errors.go
package attempt

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable cause attached to every terminal outcome.
type Reason string

const (
	ReasonConfirmed            Reason = "Confirmed"
	ReasonTransientUI          Reason = "TransientUIError"
	ReasonAmbiguousQuestion    Reason = "AmbiguousQuestion"
	ReasonWidgetMismatch       Reason = "WidgetMismatch"
	ReasonIterationExhausted   Reason = "IterationExhausted"
	ReasonSessionLost          Reason = "SessionLost"
	ReasonStopped              Reason = "Stopped"
	ReasonVerificationFailed   Reason = "VerificationFailed"
	ReasonUnverified           Reason = "Unverified"
	ReasonNoProgressionControl Reason = "NoProgressionControl"
	ReasonAlreadyApplied       Reason = "AlreadyApplied"
	ReasonOpenFailed           Reason = "OpenFailed"
	ReasonTimedOut             Reason = "TimedOut"
)

// Error carries a Reason alongside the underlying cause.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the Reason from an error chain, or "" when there is none.
func ReasonOf(err error) Reason {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// ErrIllegalTransition is returned when a state change is not an edge of the machine.
var ErrIllegalTransition = errors.New("attempt: illegal state transition")
