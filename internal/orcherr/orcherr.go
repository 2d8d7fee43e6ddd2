// Package orcherr provides the orchestrator's kind-tagged error type.
package orcherr

import "fmt"

// Kind is a coarse error taxonomy, not a type name: it groups errors by
// where they originate so callers can branch on category rather than on
// sentinel values.
type Kind string

const (
	KindSDK        Kind = "sdk"        // startup, streaming, interrupt
	KindSession    Kind = "session"    // invalid state transition, cascade anomaly
	KindStorage    Kind = "storage"    // permission, I/O, JSON parse
	KindNetwork    Kind = "network"    // transport close during send
	KindValidation Kind = "validation" // bad parameters, non-unique names, caps exceeded
	KindSystem     Kind = "system"     // timeouts, resource exhaustion
)

// Severity is the operational urgency of an error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is a kind-tagged error carrying structured fields rather than
// just a message.
type Error struct {
	Kind      Kind
	Message   string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("[%s] session %s: %s", e.Kind, e.SessionID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Severity maps the error's kind to its operational severity. Validation
// errors are low severity; storage/SDK/network are medium; session-state
// violations are high; system errors are critical. An unrecognised kind
// is medium.
func (e *Error) Severity() Severity {
	switch e.Kind {
	case KindValidation:
		return SeverityLow
	case KindStorage, KindSDK, KindNetwork:
		return SeverityMedium
	case KindSession:
		return SeverityHigh
	case KindSystem:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// New constructs a Kind error without a session or wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a Kind error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithSession attaches a session id to the error for logging/telemetry.
func (e *Error) WithSession(sid string) *Error {
	e.SessionID = sid
	return e
}

// Is reports whether the first *Error in err's Unwrap chain (err itself
// included) carries the given Kind; an *Error wrapped inside that one is
// not consulted.
func Is(err error, kind Kind) bool {
	for err != nil {
		if oe, ok := err.(*Error); ok {
			return oe.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
