package peer

import (
	"errors"
	"fmt"
)

var (
	ErrCapture     = errors.New("media capture failed")
	ErrNegotiation = errors.New("negotiation failed")
	ErrCandidate   = errors.New("ICE candidate rejected")
	ErrWrongRole   = errors.New("operation not valid for this role")
)

// Operation names carried by Error.
const (
	OpStart        = "start"
	OpAcceptOffer  = "accept offer"
	OpAcceptAnswer = "accept answer"
	OpAddCandidate = "add ICE candidate"
)

// Error reports a failed session operation. Err is one of the sentinels above, Cause the
// underlying failure.
type Error struct {
	Op      string
	Role    Role
	Err     error
	Cause   error
	Details string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Role, e.Op, e.Err)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func newError(op string, role Role, sentinel, cause error, details string) *Error {
	return &Error{Op: op, Role: role, Err: sentinel, Cause: cause, Details: details}
}
