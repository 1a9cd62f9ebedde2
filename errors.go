package irc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors identifying the taxonomy described in the package's
// error handling design. Use errors.Is against these, or errors.As
// against the wrapping *Error type to recover the Reason string.
var (
	ErrInvalidMessage    = errors.New("irc: invalid message")
	ErrInvalidArgument   = errors.New("irc: invalid argument")
	ErrCommandTooLong    = errors.New("irc: command too long")
	ErrTransport         = errors.New("irc: transport error")
	ErrProtocolViolation = errors.New("irc: protocol violation")
	ErrCancelled         = errors.New("irc: cancelled")
	ErrConnectExhausted  = errors.New("irc: all servers exhausted")
	ErrRateLimitRejected = errors.New("irc: rate limit rejected")
	ErrBadState          = errors.New("irc: inconsistent state")
	ErrDisposed          = errors.New("irc: use after dispose")
)

// Error wraps a sentinel from the taxonomy above with a human-readable
// reason and, where one exists, the underlying cause.
type Error struct {
	sentinel error
	Reason   string
	cause    error
}

func newError(sentinel error, reason string) *Error {
	return &Error{sentinel: sentinel, Reason: reason}
}

func wrapError(sentinel error, reason string, cause error) *Error {
	return &Error{sentinel: sentinel, Reason: reason, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.sentinel, e.Reason, e.cause)
	}
	if e.Reason == "" {
		return e.sentinel.Error()
	}
	return fmt.Sprintf("%s: %s", e.sentinel, e.Reason)
}

func (e *Error) Unwrap() error { return e.sentinel }

// Cause returns the error that triggered this one, if any.
func (e *Error) Cause() error { return e.cause }

func invalidMessage(reason string) *Error { return newError(ErrInvalidMessage, reason) }
func invalidArgument(reason string) *Error { return newError(ErrInvalidArgument, reason) }
func commandTooLong(reason string) *Error { return newError(ErrCommandTooLong, reason) }
func transportErr(reason string, cause error) *Error {
	return wrapError(ErrTransport, reason, cause)
}
func protocolViolation(reason string) *Error { return newError(ErrProtocolViolation, reason) }
func cancelled(reason string) *Error { return newError(ErrCancelled, reason) }
func connectExhausted(reason string) *Error { return newError(ErrConnectExhausted, reason) }
func rateLimitRejected(reason string) *Error { return newError(ErrRateLimitRejected, reason) }
func badState(reason string) *Error { return newError(ErrBadState, reason) }
func disposed() *Error { return newError(ErrDisposed, "") }
