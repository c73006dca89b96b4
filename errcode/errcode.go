package errcode

import (
	"context"
	"errors"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }
func (c Code) Code() Code    { return c }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	UnknownCapability Code = "unknown_capability"
	HALNotReady       Code = "hal_not_ready"
	InvalidTopic      Code = "invalid_topic"
	UnknownBus        Code = "unknown_bus"
	Timeout           Code = "timeout"

	// Sensor path.
	Transport     Code = "transport_error" // bus read/write failed (NACK, absent device, timeout)
	Unavailable   Code = "unavailable"     // reading cannot be computed from this calibration
	Uninitialised Code = "uninitialised"   // calibration or fine temperature not established
	UnknownChip   Code = "unknown_chip"    // chip id register did not match

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
// errors.Is(e, code) reports true when e.C == code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap returns err annotated with code and op. A nil err yields nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// New returns a coded error without a cause.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

type coder interface{ Code() Code }

// Of returns the outermost Code in an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// MapDriverErr maps low-level driver errors to a Code.
// Context deadlines surface as Timeout; everything else keeps its own code.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	if c := Of(err); c != Error {
		return c
	}
	if isDeadline(err) {
		return Timeout
	}
	return Error
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
