package store

import (
	"errors"
	"fmt"
)

// Kind classifies failures reported by gateways and the cache.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindConfiguration: required settings are missing or invalid.
	KindConfiguration
	// KindConnection: the store could not be reached or the call failed in transit.
	KindConnection
	// KindStoreWrite: the store answered a write with a failure.
	KindStoreWrite
	// KindInvalidArgument: the caller passed an unusable argument.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnection:
		return "connection"
	case KindStoreWrite:
		return "store_write"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Every *Error unwraps to the sentinel of its kind.
var (
	ErrConfiguration   = errors.New("tagcache: configuration error")
	ErrConnection      = errors.New("tagcache: connection error")
	ErrStoreWrite      = errors.New("tagcache: store write error")
	ErrInvalidArgument = errors.New("tagcache: invalid argument")
)

// Error is the uniform failure type. Code and Message carry the store's own
// error code and text when the store supplied them.
type Error struct {
	Kind    Kind
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Code != 0:
		return fmt.Sprintf("%s: %s failed: %s (code %d)", e.Op, e.Kind, msg, e.Code)
	case msg != "":
		return fmt.Sprintf("%s: %s failed: %s", e.Op, e.Kind, msg)
	default:
		return fmt.Sprintf("%s: %s failed", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindConnection:
		return ErrConnection
	case KindStoreWrite:
		return ErrStoreWrite
	case KindInvalidArgument:
		return ErrInvalidArgument
	default:
		return nil
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func ConfigError(op, msg string) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Message: msg}
}

func ConnectionError(op string, err error) *Error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

func WriteError(op string, code int, msg string, err error) *Error {
	return &Error{Kind: KindStoreWrite, Op: op, Code: code, Message: msg, Err: err}
}

func InvalidArgument(op, msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, Message: msg}
}

// Wrap classifies a store error that carries no richer information: an
// existing *Error is returned unchanged, anything else becomes a connection
// error for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return ConnectionError(op, err)
}
