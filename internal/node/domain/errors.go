package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBind            = errors.New("socket cannot bind")
	ErrTimeout         = errors.New("operation timed out")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrNullExecuter    = errors.New("null node cannot execute")
	ErrSerialization   = errors.New("malformed envelope")
	ErrUnknownKind     = errors.New("unknown message type")
	ErrNotBound        = errors.New("transport is not bound")
	ErrFingerIndex     = errors.New("finger index out of range")
	ErrLookupExhausted = errors.New("lookup did not converge")
	ErrRemote          = errors.New("remote execution failed")
)

// BindError reports a socket that could not be opened.
type BindError struct {
	Address string
	Port    int
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%v on %s:%d: %v", ErrBind, e.Address, e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

func (e *BindError) Is(target error) bool {
	return target == ErrBind
}

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Op     string
	Target string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
	}
	return fmt.Sprintf("%s timed out for target %s after %s", e.Op, e.Target, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// RemoteError carries the error text a peer sent back.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%v: %s", ErrRemote, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}
