package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRPCFailed matches every error produced by a failed remote call.
	ErrRPCFailed = errors.New("rpc failed")
	// ErrClosed is returned for calls issued after the session was closed.
	ErrClosed = errors.New("session closed")
)

// RPCError describes a failed remote call.
type RPCError struct {
	Procedure string
	Err       error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Procedure, e.Err)
}

// Unwrap exposes both ErrRPCFailed and the underlying cause.
func (e *RPCError) Unwrap() []error {
	return []error{ErrRPCFailed, e.Err}
}
