package network

import (
	"fmt"
)

// BindError is returned when a listener cannot be opened on the requested port.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ConnectError is returned when a host cannot be reached.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IOError wraps a read or write failure on an established connection.
type IOError struct {
	Op   string // "read" or "write"
	Peer string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// StateError reports an operation invoked in a state that does not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: invalid in state %s", e.Op, e.State)
}
