package discovery

import (
	"errors"
	"fmt"
)

// Error codes follow the platform NSD failure codes.
const (
	CodeInternal      = 0
	CodeAlreadyActive = 3
	CodeMaxLimit      = 4
	CodeNotRunning    = 5
	CodeBadParameters = 6
)

var (
	// ErrAlreadyActive is returned when publishing or browsing twice.
	ErrAlreadyActive = errors.New("already active")
	// ErrNotFound is returned by Resolve when the service is unknown.
	ErrNotFound = errors.New("service not found")
	// ErrInvalidServiceType is returned for malformed service types.
	ErrInvalidServiceType = errors.New("invalid service type")
)

// DiscoveryError is an advertise, browse or resolve failure with a platform error code.
type DiscoveryError struct {
	Op   string
	Code int
	Err  error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discovery: %s failed (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("discovery: %s failed (code %d)", e.Op, e.Code)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// NewError wraps err for op. Backends use it to attach a specific code.
func NewError(op string, code int, err error) *DiscoveryError {
	return &DiscoveryError{Op: op, Code: code, Err: err}
}

func asDiscoveryError(op string, err error) *DiscoveryError {
	var de *DiscoveryError
	if errors.As(err, &de) {
		return de
	}
	code := CodeInternal
	switch {
	case errors.Is(err, ErrAlreadyActive):
		code = CodeAlreadyActive
	case errors.Is(err, ErrInvalidServiceType):
		code = CodeBadParameters
	}
	return &DiscoveryError{Op: op, Code: code, Err: err}
}
