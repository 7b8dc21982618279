package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure
type Kind int

const (
	// NetworkFailure the service could not be reached, or its response could not be read
	NetworkFailure Kind = iota + 1
	// ProtocolFailure the service answered with a non-success status
	ProtocolFailure
)

func (k Kind) String() string {
	switch k {
	case NetworkFailure:
		return "network"
	case ProtocolFailure:
		return "protocol"
	default:
		return "unknown"
	}
}

var (
	// ErrNetwork matches every NetworkFailure with errors.Is
	ErrNetwork = errors.New("gateway: network failure")
	// ErrProtocol matches every ProtocolFailure with errors.Is
	ErrProtocol = errors.New("gateway: protocol failure")
)

// Error a classified gateway failure
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int    // set for ProtocolFailure
	Message    string // surfaced error message
	Err        error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Kind == ProtocolFailure {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == NetworkFailure
	case ErrProtocol:
		return e.Kind == ProtocolFailure
	}
	return false
}

// IsNetwork reports whether err is a NetworkFailure
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsProtocol reports whether err is a ProtocolFailure
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// StatusCode returns the HTTP status of a ProtocolFailure, 0 otherwise
func StatusCode(err error) int {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Kind == ProtocolFailure {
		return gwErr.StatusCode
	}
	return 0
}
