package transport

import "fmt"

// ConnectionErrorType classifies a ConnectionError.
type ConnectionErrorType int

const (
	ConnectionErrorTypeConnectTimeout ConnectionErrorType = iota
	ConnectionErrorTypeAlreadyConnected
	ConnectionErrorTypeNotActive
	ConnectionErrorTypeSendTimeout
	ConnectionErrorTypeMessageTooLarge
	ConnectionErrorTypeInvalidMessage
	ConnectionErrorTypeClosed
	ConnectionErrorTypeIo
)

// ConnectionError represents errors from a duplex connection.
type ConnectionError struct {
	Type    ConnectionErrorType
	Message string
	Err     error
}

// Sentinels for errors.Is. Matching compares Type only.
var (
	ErrConnectTimeout   = &ConnectionError{Type: ConnectionErrorTypeConnectTimeout}
	ErrAlreadyConnected = &ConnectionError{Type: ConnectionErrorTypeAlreadyConnected}
	ErrNotActive        = &ConnectionError{Type: ConnectionErrorTypeNotActive}
	ErrSendTimeout      = &ConnectionError{Type: ConnectionErrorTypeSendTimeout}
	ErrMessageTooLarge  = &ConnectionError{Type: ConnectionErrorTypeMessageTooLarge}
	ErrInvalidMessage   = &ConnectionError{Type: ConnectionErrorTypeInvalidMessage}
	ErrClosed           = &ConnectionError{Type: ConnectionErrorTypeClosed}
)

// NewConnectionError builds a ConnectionError of the given type.
func NewConnectionError(t ConnectionErrorType, message string, cause error) *ConnectionError {
	return &ConnectionError{Type: t, Message: message, Err: cause}
}

func (e *ConnectionError) Error() string {
	var s string
	switch e.Type {
	case ConnectionErrorTypeConnectTimeout:
		s = fmt.Sprintf("timed out connecting: %s", e.Message)
	case ConnectionErrorTypeAlreadyConnected:
		s = "already connected"
	case ConnectionErrorTypeNotActive:
		s = "connection is not active"
	case ConnectionErrorTypeSendTimeout:
		s = fmt.Sprintf("timed out waiting to send: %s", e.Message)
	case ConnectionErrorTypeMessageTooLarge:
		s = fmt.Sprintf("message too large: %s", e.Message)
	case ConnectionErrorTypeInvalidMessage:
		s = fmt.Sprintf("invalid message: %s", e.Message)
	case ConnectionErrorTypeClosed:
		s = "connection is closed"
	case ConnectionErrorTypeIo:
		s = fmt.Sprintf("I/O error: %s", e.Message)
	default:
		s = fmt.Sprintf("connection error: %s", e.Message)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ConnectionError of the same type.
func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && t.Type == e.Type
}
