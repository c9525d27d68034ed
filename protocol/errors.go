package protocol

import (
	"fmt"
	"strings"
)

// RouterErrorType classifies a RouterError.
type RouterErrorType int

const (
	RouterErrorTypeCollectionClosed RouterErrorType = iota
	RouterErrorTypeDuplicateCommandID
	RouterErrorTypeCollectionOpen
	RouterErrorTypeCommandCancelled
	RouterErrorTypeCommandTimeout
	RouterErrorTypeResultDecode
	RouterErrorTypeSerialization
)

// RouterError represents failures of the command path that are delivered to the
// caller of one command.
type RouterError struct {
	Type    RouterErrorType
	Message string
	Err     error
}

// Sentinels for errors.Is. Matching compares Type only.
var (
	ErrCollectionClosed   = &RouterError{Type: RouterErrorTypeCollectionClosed}
	ErrDuplicateCommandID = &RouterError{Type: RouterErrorTypeDuplicateCommandID}
	ErrCollectionOpen     = &RouterError{Type: RouterErrorTypeCollectionOpen}
	ErrCommandCancelled   = &RouterError{Type: RouterErrorTypeCommandCancelled}
	ErrCommandTimeout     = &RouterError{Type: RouterErrorTypeCommandTimeout}
	ErrResultDecode       = &RouterError{Type: RouterErrorTypeResultDecode}
	ErrSerialization      = &RouterError{Type: RouterErrorTypeSerialization}
)

func newRouterError(t RouterErrorType, message string, cause error) *RouterError {
	return &RouterError{Type: t, Message: message, Err: cause}
}

func (e *RouterError) Error() string {
	var s string
	switch e.Type {
	case RouterErrorTypeCollectionClosed:
		s = "command collection is closed"
	case RouterErrorTypeDuplicateCommandID:
		s = fmt.Sprintf("duplicate command id %s", e.Message)
	case RouterErrorTypeCollectionOpen:
		s = "command collection must be closed before it is cleared"
	case RouterErrorTypeCommandCancelled:
		s = fmt.Sprintf("command %s was cancelled", e.Message)
	case RouterErrorTypeCommandTimeout:
		s = fmt.Sprintf("command %s timed out", e.Message)
	case RouterErrorTypeResultDecode:
		s = fmt.Sprintf("failed to decode result of command %s", e.Message)
	case RouterErrorTypeSerialization:
		s = fmt.Sprintf("failed to serialize command %s", e.Message)
	default:
		s = fmt.Sprintf("router error: %s", e.Message)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a RouterError of the same type.
func (e *RouterError) Is(target error) bool {
	t, ok := target.(*RouterError)
	return ok && t.Type == e.Type
}

// CommandError is an error response the remote end returned for one command.
type CommandError struct {
	CommandID  int64
	Method     string
	ErrorType  string
	Message    string
	StackTrace string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %d (%s) failed: [%s] %s", e.CommandID, e.Method, e.ErrorType, e.Message)
}

// UnhandledError is one recorded error with no specific addressee.
type UnhandledError struct {
	Type UnhandledErrorType
	Err  error
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("unhandled %s: %v", e.Type, e.Err)
}

func (e *UnhandledError) Unwrap() error {
	return e.Err
}

// UnhandledErrorsError aggregates every collected UnhandledError. TerminalReason is set
// when a category configured to terminate fired.
type UnhandledErrorsError struct {
	Errors         []*UnhandledError
	TerminalReason string
}

func (e *UnhandledErrorsError) Error() string {
	var b strings.Builder
	if e.TerminalReason != "" {
		fmt.Fprintf(&b, "connection terminated: %s", e.TerminalReason)
	} else {
		fmt.Fprintf(&b, "%d unhandled error(s)", len(e.Errors))
	}
	for _, err := range e.Errors {
		b.WriteString("\n\t")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *UnhandledErrorsError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}
	return errs
}

// ProtocolError reports an inbound message that could not be parsed.
type ProtocolError struct {
	Data []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// UnknownMessageError reports a well-formed message that matched no known shape.
type UnknownMessageError struct {
	Data   []byte
	Reason string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown message: %s", e.Reason)
}

// UnexpectedErrorResponse reports an error response that matched no pending command.
type UnexpectedErrorResponse struct {
	Response ErrorResponse
}

func (e *UnexpectedErrorResponse) Error() string {
	id := "null"
	switch {
	case e.Response.ID != nil:
		id = fmt.Sprint(*e.Response.ID)
	case len(e.Response.RawID) > 0:
		id = string(e.Response.RawID)
	}
	return fmt.Sprintf("error response for id %s with no pending command: [%s] %s", id, e.Response.ErrorType, e.Response.Message)
}
