package protocol

import (
	"fmt"
	"strings"
	"sync"
)

// UnhandledErrorType is a category of error that has no specific command to report to.
type UnhandledErrorType int

const (
	// UnhandledErrorTypeProtocolError covers messages that are not valid JSON and event
	// params that do not decode into their registered payload type.
	UnhandledErrorTypeProtocolError UnhandledErrorType = iota
	// UnhandledErrorTypeUnknownMessage covers messages that match no known shape.
	UnhandledErrorTypeUnknownMessage
	// UnhandledErrorTypeUnexpectedError covers error responses with no pending command.
	UnhandledErrorTypeUnexpectedError
	// UnhandledErrorTypeEventHandlerError covers failures inside event subscribers.
	UnhandledErrorTypeEventHandlerError
)

// UnhandledErrorTypes lists every category.
var UnhandledErrorTypes = []UnhandledErrorType{
	UnhandledErrorTypeProtocolError,
	UnhandledErrorTypeUnknownMessage,
	UnhandledErrorTypeUnexpectedError,
	UnhandledErrorTypeEventHandlerError,
}

func (t UnhandledErrorType) String() string {
	switch t {
	case UnhandledErrorTypeProtocolError:
		return "protocol error"
	case UnhandledErrorTypeUnknownMessage:
		return "unknown message"
	case UnhandledErrorTypeUnexpectedError:
		return "unexpected error"
	case UnhandledErrorTypeEventHandlerError:
		return "event handler error"
	default:
		return fmt.Sprintf("UnhandledErrorType(%d)", int(t))
	}
}

// UnhandledErrorBehavior is what happens when an error of some category is recorded.
type UnhandledErrorBehavior int

const (
	// UnhandledErrorBehaviorIgnore drops the error without storing it.
	UnhandledErrorBehaviorIgnore UnhandledErrorBehavior = iota
	// UnhandledErrorBehaviorCollect stores the error for the aggregate.
	UnhandledErrorBehaviorCollect
	// UnhandledErrorBehaviorTerminate stores the error and marks the connection broken.
	UnhandledErrorBehaviorTerminate
)

func (b UnhandledErrorBehavior) String() string {
	switch b {
	case UnhandledErrorBehaviorIgnore:
		return "ignore"
	case UnhandledErrorBehaviorCollect:
		return "collect"
	case UnhandledErrorBehaviorTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("UnhandledErrorBehavior(%d)", int(b))
	}
}

// ParseUnhandledErrorBehavior parses "ignore", "collect" or "terminate".
func ParseUnhandledErrorBehavior(s string) (UnhandledErrorBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return UnhandledErrorBehaviorIgnore, nil
	case "collect":
		return UnhandledErrorBehaviorCollect, nil
	case "terminate":
		return UnhandledErrorBehaviorTerminate, nil
	default:
		return UnhandledErrorBehaviorIgnore, fmt.Errorf("unknown unhandled error behavior %q", s)
	}
}

// UnmarshalText lets behaviors be read from configuration files.
func (b *UnhandledErrorBehavior) UnmarshalText(text []byte) error {
	v, err := ParseUnhandledErrorBehavior(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// MarshalText renders the behavior name.
func (b UnhandledErrorBehavior) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnhandledErrors applies the per-category policy and accumulates what it is told to
// keep. It is safe for concurrent use.
type UnhandledErrors struct {
	mu        sync.Mutex
	behaviors map[UnhandledErrorType]UnhandledErrorBehavior
	errors    []*UnhandledError
	terminal  bool
	reason    string
}

// NewUnhandledErrors creates a policy. Categories absent from behaviors are ignored.
func NewUnhandledErrors(behaviors map[UnhandledErrorType]UnhandledErrorBehavior) *UnhandledErrors {
	u := &UnhandledErrors{behaviors: make(map[UnhandledErrorType]UnhandledErrorBehavior)}
	for t, b := range behaviors {
		u.behaviors[t] = b
	}
	return u
}

// SetBehavior changes the behavior of one category.
func (u *UnhandledErrors) SetBehavior(t UnhandledErrorType, b UnhandledErrorBehavior) {
	u.mu.Lock()
	u.behaviors[t] = b
	u.mu.Unlock()
}

// Behavior returns the configured behavior of t.
func (u *UnhandledErrors) Behavior(t UnhandledErrorType) UnhandledErrorBehavior {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.behaviors[t]
}

// Record applies t's behavior to err and returns the behavior used.
func (u *UnhandledErrors) Record(t UnhandledErrorType, err error) UnhandledErrorBehavior {
	u.mu.Lock()
	defer u.mu.Unlock()

	b := u.behaviors[t]
	switch b {
	case UnhandledErrorBehaviorCollect:
		u.errors = append(u.errors, &UnhandledError{Type: t, Err: err})
	case UnhandledErrorBehaviorTerminate:
		u.errors = append(u.errors, &UnhandledError{Type: t, Err: err})
		if !u.terminal {
			u.terminal = true
			u.reason = fmt.Sprintf("%s: %v", t, err)
		}
	}
	return b
}

// Errors returns a copy of everything recorded so far.
func (u *UnhandledErrors) Errors() []*UnhandledError {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*UnhandledError, len(u.errors))
	copy(out, u.errors)
	return out
}

// IsTerminal reports whether a category configured to terminate has fired.
func (u *UnhandledErrors) IsTerminal() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.terminal
}

// TerminalReason describes the first error that made the connection terminal.
func (u *UnhandledErrors) TerminalReason() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reason
}

// Err returns the aggregate of the recorded errors, or nil when nothing was recorded.
func (u *UnhandledErrors) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.errors) == 0 && !u.terminal {
		return nil
	}
	errs := make([]*UnhandledError, len(u.errors))
	copy(errs, u.errors)
	return &UnhandledErrorsError{Errors: errs, TerminalReason: u.reason}
}

// Reset forgets recorded errors and terminal state. Behaviors are kept.
func (u *UnhandledErrors) Reset() {
	u.mu.Lock()
	u.errors = nil
	u.terminal = false
	u.reason = ""
	u.mu.Unlock()
}
