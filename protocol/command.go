// Package protocol correlates commands with their responses and dispatches events for a
// JSON message protocol carried over a transport.Connection.
package protocol

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
)

// CommandParameters is the typed parameter payload of one command.
type CommandParameters interface {
	MethodName() string
}

// ExtensibleParameters carries extra fields that are sent at the top level of the
// command envelope, next to id, method and params.
type ExtensibleParameters interface {
	CommandParameters
	ExtensionData() map[string]any
}

// CommandResult is the outcome of a successful command.
type CommandResult struct {
	// Value is what the result factory produced, decoded from the response's result
	// field. Without a factory it is the raw json.RawMessage.
	Value any
	// AdditionalData holds the response's top-level fields other than type, id and result.
	AdditionalData map[string]json.RawMessage
}

// Command is one outgoing request awaiting exactly one response.
type Command struct {
	id        int64
	params    CommandParameters
	newResult func() any

	once   sync.Once
	done   chan struct{}
	result *CommandResult
	err    error
}

func newCommand(id int64, params CommandParameters, newResult func() any) *Command {
	return &Command{
		id:        id,
		params:    params,
		newResult: newResult,
		done:      make(chan struct{}),
	}
}

// ID returns the command's numeric id.
func (c *Command) ID() int64 {
	return c.id
}

// Method returns the method name of the command's parameters.
func (c *Command) Method() string {
	return c.params.MethodName()
}

// Parameters returns the typed parameter payload.
func (c *Command) Parameters() CommandParameters {
	return c.params
}

// Done is closed once the command has completed, failed, or been cancelled.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (c *Command) Result() (*CommandResult, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, nil
	}
}

// complete, fail and cancel each settle the command; only the first call has any effect.
func (c *Command) complete(result *CommandResult) bool {
	return c.settle(result, nil)
}

func (c *Command) fail(err error) bool {
	return c.settle(nil, err)
}

func (c *Command) cancel() bool {
	return c.settle(nil, newRouterError(RouterErrorTypeCommandCancelled, c.label(), nil))
}

func (c *Command) settle(result *CommandResult, err error) bool {
	settled := false
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
		settled = true
	})
	return settled
}

func (c *Command) label() string {
	return strconv.FormatInt(c.id, 10) + " (" + c.Method() + ")"
}

// MarshalJSON renders the wire envelope. Extension fields are flattened into the top
// level; id, method and params always take precedence over them.
func (c *Command) MarshalJSON() ([]byte, error) {
	envelope := make(map[string]any)
	if ext, ok := c.params.(ExtensibleParameters); ok {
		for k, v := range ext.ExtensionData() {
			envelope[k] = v
		}
	}

	params, err := json.Marshal(c.params)
	if err != nil {
		return nil, err
	}
	if string(params) == "null" {
		params = []byte("{}")
	}

	envelope["id"] = c.id
	envelope["method"] = c.Method()
	envelope["params"] = json.RawMessage(params)
	return json.Marshal(envelope)
}

// commandIDAllocator hands out command ids 1, 2, 3... for one connection.
type commandIDAllocator struct {
	last atomic.Int64
}

func (a *commandIDAllocator) next() int64 {
	return a.last.Add(1)
}

func (a *commandIDAllocator) reset() {
	a.last.Store(0)
}
