package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/machinefabric/bidiwire-go/observable"
	"github.com/machinefabric/bidiwire-go/transport"
)

type routerState int

const (
	routerDisconnected routerState = iota
	routerConnecting
	routerConnected
	routerDisconnecting
)

// Router sends commands over a transport.Connection, matches responses to the commands
// that requested them and dispatches events to subscribers.
//
// Inbound messages are handled one at a time, in arrival order, on a single goroutine.
// Event handlers run on that goroutine, so a slow handler delays every later response
// and event.
//
// When the remote end closes the connection the router does not disconnect itself.
// IsConnected reports false and sends fail with the connection's not-active error,
// but commands already pending stay pending until their context ends or Disconnect
// cancels them.
type Router struct {
	conn      transport.Connection
	opts      RouterOptions
	logger    *slog.Logger
	registry  *EventRegistry
	unhandled *UnhandledErrors
	ids       commandIDAllocator

	eventsMu        sync.Mutex
	events          map[string]*observable.Event[EventMessage]
	anyEvent        *observable.Event[EventMessage]
	unexpectedError *observable.Event[ErrorResponse]
	unknownMessage  *observable.Event[UnknownMessage]

	mu        sync.Mutex
	state     routerState
	commands  *CommandCollection
	queue     *messageQueue
	dataSub   observable.Subscription
	drained   chan struct{}
	done      chan struct{}
	abandoned map[int64]struct{}
}

// NewRouter creates a disconnected router over conn.
func NewRouter(conn transport.Connection, opts RouterOptions) *Router {
	opts = opts.withDefaults()
	r := &Router{
		conn:            conn,
		opts:            opts,
		logger:          opts.Logger.With("component", "router"),
		registry:        NewEventRegistry(),
		unhandled:       NewUnhandledErrors(opts.UnhandledErrors),
		events:          make(map[string]*observable.Event[EventMessage]),
		anyEvent:        observable.New[EventMessage]("router.eventReceived"),
		unexpectedError: observable.New[ErrorResponse]("router.unexpectedError"),
		unknownMessage:  observable.New[UnknownMessage]("router.unknownMessage"),
	}
	r.anyEvent.SetAsyncFailureHandler(r.recordHandlerError)
	r.unexpectedError.SetAsyncFailureHandler(r.recordHandlerError)
	r.unknownMessage.SetAsyncFailureHandler(r.recordHandlerError)
	return r
}

// Connection returns the underlying connection.
func (r *Router) Connection() transport.Connection {
	return r.conn
}

// UnhandledErrors returns the router's unhandled error policy.
func (r *Router) UnhandledErrors() *UnhandledErrors {
	return r.unhandled
}

// Events returns the event payload registry.
func (r *Router) Events() *EventRegistry {
	return r.registry
}

// RegisterEventType sets the payload factory used to decode the params of method.
// A nil factory delivers params as json.RawMessage.
func (r *Router) RegisterEventType(method string, newPayload func() any) {
	r.registry.Register(method, newPayload)
}

// OnEventReceived returns the event for messages with the given method.
func (r *Router) OnEventReceived(method string) *observable.Event[EventMessage] {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	e, ok := r.events[method]
	if !ok {
		e = observable.New[EventMessage](method)
		e.SetAsyncFailureHandler(r.recordHandlerError)
		r.events[method] = e
	}
	return e
}

// OnAnyEvent returns the event fired for every dispatched event, before the
// method-specific one.
func (r *Router) OnAnyEvent() *observable.Event[EventMessage] {
	return r.anyEvent
}

// OnUnexpectedError returns the event for error responses with no pending command.
func (r *Router) OnUnexpectedError() *observable.Event[ErrorResponse] {
	return r.unexpectedError
}

// OnUnknownMessage returns the event for messages that match no known shape.
func (r *Router) OnUnknownMessage() *observable.Event[UnknownMessage] {
	return r.unknownMessage
}

// OnLogMessage returns the connection's diagnostic event.
func (r *Router) OnLogMessage() *observable.Event[transport.LogMessage] {
	return r.conn.OnLogMessage()
}

// IsConnected reports whether commands can be sent. It turns false as soon as the
// connection's session ends, including when the remote end closes it.
func (r *Router) IsConnected() bool {
	r.mu.Lock()
	connected := r.state == routerConnected
	r.mu.Unlock()
	return connected && r.conn.IsActive()
}

// PendingCommands returns the number of commands awaiting a response.
func (r *Router) PendingCommands() int {
	r.mu.Lock()
	commands := r.commands
	r.mu.Unlock()
	if commands == nil {
		return 0
	}
	return commands.Len()
}

// Connect starts the connection to target. Command ids restart at 1 and previously
// recorded unhandled errors are forgotten.
func (r *Router) Connect(ctx context.Context, target string) error {
	r.mu.Lock()
	if r.state != routerDisconnected {
		r.mu.Unlock()
		return transport.NewConnectionError(transport.ConnectionErrorTypeAlreadyConnected, target, nil)
	}
	r.state = routerConnecting
	commands := NewCommandCollection()
	q := newMessageQueue()
	drained := make(chan struct{})
	done := make(chan struct{})
	r.commands = commands
	r.queue = q
	r.drained = drained
	r.done = done
	r.abandoned = make(map[int64]struct{})
	r.mu.Unlock()

	r.ids.reset()
	r.unhandled.Reset()

	sub, err := r.conn.OnDataReceived().Subscribe(func(d transport.DataReceived) error {
		if !q.push(d.Data) {
			r.logger.Debug("dropping message received after shutdown")
		}
		return nil
	})
	if err != nil {
		r.resetDisconnected()
		return fmt.Errorf("subscribing to connection data: %w", err)
	}

	go r.processLoop(q, drained, done)

	if err := r.conn.Start(ctx, target); err != nil {
		r.conn.OnDataReceived().Unsubscribe(sub)
		commands.Close()
		q.close()
		<-done
		_ = commands.Clear()
		r.resetDisconnected()
		return err
	}

	r.mu.Lock()
	r.dataSub = sub
	r.state = routerConnected
	r.mu.Unlock()

	r.logger.Info("connected", "target", target, "connection_id", r.conn.ConnectionID())
	return nil
}

func (r *Router) resetDisconnected() {
	r.mu.Lock()
	r.state = routerDisconnected
	r.abandoned = nil
	r.mu.Unlock()
}

// Disconnect shuts the router down. Messages already received are still processed;
// commands still pending afterwards are cancelled. Calling Disconnect when not
// connected does nothing.
//
// With ThrowCollectedOnDisconnect set, the aggregate of the collected unhandled errors
// is returned once shutdown is complete.
func (r *Router) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	if r.state != routerConnected {
		r.mu.Unlock()
		return nil
	}
	r.state = routerDisconnecting
	commands, q, sub, drained, done := r.commands, r.queue, r.dataSub, r.drained, r.done
	r.mu.Unlock()

	commands.Close()

	stopErr := r.conn.Stop(ctx)
	if stopErr != nil {
		r.logger.Warn("stopping connection", "error", stopErr)
	}
	r.conn.OnDataReceived().Unsubscribe(sub)

	q.close()
	<-drained

	if n := commands.Len(); n > 0 {
		r.logger.Debug("cancelling pending commands", "count", n)
	}
	if err := commands.Clear(); err != nil {
		r.logger.Error("clearing pending commands", "error", err)
	}
	<-done

	r.resetDisconnected()
	r.logger.Info("disconnected")

	if r.opts.ThrowCollectedOnDisconnect {
		return errors.Join(stopErr, r.unhandled.Err())
	}
	return stopErr
}

// SendCommand sends params and returns the pending command. Once a category configured
// to terminate has fired, SendCommand fails with the aggregated unhandled errors
// without sending anything.
func (r *Router) SendCommand(ctx context.Context, params CommandParameters, newResult func() any) (*Command, error) {
	cmd, _, err := r.sendCommand(ctx, params, newResult)
	return cmd, err
}

func (r *Router) sendCommand(ctx context.Context, params CommandParameters, newResult func() any) (*Command, *CommandCollection, error) {
	if params == nil {
		return nil, nil, errors.New("command parameters must not be nil")
	}
	if r.unhandled.IsTerminal() {
		return nil, nil, r.unhandled.Err()
	}

	r.mu.Lock()
	state, commands := r.state, r.commands
	r.mu.Unlock()
	if state != routerConnected {
		return nil, nil, transport.NewConnectionError(transport.ConnectionErrorTypeNotActive, "", nil)
	}

	cmd := newCommand(r.ids.next(), params, newResult)
	if err := commands.Add(cmd); err != nil {
		return nil, nil, err
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		commands.Remove(cmd.ID())
		err = newRouterError(RouterErrorTypeSerialization, cmd.label(), err)
		cmd.fail(err)
		return nil, nil, err
	}

	if err := r.conn.Send(ctx, data); err != nil {
		commands.Remove(cmd.ID())
		cmd.fail(err)
		return nil, nil, err
	}

	r.logger.Debug("command sent", "command_id", cmd.ID(), "method", cmd.Method())
	return cmd, commands, nil
}

// ExecuteCommand sends params and waits for the response, at most CommandTimeout or
// until ctx ends. A command that times out is forgotten: its response, should it
// arrive later, is discarded.
func (r *Router) ExecuteCommand(ctx context.Context, params CommandParameters, newResult func() any) (*CommandResult, error) {
	cmd, commands, err := r.sendCommand(ctx, params, newResult)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(r.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case <-cmd.Done():
		return cmd.Result()
	case <-timer.C:
		return r.abandon(cmd, commands, newRouterError(RouterErrorTypeCommandTimeout,
			fmt.Sprintf("%s after %s", cmd.label(), r.opts.CommandTimeout), nil))
	case <-ctx.Done():
		return r.abandon(cmd, commands, ctx.Err())
	}
}

// abandon stops waiting for cmd. If the response won the race, its outcome is returned
// instead of err.
func (r *Router) abandon(cmd *Command, commands *CommandCollection, err error) (*CommandResult, error) {
	if _, ok := commands.Remove(cmd.ID()); !ok {
		<-cmd.Done()
		return cmd.Result()
	}

	r.mu.Lock()
	if r.commands == commands && r.abandoned != nil {
		r.abandoned[cmd.ID()] = struct{}{}
	}
	r.mu.Unlock()

	cmd.fail(err)
	r.logger.Debug("command abandoned", "command_id", cmd.ID(), "method", cmd.Method(), "error", err)
	return nil, err
}

func (r *Router) forgetAbandoned(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.abandoned[id]; ok {
		delete(r.abandoned, id)
		return true
	}
	return false
}

func (r *Router) processLoop(q *messageQueue, drained, done chan struct{}) {
	defer close(done)
	for {
		data, ok := q.pop()
		if !ok {
			break
		}
		r.handleMessage(data)
	}
	close(drained)
	r.logger.Debug("message processing stopped")
}

func (r *Router) currentCommands() *CommandCollection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commands
}

// handleMessage completes a command, publishes an event, or records an unhandled
// error. Exactly one of those happens per message.
func (r *Router) handleMessage(data []byte) {
	msg, err := parseMessage(data)
	if err != nil {
		var unknown *UnknownMessageError
		if errors.As(err, &unknown) {
			r.reportUnknown(data, unknown.Reason)
			return
		}
		r.record(UnhandledErrorTypeProtocolError, err)
		return
	}

	switch msg.kind {
	case MessageTypeSuccess:
		r.handleSuccess(msg)
	case MessageTypeError:
		r.handleError(msg)
	case MessageTypeEvent:
		r.handleEvent(msg)
	}
}

func (r *Router) handleSuccess(msg *inboundMessage) {
	id, ok := msg.id()
	if !ok {
		r.reportUnknown(msg.data, fmt.Sprintf("success response id %s is not a valid command id", msg.fields["id"]))
		return
	}
	cmd, ok := r.currentCommands().Remove(id)
	if !ok {
		if r.forgetAbandoned(id) {
			r.logger.Debug("discarding late response", "command_id", id)
			return
		}
		r.reportUnknown(msg.data, fmt.Sprintf("success response for id %d with no pending command", id))
		return
	}

	value, err := decodeInto(msg.fields["result"], cmd.newResult)
	if err != nil {
		cmd.fail(newRouterError(RouterErrorTypeResultDecode, cmd.label(), err))
		return
	}
	cmd.complete(&CommandResult{
		Value:          value,
		AdditionalData: msg.additionalData("type", "id", "result"),
	})
}

func (r *Router) handleError(msg *inboundMessage) {
	resp, err := msg.errorResponse()
	if err != nil {
		r.record(UnhandledErrorTypeProtocolError, &ProtocolError{Data: msg.data, Err: err})
		return
	}

	if resp.ID != nil {
		if cmd, ok := r.currentCommands().Remove(*resp.ID); ok {
			cmd.fail(&CommandError{
				CommandID:  cmd.ID(),
				Method:     cmd.Method(),
				ErrorType:  resp.ErrorType,
				Message:    resp.Message,
				StackTrace: resp.StackTrace,
			})
			return
		}
		if r.forgetAbandoned(*resp.ID) {
			r.logger.Debug("discarding late error response", "command_id", *resp.ID)
			return
		}
	}

	r.record(UnhandledErrorTypeUnexpectedError, &UnexpectedErrorResponse{Response: resp})
	if err := r.unexpectedError.Notify(resp); err != nil {
		r.recordHandlerError(err)
	}
}

func (r *Router) handleEvent(msg *inboundMessage) {
	method := msg.method()
	newPayload, ok := r.registry.Lookup(method)
	if !ok {
		r.reportUnknown(msg.data, fmt.Sprintf("no payload type registered for event %q", method))
		return
	}

	payload, err := decodeInto(msg.fields["params"], newPayload)
	if err != nil {
		r.record(UnhandledErrorTypeProtocolError, &ProtocolError{
			Data: msg.data,
			Err:  fmt.Errorf("decoding params of event %q: %w", method, err),
		})
		return
	}

	ev := EventMessage{
		Method:         method,
		Payload:        payload,
		AdditionalData: msg.additionalData("type", "method", "params"),
	}
	if err := r.anyEvent.Notify(ev); err != nil {
		r.recordHandlerError(err)
	}

	r.eventsMu.Lock()
	e := r.events[method]
	r.eventsMu.Unlock()
	if e != nil {
		if err := e.Notify(ev); err != nil {
			r.recordHandlerError(err)
		}
	}
}

func (r *Router) reportUnknown(data []byte, reason string) {
	r.record(UnhandledErrorTypeUnknownMessage, &UnknownMessageError{Data: data, Reason: reason})
	if err := r.unknownMessage.Notify(UnknownMessage{Data: data, Reason: reason}); err != nil {
		r.recordHandlerError(err)
	}
}

func (r *Router) recordHandlerError(err error) {
	r.record(UnhandledErrorTypeEventHandlerError, err)
}

func (r *Router) record(t UnhandledErrorType, err error) {
	switch r.unhandled.Record(t, err) {
	case UnhandledErrorBehaviorTerminate:
		r.logger.Error("unhandled error terminates connection", "category", t.String(), "error", err)
	case UnhandledErrorBehaviorCollect:
		r.logger.Warn("unhandled error collected", "category", t.String(), "error", err)
	default:
		r.logger.Debug("unhandled error ignored", "category", t.String(), "error", err)
	}
}
