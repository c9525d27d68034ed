package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/machinefabric/bidiwire-go/observable"
)

// PipeOpener opens the pipe pair for one connection. The reader carries messages from
// the remote process, the writer carries messages to it.
type PipeOpener func(ctx context.Context) (io.ReadCloser, io.WriteCloser, error)

// PipeConnection is a Connection over a pair of one-directional pipes. Messages are
// terminated by a single NUL byte in both directions.
type PipeConnection struct {
	opts         Options
	diag         *diagnostics
	dataReceived *observable.Event[DataReceived]
	gate         *sendGate
	open         PipeOpener

	mu      sync.Mutex
	state   connState
	session *pipeSession
}

type pipeSession struct {
	reader io.ReadCloser
	writer io.WriteCloser
	out    *MessageWriter
	id     string
	done   chan struct{}
	ended  atomic.Bool
}

// NewPipeConnection creates a disconnected pipe connection that obtains its pipes
// from open on every Start.
func NewPipeConnection(open PipeOpener, opts Options) *PipeConnection {
	opts = opts.withDefaults()
	return &PipeConnection{
		opts:         opts,
		diag:         newDiagnostics("pipe", opts.Logger),
		dataReceived: observable.New[DataReceived]("pipe.dataReceived"),
		gate:         newSendGate(),
		open:         open,
	}
}

// NewPipeConnectionFromStreams creates a pipe connection over an existing pipe pair.
// The pair can back only one Start; once stopped the connection cannot be restarted.
func NewPipeConnectionFromStreams(r io.ReadCloser, w io.WriteCloser, opts Options) *PipeConnection {
	var used atomic.Bool
	return NewPipeConnection(func(context.Context) (io.ReadCloser, io.WriteCloser, error) {
		if used.Swap(true) {
			return nil, nil, NewConnectionError(ConnectionErrorTypeClosed, "", errors.New("pipes were consumed by an earlier connection"))
		}
		return r, w, nil
	}, opts)
}

// OnDataReceived returns the inbound message event.
func (c *PipeConnection) OnDataReceived() *observable.Event[DataReceived] {
	return c.dataReceived
}

// OnLogMessage returns the diagnostic event.
func (c *PipeConnection) OnLogMessage() *observable.Event[LogMessage] {
	return c.diag.event
}

// ConnectionID returns the identifier of the live pipe pair, or "" when disconnected.
func (c *PipeConnection) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.id
}

// IsActive reports whether the pipes are open and the remote end has not closed its
// side.
func (c *PipeConnection) IsActive() bool {
	return c.activeSession() != nil
}

func (c *PipeConnection) activeSession() *pipeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConnected || c.session == nil || c.session.ended.Load() {
		return nil
	}
	return c.session
}

// Start opens the pipes. target only labels log output; the pipes are the address.
func (c *PipeConnection) Start(ctx context.Context, target string) error {
	c.mu.Lock()
	if c.state != stateDisconnected {
		c.mu.Unlock()
		return NewConnectionError(ConnectionErrorTypeAlreadyConnected, target, nil)
	}
	c.state = stateConnecting
	c.mu.Unlock()

	var r io.ReadCloser
	var w io.WriteCloser
	err := connectWithRetry(ctx, c.opts, c.diag, target, func(ctx context.Context) error {
		var err error
		r, w, err = c.open(ctx)
		return err
	})
	if err != nil {
		c.mu.Lock()
		c.state = stateDisconnected
		c.mu.Unlock()
		return err
	}

	s := &pipeSession{
		reader: r,
		writer: w,
		out:    NewMessageWriter(w, c.opts.MaxMessageSize),
		id:     uuid.NewString(),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.session = s
	c.state = stateConnected
	c.mu.Unlock()

	c.diag.log(slog.LevelInfo, "pipe connection established", "target", target, "connection_id", s.id)
	go c.receiveLoop(s)
	return nil
}

// Send writes data followed by the NUL terminator.
func (c *PipeConnection) Send(ctx context.Context, data []byte) error {
	if !c.IsActive() {
		return NewConnectionError(ConnectionErrorTypeNotActive, "", nil)
	}
	if err := c.gate.acquire(ctx, c.opts.DataTimeout); err != nil {
		return err
	}
	defer c.gate.release()

	s := c.activeSession()
	if s == nil {
		return NewConnectionError(ConnectionErrorTypeNotActive, "", nil)
	}
	if err := c.write(ctx, s, data); err != nil {
		var cerr *ConnectionError
		if errors.As(err, &cerr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return NewConnectionError(ConnectionErrorTypeIo, "writing to pipe", err)
	}
	return nil
}

// write bounds one message write by ctx and the data timeout. A write that gives up
// may have left part of the message on the pipe, so the session is ended and the
// outbound pipe closed, which also releases the blocked writer.
func (c *PipeConnection) write(ctx context.Context, s *pipeSession, data []byte) error {
	written := make(chan error, 1)
	go func() { written <- s.out.WriteMessage(data) }()

	timer := time.NewTimer(c.opts.DataTimeout)
	defer timer.Stop()

	var err error
	select {
	case err := <-written:
		return err
	case <-timer.C:
		err = NewConnectionError(ConnectionErrorTypeSendTimeout,
			fmt.Sprintf("remote end did not read within %s", c.opts.DataTimeout), nil)
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.ended.Store(true)
	if cerr := s.writer.Close(); cerr != nil {
		c.diag.log(slog.LevelDebug, "closing outbound pipe", "connection_id", s.id, "error", cerr)
	}
	c.diag.log(slog.LevelWarn, "pipe write abandoned; session ended", "connection_id", s.id, "error", err)
	return err
}

// Stop closes the outbound pipe, waits up to the shutdown timeout for the remote end
// to close its side, then closes the inbound pipe.
func (c *PipeConnection) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = stateDisconnecting
	s := c.session
	c.mu.Unlock()

	if err := s.writer.Close(); err != nil {
		c.diag.log(slog.LevelDebug, "closing outbound pipe", "connection_id", s.id, "error", err)
	}
	if !waitDone(ctx, s.done, c.opts.ShutdownTimeout) {
		c.diag.log(slog.LevelWarn, "remote end did not close its pipe in time", "connection_id", s.id,
			"timeout", c.opts.ShutdownTimeout)
	}
	if err := s.reader.Close(); err != nil {
		c.diag.log(slog.LevelDebug, "closing inbound pipe", "connection_id", s.id, "error", err)
	}
	<-s.done

	c.mu.Lock()
	c.session = nil
	c.state = stateDisconnected
	c.mu.Unlock()

	c.diag.log(slog.LevelInfo, "pipe connection closed", "connection_id", s.id)
	return nil
}

func (c *PipeConnection) receiveLoop(s *pipeSession) {
	defer close(s.done)

	reader := NewMessageReader(s.reader, c.opts.BufferSize, c.opts.MaxMessageSize)
	for {
		data, err := reader.ReadMessage()
		if err != nil {
			c.handleReceiveError(s, err)
			return
		}
		if err := c.dataReceived.Notify(DataReceived{Data: data}); err != nil {
			c.diag.log(slog.LevelWarn, "data handler failed", "connection_id", s.id, "error", err)
		}
	}
}

func (c *PipeConnection) handleReceiveError(s *pipeSession, err error) {
	s.ended.Store(true)

	c.mu.Lock()
	stopping := c.state == stateDisconnecting && c.session == s
	c.mu.Unlock()

	switch {
	case err == io.EOF:
		c.diag.log(slog.LevelInfo, "remote end closed the pipe", "connection_id", s.id)
	case stopping:
		c.diag.log(slog.LevelDebug, "receive loop stopped", "connection_id", s.id, "error", err)
	default:
		c.diag.log(slog.LevelWarn, "pipe closed abnormally", "connection_id", s.id, "error", err)
	}
}
