package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/machinefabric/bidiwire-go/observable"
)

// WebSocketConnection is a Connection over a client WebSocket.
type WebSocketConnection struct {
	opts         Options
	diag         *diagnostics
	dataReceived *observable.Event[DataReceived]
	gate         *sendGate
	dialer       *websocket.Dialer

	mu      sync.Mutex
	state   connState
	url     string
	session *wsSession
}

// wsSession is one live socket. A new one is created by every Start.
type wsSession struct {
	conn      *websocket.Conn
	id        string
	done      chan struct{} // closed when the receive loop exits
	closeSent atomic.Bool
	ended     atomic.Bool
}

// NewWebSocketConnection creates a disconnected WebSocket connection.
func NewWebSocketConnection(opts Options) *WebSocketConnection {
	opts = opts.withDefaults()
	return &WebSocketConnection{
		opts:         opts,
		diag:         newDiagnostics("websocket", opts.Logger),
		dataReceived: observable.New[DataReceived]("websocket.dataReceived"),
		gate:         newSendGate(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.StartupTimeout,
			ReadBufferSize:   opts.BufferSize,
			WriteBufferSize:  opts.BufferSize,
		},
	}
}

// OnDataReceived returns the inbound message event.
func (c *WebSocketConnection) OnDataReceived() *observable.Event[DataReceived] {
	return c.dataReceived
}

// OnLogMessage returns the diagnostic event.
func (c *WebSocketConnection) OnLogMessage() *observable.Event[LogMessage] {
	return c.diag.event
}

// URL returns the URL of the last Start.
func (c *WebSocketConnection) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// ConnectionID returns the identifier of the live socket, or "" when disconnected.
func (c *WebSocketConnection) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.id
}

// IsActive reports whether the socket is connected and has not been closed by the
// remote end.
func (c *WebSocketConnection) IsActive() bool {
	return c.activeSession() != nil
}

func (c *WebSocketConnection) activeSession() *wsSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConnected || c.session == nil || c.session.ended.Load() {
		return nil
	}
	return c.session
}

// Start dials url, retrying until the startup timeout elapses.
func (c *WebSocketConnection) Start(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.state != stateDisconnected {
		c.mu.Unlock()
		return NewConnectionError(ConnectionErrorTypeAlreadyConnected, url, nil)
	}
	c.state = stateConnecting
	c.url = url
	c.mu.Unlock()

	var conn *websocket.Conn
	err := connectWithRetry(ctx, c.opts, c.diag, url, func(ctx context.Context) error {
		ws, _, err := c.dialer.DialContext(ctx, url, nil)
		if err != nil {
			return err
		}
		conn = ws
		return nil
	})
	if err != nil {
		c.mu.Lock()
		c.state = stateDisconnected
		c.mu.Unlock()
		return err
	}

	s := &wsSession{conn: conn, id: uuid.NewString(), done: make(chan struct{})}
	conn.SetReadLimit(int64(c.opts.MaxMessageSize))
	conn.SetCloseHandler(c.closeHandler(s))

	c.mu.Lock()
	c.session = s
	c.state = stateConnected
	c.mu.Unlock()

	c.diag.log(slog.LevelInfo, "connection established", "url", url, "connection_id", s.id)
	go c.receiveLoop(s)
	return nil
}

// Send writes data as one text message.
func (c *WebSocketConnection) Send(ctx context.Context, data []byte) error {
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
	if err := s.conn.SetWriteDeadline(time.Now().Add(c.opts.DataTimeout)); err != nil {
		return NewConnectionError(ConnectionErrorTypeIo, "setting write deadline", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return NewConnectionError(ConnectionErrorTypeIo, "writing message", err)
	}
	return nil
}

// Stop performs the close handshake, bounded by the shutdown timeout, and releases
// the socket. Calling Stop on a disconnected connection does nothing.
func (c *WebSocketConnection) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = stateDisconnecting
	s := c.session
	c.mu.Unlock()

	if s.closeSent.CompareAndSwap(false, true) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.ShutdownTimeout)); err != nil {
			c.diag.log(slog.LevelDebug, "sending close frame failed", "connection_id", s.id, "error", err)
		}
	}

	if !waitDone(ctx, s.done, c.opts.ShutdownTimeout) {
		c.diag.log(slog.LevelWarn, "close handshake did not complete in time", "connection_id", s.id,
			"timeout", c.opts.ShutdownTimeout)
	}
	if err := s.conn.Close(); err != nil {
		c.diag.log(slog.LevelDebug, "closing socket", "connection_id", s.id, "error", err)
	}
	<-s.done

	c.mu.Lock()
	c.session = nil
	c.state = stateDisconnected
	c.mu.Unlock()

	c.diag.log(slog.LevelInfo, "connection closed", "connection_id", s.id)
	return nil
}

func (c *WebSocketConnection) closeHandler(s *wsSession) func(code int, text string) error {
	return func(code int, text string) error {
		c.diag.log(slog.LevelDebug, "close frame received", "connection_id", s.id, "code", code, "reason", text)
		if s.closeSent.CompareAndSwap(false, true) {
			msg := websocket.FormatCloseMessage(code, "")
			if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.ShutdownTimeout)); err != nil {
				c.diag.log(slog.LevelDebug, "acknowledging close frame failed", "connection_id", s.id, "error", err)
			}
		}
		return nil
	}
}

// receiveLoop is the only reader of s.conn.
func (c *WebSocketConnection) receiveLoop(s *wsSession) {
	defer close(s.done)

	for {
		_, r, err := s.conn.NextReader()
		if err != nil {
			c.handleReceiveError(s, err)
			return
		}
		data, err := c.readMessage(r)
		if err != nil {
			c.handleReceiveError(s, err)
			return
		}
		if err := c.dataReceived.Notify(DataReceived{Data: data}); err != nil {
			c.diag.log(slog.LevelWarn, "data handler failed", "connection_id", s.id, "error", err)
		}
	}
}

// readMessage accumulates every fragment of one message.
func (c *WebSocketConnection) readMessage(r io.Reader) ([]byte, error) {
	message := make([]byte, 0, c.opts.BufferSize)
	chunk := make([]byte, c.opts.BufferSize)
	for {
		n, err := r.Read(chunk)
		message = append(message, chunk[:n]...)
		if err == io.EOF {
			return message, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *WebSocketConnection) handleReceiveError(s *wsSession, err error) {
	s.ended.Store(true)

	c.mu.Lock()
	stopping := c.state == stateDisconnecting && c.session == s
	c.mu.Unlock()

	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.diag.log(slog.LevelInfo, "connection closed by close handshake", "connection_id", s.id)
	case stopping:
		c.diag.log(slog.LevelDebug, "receive loop stopped", "connection_id", s.id, "error", err)
	default:
		c.diag.log(slog.LevelWarn, "connection closed abnormally", "connection_id", s.id, "error", err)
	}
}
