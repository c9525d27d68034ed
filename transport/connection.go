// Package transport implements the duplex byte channels the protocol runs over: a
// WebSocket connection and a NUL-framed anonymous pipe pair shared with a child process.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/machinefabric/bidiwire-go/observable"
)

// Connection is a live duplex message channel.
//
// Start and Stop may be called repeatedly; Stop is safe without a prior Start. Send
// accepts one complete message; at most one Send is in flight at a time. Each complete
// inbound message is published exactly once through OnDataReceived, from the
// connection's single receive goroutine.
type Connection interface {
	Start(ctx context.Context, target string) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, data []byte) error
	IsActive() bool
	ConnectionID() string
	OnDataReceived() *observable.Event[DataReceived]
	OnLogMessage() *observable.Event[LogMessage]
}

// DataReceived carries one complete inbound message.
type DataReceived struct {
	Data []byte
}

// LogMessage is a diagnostic notification emitted by a connection.
type LogMessage struct {
	Level     slog.Level
	Message   string
	Component string
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateDisconnecting
)

// sendGate admits one sender at a time.
type sendGate struct {
	slot chan struct{}
}

func newSendGate() *sendGate {
	return &sendGate{slot: make(chan struct{}, 1)}
}

func (g *sendGate) acquire(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case g.slot <- struct{}{}:
		return nil
	case <-timer.C:
		return NewConnectionError(ConnectionErrorTypeSendTimeout, "another send is in progress", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *sendGate) release() {
	<-g.slot
}

// diagnostics writes to the logger and republishes on the log event.
type diagnostics struct {
	component string
	logger    *slog.Logger
	event     *observable.Event[LogMessage]
}

func newDiagnostics(component string, logger *slog.Logger) *diagnostics {
	return &diagnostics{
		component: component,
		logger:    logger.With("component", component),
		event:     observable.New[LogMessage](component + ".logMessage"),
	}
}

func (d *diagnostics) log(level slog.Level, msg string, args ...any) {
	d.logger.Log(context.Background(), level, msg, args...)
	_ = d.event.Notify(LogMessage{Level: level, Message: msg, Component: d.component})
}

// waitDone waits for done, giving up after timeout or when ctx ends.
func waitDone(ctx context.Context, done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// connectWithRetry calls attempt until it succeeds or opts.StartupTimeout elapses,
// pausing opts.ConnectRetryInterval between failures.
func connectWithRetry(ctx context.Context, opts Options, diag *diagnostics, target string, attempt func(context.Context) error) error {
	startCtx, cancel := context.WithTimeout(ctx, opts.StartupTimeout)
	defer cancel()

	var lastErr error
	for n := 1; ; n++ {
		err := attempt(startCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		lastErr = err
		diag.log(slog.LevelDebug, "connect attempt failed", "target", target, "attempt", n, "error", err)

		timer := time.NewTimer(opts.ConnectRetryInterval)
		select {
		case <-startCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return NewConnectionError(ConnectionErrorTypeConnectTimeout,
				fmt.Sprintf("no connection to %q within %s", target, opts.StartupTimeout), lastErr)
		case <-timer.C:
		}
	}
}
