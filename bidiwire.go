// Package bidiwire provides flat re-exports of the transport, protocol and config
// packages, plus constructors that wire a Router to a concrete connection.
package bidiwire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/machinefabric/bidiwire-go/config"
	"github.com/machinefabric/bidiwire-go/protocol"
	"github.com/machinefabric/bidiwire-go/transport"
)

// Transport types
type Connection = transport.Connection
type ConnectionError = transport.ConnectionError
type WebSocketConnection = transport.WebSocketConnection
type PipeConnection = transport.PipeConnection
type TransportOptions = transport.Options
type LogMessage = transport.LogMessage

var NewWebSocketConnection = transport.NewWebSocketConnection
var NewPipeConnection = transport.NewPipeConnection
var StartPipeProcess = transport.StartPipeProcess

// Protocol types
type Router = protocol.Router
type RouterOptions = protocol.RouterOptions
type Command = protocol.Command
type CommandParameters = protocol.CommandParameters
type CommandResult = protocol.CommandResult
type CommandError = protocol.CommandError
type EventMessage = protocol.EventMessage
type ErrorResponse = protocol.ErrorResponse
type UnknownMessage = protocol.UnknownMessage
type UnhandledErrorType = protocol.UnhandledErrorType
type UnhandledErrorBehavior = protocol.UnhandledErrorBehavior
type UnhandledErrorsError = protocol.UnhandledErrorsError

var NewRouter = protocol.NewRouter

// Config
type Config = config.Config

var LoadConfig = config.LoadFrom

// NewWebSocketRouter creates a router over a new WebSocket connection. Connect it with
// the endpoint URL.
func NewWebSocketRouter(topts TransportOptions, ropts RouterOptions) *Router {
	return protocol.NewRouter(transport.NewWebSocketConnection(topts), ropts)
}

// NewPipeRouter starts cmd with the protocol on file descriptors 3 and 4 and returns a
// router over those pipes. The caller owns cmd and should Wait for it after
// disconnecting.
func NewPipeRouter(cmd *exec.Cmd, topts TransportOptions, ropts RouterOptions) (*Router, error) {
	conn, err := transport.StartPipeProcess(cmd, topts)
	if err != nil {
		return nil, err
	}
	return protocol.NewRouter(conn, ropts), nil
}

// Session is a router built from configuration together with the address to
// connect it to.
type Session struct {
	*Router
	// Target is passed to Connect: the URL, or the command name for pipes.
	Target string
	// Cmd is the started process for pipe sessions, nil otherwise.
	Cmd *exec.Cmd
}

// Connect connects the router to Target.
func (s *Session) Connect(ctx context.Context) error {
	return s.Router.Connect(ctx, s.Target)
}

// Close disconnects and, for pipe sessions, waits for the process to exit.
func (s *Session) Close(ctx context.Context) error {
	err := s.Router.Disconnect(ctx)
	if s.Cmd != nil {
		if werr := s.Cmd.Wait(); werr != nil {
			err = errors.Join(err, fmt.Errorf("waiting for %s: %w", s.Target, werr))
		}
	}
	return err
}

// NewSession validates cfg and builds a session for its connection section. Pipe
// sessions start their process immediately.
func NewSession(cfg *Config, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	topts, err := cfg.TransportOptions(logger)
	if err != nil {
		return nil, err
	}
	ropts, err := cfg.RouterOptions(logger)
	if err != nil {
		return nil, err
	}

	c := cfg.Connection
	switch {
	case c.IsWebSocket():
		return &Session{Router: NewWebSocketRouter(topts, ropts), Target: c.URL}, nil
	case c.IsPipe():
		cmd := exec.Command(c.Command, c.Args...)
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		cmd.Stderr = os.Stderr
		r, err := NewPipeRouter(cmd, topts, ropts)
		if err != nil {
			return nil, err
		}
		return &Session{Router: r, Target: c.Command, Cmd: cmd}, nil
	default:
		return nil, errors.New("config has neither connection.url nor connection.command")
	}
}
