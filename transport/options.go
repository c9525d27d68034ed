package transport

import (
	"log/slog"
	"time"
)

const (
	// DefaultBufferSize is the size of a single receive read.
	DefaultBufferSize int = 4096

	// DefaultMaxMessageSize caps one reassembled inbound message (64 MiB).
	DefaultMaxMessageSize int = 67_108_864

	DefaultStartupTimeout       = 10 * time.Second
	DefaultShutdownTimeout      = 5 * time.Second
	DefaultDataTimeout          = 5 * time.Second
	DefaultConnectRetryInterval = 500 * time.Millisecond
)

// Options configures a Connection.
type Options struct {
	// StartupTimeout bounds Start, including every retried connect attempt.
	StartupTimeout time.Duration
	// ShutdownTimeout bounds the clean-close handshake in Stop.
	ShutdownTimeout time.Duration
	// DataTimeout bounds how long Send waits for the single-writer gate, and then how
	// long the write itself may block.
	DataTimeout time.Duration
	// ConnectRetryInterval is the pause between failed connect attempts.
	ConnectRetryInterval time.Duration
	// BufferSize is the receive read size.
	BufferSize int
	// MaxMessageSize limits one inbound message.
	MaxMessageSize int

	Logger *slog.Logger
}

// DefaultOptions returns the default connection options.
func DefaultOptions() Options {
	return Options{
		StartupTimeout:       DefaultStartupTimeout,
		ShutdownTimeout:      DefaultShutdownTimeout,
		DataTimeout:          DefaultDataTimeout,
		ConnectRetryInterval: DefaultConnectRetryInterval,
		BufferSize:           DefaultBufferSize,
		MaxMessageSize:       DefaultMaxMessageSize,
		Logger:               slog.Default(),
	}
}

// withDefaults fills unset fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = d.StartupTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = d.ShutdownTimeout
	}
	if o.DataTimeout <= 0 {
		o.DataTimeout = d.DataTimeout
	}
	if o.ConnectRetryInterval <= 0 {
		o.ConnectRetryInterval = d.ConnectRetryInterval
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}
