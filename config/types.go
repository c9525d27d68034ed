package config

import "github.com/machinefabric/bidiwire-go/protocol"

// Config is the top-level bidiwire configuration.
type Config struct {
	Connection      ConnectionConfig      `toml:"connection"`
	Router          RouterConfig          `toml:"router"`
	UnhandledErrors UnhandledErrorsConfig `toml:"unhandled_errors"`
}

// ConnectionConfig describes the remote end and the transport timeouts.
type ConnectionConfig struct {
	// WebSocket transport
	URL string `toml:"url"`

	// Pipe transport: the process is started with the protocol on fds 3 and 4.
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`

	StartupTimeout       string `toml:"startup_timeout"`
	ShutdownTimeout      string `toml:"shutdown_timeout"`
	DataTimeout          string `toml:"data_timeout"`
	ConnectRetryInterval string `toml:"connect_retry_interval"`
	BufferSize           int    `toml:"buffer_size"`
	MaxMessageSize       int    `toml:"max_message_size"`
}

// RouterConfig holds command handling settings.
type RouterConfig struct {
	CommandTimeout             string `toml:"command_timeout"`
	ThrowCollectedOnDisconnect bool   `toml:"throw_collected_on_disconnect"`
}

// UnhandledErrorsConfig sets the behavior of each unhandled error category.
type UnhandledErrorsConfig struct {
	ProtocolError     protocol.UnhandledErrorBehavior `toml:"protocol_error"`
	UnknownMessage    protocol.UnhandledErrorBehavior `toml:"unknown_message"`
	UnexpectedError   protocol.UnhandledErrorBehavior `toml:"unexpected_error"`
	EventHandlerError protocol.UnhandledErrorBehavior `toml:"event_handler_error"`
}

// IsPipe returns true if the remote end is a process started over pipes.
func (c ConnectionConfig) IsPipe() bool {
	return c.Command != ""
}

// IsWebSocket returns true if the remote end is reached over a WebSocket.
func (c ConnectionConfig) IsWebSocket() bool {
	return c.URL != ""
}
