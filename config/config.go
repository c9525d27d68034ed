// Package config loads connection and router settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/machinefabric/bidiwire-go/protocol"
	"github.com/machinefabric/bidiwire-go/transport"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Default returns a Config holding the library defaults.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			StartupTimeout:       transport.DefaultStartupTimeout.String(),
			ShutdownTimeout:      transport.DefaultShutdownTimeout.String(),
			DataTimeout:          transport.DefaultDataTimeout.String(),
			ConnectRetryInterval: transport.DefaultConnectRetryInterval.String(),
			BufferSize:           transport.DefaultBufferSize,
			MaxMessageSize:       transport.DefaultMaxMessageSize,
		},
		Router: RouterConfig{
			CommandTimeout: protocol.DefaultCommandTimeout.String(),
		},
	}
}

// LoadFrom reads and parses a config file at the given path. Settings missing from
// the file keep their defaults. If the file does not exist, the defaults are returned
// (no error).
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	expandEnvVars(&cfg.Connection)
	return cfg, nil
}

// Validate reports every problem in cfg.
func (cfg *Config) Validate() error {
	var errs []error

	c := cfg.Connection
	if c.URL != "" && c.Command != "" {
		errs = append(errs, errors.New("connection: url and command are mutually exclusive"))
	}
	for name, value := range map[string]string{
		"connection.startup_timeout":        c.StartupTimeout,
		"connection.shutdown_timeout":       c.ShutdownTimeout,
		"connection.data_timeout":           c.DataTimeout,
		"connection.connect_retry_interval": c.ConnectRetryInterval,
		"router.command_timeout":            cfg.Router.CommandTimeout,
	} {
		if _, err := parseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("connection.buffer_size: must not be negative, got %d", c.BufferSize))
	}
	if c.MaxMessageSize < 0 {
		errs = append(errs, fmt.Errorf("connection.max_message_size: must not be negative, got %d", c.MaxMessageSize))
	}
	if c.MaxMessageSize > 0 && c.BufferSize > c.MaxMessageSize {
		errs = append(errs, fmt.Errorf("connection.buffer_size %d exceeds max_message_size %d", c.BufferSize, c.MaxMessageSize))
	}

	return errors.Join(errs...)
}

// TransportOptions converts the connection section. Unset values fall back to the
// transport defaults.
func (cfg *Config) TransportOptions(logger *slog.Logger) (transport.Options, error) {
	c := cfg.Connection
	var errs []error
	d := func(name, value string) time.Duration {
		v, err := parseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("connection.%s: %w", name, err))
		}
		return v
	}

	opts := transport.Options{
		StartupTimeout:       d("startup_timeout", c.StartupTimeout),
		ShutdownTimeout:      d("shutdown_timeout", c.ShutdownTimeout),
		DataTimeout:          d("data_timeout", c.DataTimeout),
		ConnectRetryInterval: d("connect_retry_interval", c.ConnectRetryInterval),
		BufferSize:           c.BufferSize,
		MaxMessageSize:       c.MaxMessageSize,
		Logger:               logger,
	}
	return opts, errors.Join(errs...)
}

// RouterOptions converts the router and unhandled_errors sections.
func (cfg *Config) RouterOptions(logger *slog.Logger) (protocol.RouterOptions, error) {
	timeout, err := parseDuration(cfg.Router.CommandTimeout)
	if err != nil {
		return protocol.RouterOptions{}, fmt.Errorf("router.command_timeout: %w", err)
	}

	u := cfg.UnhandledErrors
	return protocol.RouterOptions{
		CommandTimeout:             timeout,
		ThrowCollectedOnDisconnect: cfg.Router.ThrowCollectedOnDisconnect,
		UnhandledErrors: map[protocol.UnhandledErrorType]protocol.UnhandledErrorBehavior{
			protocol.UnhandledErrorTypeProtocolError:     u.ProtocolError,
			protocol.UnhandledErrorTypeUnknownMessage:    u.UnknownMessage,
			protocol.UnhandledErrorTypeUnexpectedError:   u.UnexpectedError,
			protocol.UnhandledErrorTypeEventHandlerError: u.EventHandlerError,
		},
		Logger: logger,
	}, nil
}

// parseDuration accepts "" as zero, meaning "use the default".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", s)
	}
	return v, nil
}

func expandEnvVars(c *ConnectionConfig) {
	c.URL = expandEnv(c.URL)
	c.Command = expandEnv(c.Command)
	for i := range c.Args {
		c.Args[i] = expandEnv(c.Args[i])
	}
	for k, v := range c.Env {
		c.Env[k] = expandEnv(v)
	}
}

// expandEnv replaces ${VAR_NAME} with the value of the environment variable.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // leave unresolved vars as-is
	})
}
