package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/machinefabric/bidiwire-go/protocol"
	"github.com/machinefabric/bidiwire-go/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bidiwire.toml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))
	return path
}

// TEST301: a missing file yields the defaults
func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	opts, err := cfg.TransportOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, transport.DefaultStartupTimeout, opts.StartupTimeout)
	assert.Equal(t, transport.DefaultBufferSize, opts.BufferSize)

	ropts, err := cfg.RouterOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultCommandTimeout, ropts.CommandTimeout)
	assert.Equal(t, protocol.UnhandledErrorBehaviorIgnore, ropts.UnhandledErrors[protocol.UnhandledErrorTypeUnknownMessage])
}

// TEST302: every section is read and converted
func TestLoadFromFullFile(t *testing.T) {
	t.Setenv("BIDI_PORT", "9222")
	path := writeConfig(t, `
[connection]
url = "ws://127.0.0.1:${BIDI_PORT}/session"
startup_timeout = "2s"
shutdown_timeout = "750ms"
data_timeout = "1s"
connect_retry_interval = "100ms"
buffer_size = 8192

[router]
command_timeout = "30s"
throw_collected_on_disconnect = true

[unhandled_errors]
protocol_error = "collect"
unknown_message = "ignore"
unexpected_error = "terminate"
event_handler_error = "collect"
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Connection.IsWebSocket())
	assert.False(t, cfg.Connection.IsPipe())
	assert.Equal(t, "ws://127.0.0.1:9222/session", cfg.Connection.URL)

	opts, err := cfg.TransportOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, opts.StartupTimeout)
	assert.Equal(t, 750*time.Millisecond, opts.ShutdownTimeout)
	assert.Equal(t, time.Second, opts.DataTimeout)
	assert.Equal(t, 100*time.Millisecond, opts.ConnectRetryInterval)
	assert.Equal(t, 8192, opts.BufferSize)
	assert.Equal(t, transport.DefaultMaxMessageSize, opts.MaxMessageSize, "unset keys keep defaults")

	ropts, err := cfg.RouterOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ropts.CommandTimeout)
	assert.True(t, ropts.ThrowCollectedOnDisconnect)
	assert.Equal(t, map[protocol.UnhandledErrorType]protocol.UnhandledErrorBehavior{
		protocol.UnhandledErrorTypeProtocolError:     protocol.UnhandledErrorBehaviorCollect,
		protocol.UnhandledErrorTypeUnknownMessage:    protocol.UnhandledErrorBehaviorIgnore,
		protocol.UnhandledErrorTypeUnexpectedError:   protocol.UnhandledErrorBehaviorTerminate,
		protocol.UnhandledErrorTypeEventHandlerError: protocol.UnhandledErrorBehaviorCollect,
	}, ropts.UnhandledErrors)
}

// TEST303: the pipe transport is selected by command
func TestLoadFromPipeCommand(t *testing.T) {
	path := writeConfig(t, `
[connection]
command = "/usr/bin/browser"
args = ["--remote-debugging-pipe", "--headless"]
env = { LANG = "C" }
`)
	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.True(t, cfg.Connection.IsPipe())
	assert.Equal(t, []string{"--remote-debugging-pipe", "--headless"}, cfg.Connection.Args)
	assert.Equal(t, "C", cfg.Connection.Env["LANG"])
}

// TEST304: an unknown behavior name is a parse error
func TestLoadFromInvalidBehavior(t *testing.T) {
	path := writeConfig(t, `
[unhandled_errors]
unknown_message = "panic"
`)
	_, err := LoadFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

// TEST305: Validate reports every problem at once
func TestValidateJoinsProblems(t *testing.T) {
	cfg := Default()
	cfg.Connection.URL = "ws://localhost:1"
	cfg.Connection.Command = "browser"
	cfg.Connection.DataTimeout = "soon"
	cfg.Router.CommandTimeout = "-1s"
	cfg.Connection.BufferSize = -1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"mutually exclusive", "connection.data_timeout", "router.command_timeout", "connection.buffer_size"} {
		assert.Contains(t, err.Error(), want)
	}

	_, err = cfg.TransportOptions(nil)
	assert.Error(t, err)
	_, err = cfg.RouterOptions(nil)
	assert.Error(t, err)
}
