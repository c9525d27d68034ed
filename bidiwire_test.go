package bidiwire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/machinefabric/bidiwire-go/config"
	"github.com/machinefabric/bidiwire-go/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type getTreeParams struct {
	Root string `json:"root"`
}

func (getTreeParams) MethodName() string { return "browsingContext.getTree" }

type getTreeResult struct {
	Contexts []string `json:"contexts"`
}

type contextCreated struct {
	Context string `json:"context"`
}

// newRemoteEnd serves a WebSocket that answers browsingContext.getTree and then pushes
// a browsingContext.contextCreated event.
func newRemoteEnd(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd struct {
				ID     int64           `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(data, &cmd); err != nil {
				return
			}
			var reply string
			if cmd.Method == "browsingContext.getTree" {
				reply = fmt.Sprintf(`{"type":"success","id":%d,"result":{"contexts":["c1","c2"]}}`, cmd.ID)
			} else {
				reply = fmt.Sprintf(`{"type":"error","id":%d,"error":"unknown command","message":"%s"}`, cmd.ID, cmd.Method)
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
			event := `{"type":"event","method":"browsingContext.contextCreated","params":{"context":"c3"}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(event)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// TEST401: command and event round trip over a real WebSocket
func TestWebSocketRouterEndToEnd(t *testing.T) {
	url := newRemoteEnd(t)
	r := NewWebSocketRouter(TransportOptions{Logger: quiet}, RouterOptions{Logger: quiet})

	events := make(chan *contextCreated, 1)
	_, err := protocol.SubscribeEvent(r, "browsingContext.contextCreated", func(ev *contextCreated) error {
		events <- ev
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, r.Connect(context.Background(), url))
	defer r.Disconnect(context.Background())

	res, err := protocol.Execute[getTreeResult](context.Background(), r, getTreeParams{Root: "c0"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, res.Contexts)
	assert.Equal(t, 0, r.PendingCommands())

	select {
	case ev := <-events:
		assert.Equal(t, "c3", ev.Context)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

type unknownParams struct{}

func (unknownParams) MethodName() string { return "mod.nothing" }

// TEST402: a session built from a config file reports command errors to the caller
func TestSessionFromConfig(t *testing.T) {
	url := newRemoteEnd(t)

	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	cfg.Connection.URL = url
	cfg.Router.CommandTimeout = "5s"

	s, err := NewSession(cfg, quiet)
	require.NoError(t, err)
	assert.Nil(t, s.Cmd)
	require.NoError(t, s.Connect(context.Background()))

	_, err = s.ExecuteCommand(context.Background(), unknownParams{}, nil)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "unknown command", cmdErr.ErrorType)
	assert.Equal(t, "mod.nothing", cmdErr.Message)

	require.NoError(t, s.Close(context.Background()))
	assert.False(t, s.IsConnected())
}

// TEST403: a config with no remote end is rejected
func TestSessionRequiresTarget(t *testing.T) {
	_, err := NewSession(config.Default(), quiet)
	assert.Error(t, err)
}
