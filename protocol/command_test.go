package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type extensibleParams struct {
	Context string `json:"context"`
	extra   map[string]any
}

func (p *extensibleParams) MethodName() string { return "browsingContext.navigate" }
func (p *extensibleParams) ExtensionData() map[string]any { return p.extra }

type emptyParams struct{}

func (emptyParams) MethodName() string { return "session.status" }

func (emptyParams) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// TEST205: only the first settlement of a command counts
func TestCommandSettlesOnce(t *testing.T) {
	cmd := testCommand(1)
	res, err := cmd.Result()
	assert.Nil(t, res)
	assert.NoError(t, err, "unsettled command has no outcome yet")

	want := &CommandResult{Value: json.RawMessage(`{}`)}
	assert.True(t, cmd.complete(want))
	assert.False(t, cmd.fail(errors.New("late failure")))
	assert.False(t, cmd.cancel())

	<-cmd.Done()
	res, err = cmd.Result()
	require.NoError(t, err)
	assert.Same(t, want, res)
}

// TEST206: the envelope carries id, method and params with extension fields flattened
func TestCommandMarshalEnvelope(t *testing.T) {
	cmd := newCommand(7, &extensibleParams{
		Context: "ctx-1",
		extra: map[string]any{
			"goog:channel": "abc",
			"id":           99,
		},
	}, nil)

	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.JSONEq(t, `7`, string(envelope["id"]), "envelope fields win over extension fields")
	assert.JSONEq(t, `"browsingContext.navigate"`, string(envelope["method"]))
	assert.JSONEq(t, `{"context":"ctx-1"}`, string(envelope["params"]))
	assert.JSONEq(t, `"abc"`, string(envelope["goog:channel"]))
	assert.Len(t, envelope, 4)
}

// TEST207: parameters that encode to null are sent as an empty object
func TestCommandMarshalNullParams(t *testing.T) {
	data, err := json.Marshal(newCommand(1, emptyParams{}, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"method":"session.status","params":{}}`, string(data))
}

// TEST208: ids start at 1, increase by one and restart after reset
func TestCommandIDAllocator(t *testing.T) {
	var ids commandIDAllocator
	assert.Equal(t, int64(1), ids.next())
	assert.Equal(t, int64(2), ids.next())
	assert.Equal(t, int64(3), ids.next())

	ids.reset()
	assert.Equal(t, int64(1), ids.next())
}
