package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST210: ignored categories store nothing
func TestUnhandledErrorsIgnore(t *testing.T) {
	u := NewUnhandledErrors(nil)
	for _, typ := range UnhandledErrorTypes {
		assert.Equal(t, UnhandledErrorBehaviorIgnore, u.Record(typ, errors.New("noise")))
	}
	assert.Empty(t, u.Errors())
	assert.False(t, u.IsTerminal())
	assert.NoError(t, u.Err())
}

// TEST211: collected errors accumulate without making the connection terminal
func TestUnhandledErrorsCollect(t *testing.T) {
	u := NewUnhandledErrors(map[UnhandledErrorType]UnhandledErrorBehavior{
		UnhandledErrorTypeUnknownMessage: UnhandledErrorBehaviorCollect,
	})
	u.Record(UnhandledErrorTypeUnknownMessage, errors.New("first"))
	u.Record(UnhandledErrorTypeProtocolError, errors.New("ignored"))
	u.Record(UnhandledErrorTypeUnknownMessage, errors.New("second"))

	errs := u.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, UnhandledErrorTypeUnknownMessage, errs[0].Type)
	assert.EqualError(t, errs[1].Err, "second")
	assert.False(t, u.IsTerminal())
	assert.Empty(t, u.TerminalReason())
}

// TEST212: the first terminating error sets the reason
func TestUnhandledErrorsTerminate(t *testing.T) {
	u := NewUnhandledErrors(nil)
	u.SetBehavior(UnhandledErrorTypeUnexpectedError, UnhandledErrorBehaviorTerminate)
	assert.Equal(t, UnhandledErrorBehaviorTerminate, u.Behavior(UnhandledErrorTypeUnexpectedError))

	u.Record(UnhandledErrorTypeUnexpectedError, errors.New("no such frame"))
	u.Record(UnhandledErrorTypeUnexpectedError, errors.New("later"))

	assert.True(t, u.IsTerminal())
	assert.Equal(t, "unexpected error: no such frame", u.TerminalReason())
	assert.Len(t, u.Errors(), 2)
}

// TEST213: the aggregate unwraps to every recorded cause
func TestUnhandledErrorsAggregate(t *testing.T) {
	cause := errors.New("handler exploded")
	u := NewUnhandledErrors(map[UnhandledErrorType]UnhandledErrorBehavior{
		UnhandledErrorTypeEventHandlerError: UnhandledErrorBehaviorCollect,
		UnhandledErrorTypeProtocolError:     UnhandledErrorBehaviorCollect,
	})
	u.Record(UnhandledErrorTypeEventHandlerError, cause)
	u.Record(UnhandledErrorTypeProtocolError, &ProtocolError{Err: errors.New("bad json")})

	err := u.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var agg *UnhandledErrorsError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 2)
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "2 unhandled error(s)")
}

// TEST214: Reset forgets errors and terminal state but keeps the policy
func TestUnhandledErrorsReset(t *testing.T) {
	u := NewUnhandledErrors(map[UnhandledErrorType]UnhandledErrorBehavior{
		UnhandledErrorTypeUnknownMessage: UnhandledErrorBehaviorTerminate,
	})
	u.Record(UnhandledErrorTypeUnknownMessage, errors.New("boom"))
	require.True(t, u.IsTerminal())

	u.Reset()
	assert.False(t, u.IsTerminal())
	assert.Empty(t, u.Errors())
	assert.NoError(t, u.Err())
	assert.Equal(t, UnhandledErrorBehaviorTerminate, u.Behavior(UnhandledErrorTypeUnknownMessage))
}

// TEST215: behavior names parse case-insensitively
func TestParseUnhandledErrorBehavior(t *testing.T) {
	cases := map[string]UnhandledErrorBehavior{
		"ignore":    UnhandledErrorBehaviorIgnore,
		"":          UnhandledErrorBehaviorIgnore,
		"Collect":   UnhandledErrorBehaviorCollect,
		"TERMINATE": UnhandledErrorBehaviorTerminate,
	}
	for in, want := range cases {
		got, err := ParseUnhandledErrorBehavior(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseUnhandledErrorBehavior("explode")
	assert.Error(t, err)

	var b UnhandledErrorBehavior
	require.NoError(t, b.UnmarshalText([]byte("collect")))
	assert.Equal(t, UnhandledErrorBehaviorCollect, b)
	text, err := b.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "collect", string(text))
}
