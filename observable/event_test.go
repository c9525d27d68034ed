package observable

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST001: handlers run in subscription order and each sees the value
func TestNotifyRunsHandlersInOrder(t *testing.T) {
	ev := New[int]("numbers")
	var seen []string

	_, err := ev.Subscribe(func(v int) error {
		seen = append(seen, "first")
		assert.Equal(t, 7, v)
		return nil
	})
	require.NoError(t, err)
	_, err = ev.Subscribe(func(v int) error {
		seen = append(seen, "second")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, ev.Notify(7))
	assert.Equal(t, []string{"first", "second"}, seen)
}

// TEST002: unsubscribed handlers are no longer called
func TestUnsubscribe(t *testing.T) {
	ev := New[string]("strings")
	calls := 0
	sub, err := ev.Subscribe(func(string) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ev.Len())

	assert.True(t, ev.Unsubscribe(sub))
	assert.False(t, ev.Unsubscribe(sub), "second unsubscribe must report not found")
	assert.Equal(t, 0, ev.Len())

	require.NoError(t, ev.Notify("x"))
	assert.Equal(t, 0, calls)
}

// TEST003: a subscription from another event is rejected
func TestUnsubscribeForeignSubscription(t *testing.T) {
	a := New[int]("a")
	b := New[int]("b")
	sub, err := a.Subscribe(func(int) error { return nil })
	require.NoError(t, err)

	assert.False(t, b.Unsubscribe(sub))
	assert.Equal(t, 1, a.Len())
}

// TEST004: failing and panicking handlers are reported but do not stop delivery
func TestNotifyCollectsHandlerFailures(t *testing.T) {
	ev := New[int]("failing")
	boom := errors.New("boom")
	last := false

	_, _ = ev.Subscribe(func(int) error { return boom })
	_, _ = ev.Subscribe(func(int) error { panic("kaboom") })
	_, _ = ev.Subscribe(func(int) error {
		last = true
		return nil
	})

	err := ev.Notify(1)
	require.Error(t, err)
	assert.True(t, last, "handlers after a failure must still run")
	assert.ErrorIs(t, err, boom)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "failing", herr.Event)
	assert.Contains(t, err.Error(), "kaboom")
}

// TEST005: handler limit is enforced
func TestSubscribeLimit(t *testing.T) {
	ev := NewWithLimit[int]("limited", 1)
	_, err := ev.Subscribe(func(int) error { return nil })
	require.NoError(t, err)

	_, err = ev.Subscribe(func(int) error { return nil })
	assert.ErrorIs(t, err, ErrTooManyHandlers)
	assert.Equal(t, 1, ev.Len())
}

// TEST006: async handler failures go to the async failure handler
func TestAsyncHandlerFailure(t *testing.T) {
	ev := New[int]("async")
	failures := make(chan error, 1)
	ev.SetAsyncFailureHandler(func(err error) { failures <- err })

	var wg sync.WaitGroup
	wg.Add(1)
	_, err := ev.Subscribe(func(int) error {
		defer wg.Done()
		return errors.New("async failure")
	}, HandlerOptionAsync)
	require.NoError(t, err)

	require.NoError(t, ev.Notify(3), "async failures are not returned from Notify")
	wg.Wait()

	select {
	case err := <-failures:
		assert.Contains(t, err.Error(), "async failure")
	case <-time.After(time.Second):
		t.Fatal("async failure was not reported")
	}
}

// TEST007: nil handlers are rejected
func TestSubscribeNilHandler(t *testing.T) {
	ev := New[int]("nil")
	_, err := ev.Subscribe(nil)
	assert.Error(t, err)
}
