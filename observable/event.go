// Package observable provides named events with an ordered set of subscribers.
//
// Handlers subscribed without HandlerOptionAsync run on the goroutine that calls
// Notify, in subscription order. A handler that returns an error or panics does not
// stop delivery to the remaining handlers; its failure is reported back to the caller
// of Notify as a *HandlerError.
package observable

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTooManyHandlers is returned by Subscribe when the event already has its maximum
// number of handlers.
var ErrTooManyHandlers = errors.New("maximum number of handlers reached")

// Handler receives one notification.
type Handler[T any] func(T) error

// HandlerOption controls how a subscribed handler is invoked.
type HandlerOption int

const (
	// HandlerOptionNone runs the handler synchronously inside Notify.
	HandlerOptionNone HandlerOption = iota
	// HandlerOptionAsync runs the handler on its own goroutine. Ordering between
	// notifications is not preserved for async handlers.
	HandlerOptionAsync
)

// HandlerError reports a failing handler.
type HandlerError struct {
	Event          string
	SubscriptionID uint64
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %d for event %q failed: %v", e.SubscriptionID, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Subscription identifies a registered handler.
type Subscription struct {
	event string
	id    uint64
}

// ID returns the subscription's identifier, unique within its event.
func (s Subscription) ID() uint64 { return s.id }

// EventName returns the name of the event the subscription belongs to.
func (s Subscription) EventName() string { return s.event }

type registeredHandler[T any] struct {
	id      uint64
	handler Handler[T]
	option  HandlerOption
}

// Event is a named notification source.
type Event[T any] struct {
	name        string
	maxHandlers int

	mu           sync.RWMutex
	nextID       uint64
	handlers     []registeredHandler[T]
	asyncFailure func(error)
}

// New creates an event with no handler limit.
func New[T any](name string) *Event[T] {
	return &Event[T]{name: name}
}

// NewWithLimit creates an event that accepts at most maxHandlers handlers.
// A limit of zero or less means unlimited.
func NewWithLimit[T any](name string, maxHandlers int) *Event[T] {
	return &Event[T]{name: name, maxHandlers: maxHandlers}
}

// Name returns the event name.
func (e *Event[T]) Name() string {
	return e.name
}

// SetAsyncFailureHandler installs the callback that receives failures of handlers
// subscribed with HandlerOptionAsync. Without one those failures are dropped.
func (e *Event[T]) SetAsyncFailureHandler(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.asyncFailure = fn
}

// Subscribe adds a handler.
func (e *Event[T]) Subscribe(handler Handler[T], options ...HandlerOption) (Subscription, error) {
	if handler == nil {
		return Subscription{}, fmt.Errorf("event %q: nil handler", e.name)
	}
	option := HandlerOptionNone
	for _, o := range options {
		option = o
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.maxHandlers > 0 && len(e.handlers) >= e.maxHandlers {
		return Subscription{}, fmt.Errorf("event %q: %w (%d)", e.name, ErrTooManyHandlers, e.maxHandlers)
	}

	e.nextID++
	e.handlers = append(e.handlers, registeredHandler[T]{
		id:      e.nextID,
		handler: handler,
		option:  option,
	})
	return Subscription{event: e.name, id: e.nextID}, nil
}

// Unsubscribe removes a handler. It reports whether the subscription was found.
func (e *Event[T]) Unsubscribe(sub Subscription) bool {
	if sub.event != e.name {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, h := range e.handlers {
		if h.id == sub.id {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of subscribed handlers.
func (e *Event[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Notify delivers value to every handler. Synchronous handler failures are joined
// into the returned error.
func (e *Event[T]) Notify(value T) error {
	e.mu.RLock()
	handlers := make([]registeredHandler[T], len(e.handlers))
	copy(handlers, e.handlers)
	asyncFailure := e.asyncFailure
	e.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if h.option == HandlerOptionAsync {
			go func(h registeredHandler[T]) {
				if err := e.invoke(h, value); err != nil && asyncFailure != nil {
					asyncFailure(err)
				}
			}(h)
			continue
		}
		if err := e.invoke(h, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Event[T]) invoke(h registeredHandler[T], value T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Event: e.name, SubscriptionID: h.id, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if herr := h.handler(value); herr != nil {
		return &HandlerError{Event: e.name, SubscriptionID: h.id, Err: herr}
	}
	return nil
}
