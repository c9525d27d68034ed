package protocol

import (
	"context"
	"fmt"

	"github.com/machinefabric/bidiwire-go/observable"
)

// Execute sends params and decodes the result into a new T.
func Execute[T any](ctx context.Context, r *Router, params CommandParameters) (*T, error) {
	res, err := r.ExecuteCommand(ctx, params, func() any { return new(T) })
	if err != nil {
		return nil, err
	}
	v, ok := res.Value.(*T)
	if !ok {
		return nil, fmt.Errorf("result of %s is %T, not %T", params.MethodName(), res.Value, v)
	}
	return v, nil
}

// RegisterEvent registers T as the payload type of method.
func RegisterEvent[T any](r *Router, method string) {
	r.RegisterEventType(method, func() any { return new(T) })
}

// SubscribeEvent registers T as the payload type of method and subscribes handler to it.
func SubscribeEvent[T any](r *Router, method string, handler func(*T) error, options ...observable.HandlerOption) (observable.Subscription, error) {
	RegisterEvent[T](r, method)
	return r.OnEventReceived(method).Subscribe(func(ev EventMessage) error {
		payload, ok := ev.Payload.(*T)
		if !ok {
			return fmt.Errorf("payload of event %q is %T, not %T", method, ev.Payload, payload)
		}
		return handler(payload)
	}, options...)
}
