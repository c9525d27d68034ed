package protocol

import (
	"log/slog"
	"time"
)

// DefaultCommandTimeout bounds ExecuteCommand when the context has no earlier deadline.
const DefaultCommandTimeout = 60 * time.Second

// RouterOptions configures a Router.
type RouterOptions struct {
	// CommandTimeout bounds ExecuteCommand.
	CommandTimeout time.Duration
	// ThrowCollectedOnDisconnect makes Disconnect return the aggregate of collected
	// unhandled errors.
	ThrowCollectedOnDisconnect bool
	// UnhandledErrors sets the behavior per category. Missing categories are ignored.
	UnhandledErrors map[UnhandledErrorType]UnhandledErrorBehavior

	Logger *slog.Logger
}

// DefaultRouterOptions returns the default router options.
func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		CommandTimeout: DefaultCommandTimeout,
		Logger:         slog.Default(),
	}
}

func (o RouterOptions) withDefaults() RouterOptions {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
