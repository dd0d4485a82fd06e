package httpapi

import (
	"context"
	"errors"
)

// Option configures NewMux.
type Option func(*muxOptions)

type muxOptions struct {
	base context.Context
}

// WithBaseContext ties in-flight predictions and event streams to ctx. When
// ctx is canceled, predictions still running answer 503 and event streams
// close with "going away".
func WithBaseContext(ctx context.Context) Option {
	return func(o *muxOptions) {
		if ctx != nil {
			o.base = ctx
		}
	}
}

var errShuttingDown = errors.New("server shutting down")

// requestContext derives the context for one request's work from req. It is
// additionally canceled, with cause errShuttingDown, once base is done. The
// returned cancel func must be called when the request ends.
func requestContext(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(req)
	stop := context.AfterFunc(base, func() { cancel(errShuttingDown) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// shuttingDown reports whether ctx was canceled by the base context.
func shuttingDown(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errShuttingDown)
}
