package transport

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/sandpit-dev/sandpit/pkg/api"
)

// Middleware wraps a BatchRunner with cross-cutting behavior.
type Middleware func(BatchRunner) BatchRunner

// Chain folds middleware into one. The first argument ends up
// outermost, so Chain(a, b, c) yields a(b(c(runner))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next BatchRunner) BatchRunner {
		for _, mw := range slices.Backward(middlewares) {
			next = mw(next)
		}
		return next
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the request ID carried by ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID attaches a request ID to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID tags each batch with a request ID: the one already in ctx
// when the HTTP adapter propagated an X-Request-ID header, or a fresh
// one otherwise.
func RequestID() Middleware {
	return func(next BatchRunner) BatchRunner {
		return BatchRunnerFunc(func(ctx context.Context, handle string, req *api.BatchRequest) (*api.BatchResult, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, api.NewRequestID())
			}
			return next.RunBatch(ctx, handle, req)
		})
	}
}

// Recovery turns a panicking batch into a server error so one bad
// batch cannot take the gateway down.
func Recovery() Middleware {
	return func(next BatchRunner) BatchRunner {
		return BatchRunnerFunc(func(ctx context.Context, handle string, req *api.BatchRequest) (res *api.BatchResult, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					res = nil
					retErr = api.NewServerError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.RunBatch(ctx, handle, req)
		})
	}
}

// Logging emits one structured entry per batch with the handle,
// session ID, request ID, and duration. Status codes live at the HTTP
// layer and are not visible here.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next BatchRunner) BatchRunner {
		return BatchRunnerFunc(func(ctx context.Context, handle string, req *api.BatchRequest) (*api.BatchResult, error) {
			start := time.Now()

			res, err := next.RunBatch(ctx, handle, req)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("handle", handle),
				slog.Duration("duration", time.Since(start)),
			}
			if res != nil {
				attrs = append(attrs, slog.String("session_id", res.SessionID))
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "batch failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "batch handled", attrs...)
			}

			return res, err
		})
	}
}
