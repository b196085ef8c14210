package observability

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsMiddleware counts every handled request and observes its
// duration, labeled by method and response status.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tap := &statusTap{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(tap, r)

		RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(tap.code)).Inc()
		RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// statusTap remembers the first status code a handler writes.
type statusTap struct {
	http.ResponseWriter
	code int
	done bool
}

func (t *statusTap) WriteHeader(code int) {
	if !t.done {
		t.code, t.done = code, true
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *statusTap) Write(p []byte) (int, error) {
	t.done = true
	return t.ResponseWriter.Write(p)
}

// Flush forwards to the underlying writer when it supports streaming.
func (t *statusTap) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController.
func (t *statusTap) Unwrap() http.ResponseWriter { return t.ResponseWriter }
