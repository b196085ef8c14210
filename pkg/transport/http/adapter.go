// Package http adapts the transport handler interfaces to net/http,
// serving the sandpit session API with Go 1.22 ServeMux routing.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sandpit-dev/sandpit/pkg/api"
	"github.com/sandpit-dev/sandpit/pkg/storage"
	"github.com/sandpit-dev/sandpit/pkg/transport"
)

// maxHandleNameLen bounds caller-chosen handle names.
const maxHandleNameLen = 128

// defaultMaxBody caps request bodies when the caller passes no limit.
const defaultMaxBody int64 = 10 << 20

// Adapter serves the session API over HTTP: batch execution and
// timeout changes keyed by handle name, plus record retrieval keyed by
// session ID when a store is configured.
type Adapter struct {
	runner   transport.BatchRunner
	manager  transport.SessionManager
	store    transport.SessionStore // nil if no persistence configured
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	maxBody  int64
}

// NewAdapter creates an HTTP adapter over the given SessionManager.
// maxBody caps request bodies (<=0 selects the default). The store is
// optional; when nil the record endpoints answer 501. Middleware wraps
// the batch path in the given order.
func NewAdapter(manager transport.SessionManager, store transport.SessionStore, maxBody int64, middlewares ...transport.Middleware) *Adapter {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	var runner transport.BatchRunner = manager
	if len(middlewares) > 0 {
		runner = transport.Chain(middlewares...)(runner)
	}

	a := &Adapter{
		runner:   runner,
		manager:  manager,
		store:    store,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		maxBody:  maxBody,
	}

	a.mux.HandleFunc("POST /v1/sessions/{name}/batch", a.handleBatch)
	a.mux.HandleFunc("PUT /v1/sessions/{name}/timeout", a.handleSetTimeout)
	a.mux.HandleFunc("DELETE /v1/sessions/{name}", a.handleCloseSession)
	a.mux.HandleFunc("GET /v1/sessions/{id}", a.handleGetSessionRecord)
	a.mux.HandleFunc("GET /v1/sessions", a.handleListSessionRecords)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)

	return a
}

// Handler returns the adapter as an http.Handler, with X-Request-ID
// echoing applied outermost. Integrate it with an http.Server or drive
// it directly with httptest.
func (a *Adapter) Handler() http.Handler {
	return echoRequestID(a.mux)
}

// echoRequestID carries the client's X-Request-ID header into the
// request context and reflects whatever ID ends up there (client-sent
// or generated later by the transport RequestID middleware) back onto
// the response. The header has to be stamped lazily since generation
// happens mid-handler.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(&idHeaderWriter{ResponseWriter: w, req: r}, r)
	})
}

// idHeaderWriter stamps the X-Request-ID header just before the first
// byte of the response is written.
type idHeaderWriter struct {
	http.ResponseWriter
	req     *http.Request
	stamped bool
}

func (w *idHeaderWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *idHeaderWriter) Write(p []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(p)
}

func (w *idHeaderWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.NewResponseController.
func (w *idHeaderWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *idHeaderWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	if id := transport.RequestIDFromContext(w.req.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// invalid writes an invalid_request error envelope with the given status.
func invalid(w http.ResponseWriter, status int, field, msg string) {
	transport.WriteErrorResponse(w, api.NewInvalidRequestError(field, msg), status)
}

// writeJSON serializes v as the response body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleName extracts and bounds the {name} path segment, writing a 400
// and returning false when it is too long. The mux guarantees the
// segment is non-empty.
func handleName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("name")
	if len(name) > maxHandleNameLen {
		invalid(w, http.StatusBadRequest, "name", "handle name too long")
		return "", false
	}
	return name, true
}

// handleBatch handles POST /v1/sessions/{name}/batch.
func (a *Adapter) handleBatch(w http.ResponseWriter, r *http.Request) {
	name, ok := handleName(w, r)
	if !ok {
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" {
		invalid(w, http.StatusUnsupportedMediaType, "content_type", "Content-Type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)

	// An empty body means an empty batch.
	var req api.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			invalid(w, http.StatusRequestEntityTooLarge, "body",
				fmt.Sprintf("request body too large (max %d bytes)", a.maxBody))
			return
		}
		invalid(w, http.StatusBadRequest, "body", "invalid JSON: "+err.Error())
		return
	}

	// Register the batch so DELETE can cancel it while it runs.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	token := a.inflight.Register(name, cancel)
	defer a.inflight.Remove(name, token)

	res, err := a.runner.RunBatch(ctx, name, &req)
	if err != nil {
		a.writeBatchError(w, err)
		return
	}

	writeJSON(w, res)
}

// writeBatchError reports a whole-batch failure. The body is a BatchError
// rather than the standard error envelope so callers always get the
// session-scoped shape the batch endpoint promises.
func (a *Adapter) writeBatchError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		status = transport.HTTPStatusFromError(apiErr)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.BatchError{Error: err.Error()})
}

// handleSetTimeout handles PUT /v1/sessions/{name}/timeout.
func (a *Adapter) handleSetTimeout(w http.ResponseWriter, r *http.Request) {
	name, ok := handleName(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)

	var req struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		invalid(w, http.StatusBadRequest, "body", "invalid JSON: "+err.Error())
		return
	}

	res, err := a.manager.SetTimeout(r.Context(), name, req.TimeoutSeconds)
	if err != nil {
		invalid(w, http.StatusBadRequest, "timeout_seconds", err.Error())
		return
	}

	writeJSON(w, res)
}

// handleCloseSession handles DELETE /v1/sessions/{name}. A batch still
// running against the handle is cancelled before the session is torn down.
func (a *Adapter) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	name, ok := handleName(w, r)
	if !ok {
		return
	}

	a.inflight.Cancel(name)

	if err := a.manager.CloseSession(r.Context(), name); err != nil {
		var apiErr *api.APIError
		if !errors.As(err, &apiErr) {
			apiErr = api.NewServerError(err.Error())
		}
		transport.WriteAPIError(w, apiErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetSessionRecord handles GET /v1/sessions/{id}.
func (a *Adapter) handleGetSessionRecord(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		invalid(w, http.StatusNotImplemented, "", "session record retrieval is not available (no store configured)")
		return
	}

	id := r.PathValue("id")
	if !api.ValidateSessionID(id) {
		invalid(w, http.StatusBadRequest, "id", "malformed session ID")
		return
	}

	record, err := a.store.GetSession(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		transport.WriteAPIError(w, api.NewNotFoundError("session "+id+" not found"))
	case err != nil:
		transport.WriteAPIError(w, api.NewServerError(err.Error()))
	default:
		writeJSON(w, record)
	}
}

// handleListSessionRecords handles GET /v1/sessions.
func (a *Adapter) handleListSessionRecords(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		invalid(w, http.StatusNotImplemented, "", "session listing is not available (no store configured)")
		return
	}

	opts, apiErr := listOptionsFrom(r)
	if apiErr != nil {
		transport.WriteErrorResponse(w, apiErr, http.StatusBadRequest)
		return
	}

	result, err := a.store.ListSessions(r.Context(), opts)
	if err != nil {
		transport.WriteAPIError(w, api.NewServerError(err.Error()))
		return
	}

	writeJSON(w, result)
}

// handleHealth handles GET /healthz. When a store is configured its
// connection is verified too.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if a.store != nil {
		if err := a.store.HealthCheck(r.Context()); err != nil {
			status, code = "store unavailable", http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// listOptionsFrom reads cursor, filter, and ordering query parameters.
func listOptionsFrom(r *http.Request) (transport.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:  q.Get("after"),
		Handle: q.Get("handle"),
	}

	switch order := q.Get("order"); order {
	case "", "desc":
		opts.Order = "desc"
	case "asc":
		opts.Order = "asc"
	default:
		return opts, api.NewInvalidRequestError("order", "order must be \"asc\" or \"desc\"")
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = n
	}

	return opts, nil
}
