package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandpit-dev/sandpit/pkg/api"
	"github.com/sandpit-dev/sandpit/pkg/observability"
	"github.com/sandpit-dev/sandpit/pkg/provider"
)

// Defaults for handle configuration.
const (
	DefaultIdleTimeoutSeconds = 300
	DefaultListPath           = "/home/user"
)

// State is the lifecycle state of a handle.
type State int

const (
	// StateUnopened means no remote session has been created yet.
	StateUnopened State = iota

	// StateOpen means a remote session is live and owned by the handle.
	StateOpen

	// StateClosed means the previous session was torn down. The handle is
	// reusable: the next operation opens a fresh session.
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Recorder receives session lifecycle events for audit storage. Recording
// is best-effort: implementations log their own failures and must be safe
// for concurrent use. A nil Recorder disables recording.
type Recorder interface {
	SessionOpened(ctx context.Context, rec *api.SessionRecord)
	SessionClosed(ctx context.Context, sessionID string, closedAt int64)
	BatchRun(ctx context.Context, sessionID string)
	TimeoutChanged(ctx context.Context, sessionID string, seconds int)
}

// Config holds per-handle settings.
type Config struct {
	// IdleTimeoutSeconds is the remote idle timeout applied at session
	// creation. Defaults to DefaultIdleTimeoutSeconds.
	IdleTimeoutSeconds int

	// ListPath is the default directory listed at the end of each batch.
	// Defaults to DefaultListPath.
	ListPath string

	// Persist keeps the session open across batches. When false the
	// session is closed after every batch, so no state carries over.
	Persist bool

	// Metadata is attached to remote sessions at creation.
	Metadata map[string]string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Recorder is optional; see Recorder.
	Recorder Recorder
}

// Handle represents ownership of, and access to, one sandbox session.
// It is safe for concurrent use; the opener mutex is the only point of
// contention, and only while no session is open.
type Handle struct {
	name     string
	provider provider.Provider
	listPath string
	persist  bool
	metadata map[string]string
	logger   *slog.Logger
	recorder Recorder

	mu             sync.RWMutex
	state          State
	id             string
	remote         provider.Sandbox
	timeoutSeconds int
}

// New creates a handle. No remote session is created until the first
// batch (or an explicit open) runs.
func New(p provider.Provider, cfg Config) *Handle {
	if cfg.IdleTimeoutSeconds <= 0 {
		cfg.IdleTimeoutSeconds = DefaultIdleTimeoutSeconds
	}
	if cfg.ListPath == "" {
		cfg.ListPath = DefaultListPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handle{
		provider:       p,
		listPath:       cfg.ListPath,
		persist:        cfg.Persist,
		metadata:       cfg.Metadata,
		logger:         cfg.Logger,
		recorder:       cfg.Recorder,
		state:          StateUnopened,
		timeoutSeconds: cfg.IdleTimeoutSeconds,
	}
}

// Name returns the logical handle name assigned by the registry, or "".
func (h *Handle) Name() string {
	return h.name
}

// ID returns the current session identifier, or "" when no session is
// open. The ID changes when a closed handle is reused.
func (h *Handle) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.id
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// IdleTimeout returns the configured idle timeout in seconds.
func (h *Handle) IdleTimeout() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.timeoutSeconds
}

// ensureOpen returns the live remote session, creating it if needed.
// At most one remote session is created per handle even under concurrent
// first use: the fast path checks state under the read lock, then the
// slow path re-checks under the write lock before creating (another
// caller may have opened the session while this one waited).
func (h *Handle) ensureOpen(ctx context.Context) (provider.Sandbox, string, int, error) {
	h.mu.RLock()
	if h.state == StateOpen {
		sb, id, timeout := h.remote, h.id, h.timeoutSeconds
		h.mu.RUnlock()
		return sb, id, timeout, nil
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateOpen {
		return h.remote, h.id, h.timeoutSeconds, nil
	}

	id := api.NewSessionID()

	metadata := map[string]string{"sandpit_session_id": id}
	for k, v := range h.metadata {
		metadata[k] = v
	}

	sb, err := h.provider.Create(ctx, provider.CreateOptions{
		IdleTimeoutSeconds: h.timeoutSeconds,
		Metadata:           metadata,
	})
	if err != nil {
		// State is unchanged: a failed open retains no partial handle state.
		observability.SessionOpensTotal.WithLabelValues("error").Inc()
		return nil, "", 0, fmt.Errorf("opening sandbox session: %w", err)
	}

	h.remote = sb
	h.id = id
	h.state = StateOpen

	observability.SessionOpensTotal.WithLabelValues("ok").Inc()
	observability.SessionsActive.Inc()

	h.logger.Info("sandbox session opened",
		"handle", h.name,
		"session_id", id,
		"timeout_seconds", h.timeoutSeconds,
	)

	if h.recorder != nil {
		h.recorder.SessionOpened(ctx, &api.SessionRecord{
			ID:             id,
			HandleName:     h.name,
			TimeoutSeconds: h.timeoutSeconds,
			CreatedAt:      time.Now().Unix(),
		})
	}

	return sb, id, h.timeoutSeconds, nil
}

// SetIdleTimeout updates the configured idle timeout. A live session is
// updated immediately; otherwise the value is stored and applied at next
// open. A remote rejection leaves the session open with its previous
// timeout and is reported as a recoverable status, not an error return.
// seconds must be positive.
func (h *Handle) SetIdleTimeout(ctx context.Context, seconds int) (*api.TimeoutResult, error) {
	if seconds <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive, got %d", seconds)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateOpen {
		h.timeoutSeconds = seconds
		observability.TimeoutUpdatesTotal.WithLabelValues(string(api.TimeoutDeferred)).Inc()
		return &api.TimeoutResult{
			TimeoutSeconds: seconds,
			Status:         api.TimeoutDeferred,
			Message:        "no active sandbox session; timeout will be applied when a new session is created",
		}, nil
	}

	if err := h.remote.SetTimeout(ctx, seconds); err != nil {
		observability.TimeoutUpdatesTotal.WithLabelValues(string(api.TimeoutFailed)).Inc()
		h.logger.Warn("timeout update rejected",
			"handle", h.name,
			"session_id", h.id,
			"error", err.Error(),
		)
		return &api.TimeoutResult{
			SessionID:      h.id,
			TimeoutSeconds: h.timeoutSeconds,
			Status:         api.TimeoutFailed,
			Message:        fmt.Sprintf("failed to update timeout: %v", err),
		}, nil
	}

	h.timeoutSeconds = seconds
	observability.TimeoutUpdatesTotal.WithLabelValues(string(api.TimeoutUpdated)).Inc()
	h.logger.Info("session timeout updated",
		"handle", h.name,
		"session_id", h.id,
		"timeout_seconds", seconds,
	)
	if h.recorder != nil {
		h.recorder.TimeoutChanged(ctx, h.id, seconds)
	}
	return &api.TimeoutResult{
		SessionID:      h.id,
		TimeoutSeconds: seconds,
		Status:         api.TimeoutUpdated,
	}, nil
}

// Close terminates the remote session if one is open. Remote termination
// is best-effort (a failure is logged, not returned); local teardown is
// unconditional, so the handle never points at a possibly-dead remote
// session. Closing an unopened or already-closed handle is a no-op.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateOpen {
		return nil
	}

	id := h.id
	if err := h.remote.Kill(ctx); err != nil {
		h.logger.Warn("failed to terminate remote session",
			"handle", h.name,
			"session_id", id,
			"error", err.Error(),
		)
	}

	h.remote = nil
	h.id = ""
	h.state = StateClosed

	observability.SessionsActive.Dec()
	observability.SessionClosesTotal.Inc()

	h.logger.Info("sandbox session closed", "handle", h.name, "session_id", id)

	if h.recorder != nil {
		h.recorder.SessionClosed(ctx, id, time.Now().Unix())
	}
	return nil
}
