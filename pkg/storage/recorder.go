package storage

import (
	"context"
	"log/slog"

	"github.com/sandpit-dev/sandpit/pkg/api"
	"github.com/sandpit-dev/sandpit/pkg/session"
	"github.com/sandpit-dev/sandpit/pkg/transport"
)

// Recorder persists session lifecycle events to a SessionStore. Recording
// is best-effort: store failures are logged and never propagate into the
// session path.
type Recorder struct {
	store  transport.SessionStore
	logger *slog.Logger
}

var _ session.Recorder = (*Recorder)(nil)

// NewRecorder creates a recorder writing to store. A nil logger defaults
// to slog.Default().
func NewRecorder(store transport.SessionStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// SessionOpened persists the audit record for a newly opened session.
func (r *Recorder) SessionOpened(ctx context.Context, rec *api.SessionRecord) {
	if err := r.store.SaveSession(ctx, rec); err != nil {
		r.logger.Warn("failed to record session open",
			"session_id", rec.ID, "error", err.Error())
	}
}

// SessionClosed records the close timestamp for a session.
func (r *Recorder) SessionClosed(ctx context.Context, sessionID string, closedAt int64) {
	if err := r.store.MarkClosed(ctx, sessionID, closedAt); err != nil {
		r.logger.Warn("failed to record session close",
			"session_id", sessionID, "error", err.Error())
	}
}

// BatchRun bumps the batch counter for a session.
func (r *Recorder) BatchRun(ctx context.Context, sessionID string) {
	if err := r.store.IncrementBatches(ctx, sessionID); err != nil {
		r.logger.Warn("failed to record batch",
			"session_id", sessionID, "error", err.Error())
	}
}

// TimeoutChanged records an accepted idle-timeout update for a session.
func (r *Recorder) TimeoutChanged(ctx context.Context, sessionID string, seconds int) {
	if err := r.store.UpdateTimeout(ctx, sessionID, seconds); err != nil {
		r.logger.Warn("failed to record timeout update",
			"session_id", sessionID, "error", err.Error())
	}
}
