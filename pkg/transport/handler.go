package transport

import (
	"context"

	"github.com/sandpit-dev/sandpit/pkg/api"
)

// BatchRunner handles the core run-batch operation against a named handle.
// It is the primary handler contract and the target of the middleware
// chain. A non-nil error means the batch failed as a whole (the session
// could not be opened); partial failures are reported inside BatchResult.
type BatchRunner interface {
	RunBatch(ctx context.Context, handle string, req *api.BatchRequest) (*api.BatchResult, error)
}

// BatchRunnerFunc adapts a plain function to the BatchRunner interface,
// which keeps middleware composable without named types.
type BatchRunnerFunc func(ctx context.Context, handle string, req *api.BatchRequest) (*api.BatchResult, error)

func (f BatchRunnerFunc) RunBatch(ctx context.Context, handle string, req *api.BatchRequest) (*api.BatchResult, error) {
	return f(ctx, handle, req)
}

// SessionManager extends BatchRunner with session control operations on
// named handles. The session registry implements this interface.
type SessionManager interface {
	BatchRunner

	// SetTimeout updates the idle timeout of the handle's session. The
	// returned result distinguishes a live update from a deferred one
	// (no session open yet) and from a remote rejection.
	SetTimeout(ctx context.Context, handle string, seconds int) (*api.TimeoutResult, error)

	// CloseSession tears down the handle's session. The handle stays
	// reusable; a later batch opens a fresh session.
	CloseSession(ctx context.Context, handle string) error
}

// ListOptions controls pagination, filtering, and ordering for list operations.
type ListOptions struct {
	After  string // Cursor: return records after this session ID.
	Limit  int    // Maximum number of records to return (default 20, max 100).
	Handle string // Filter records by handle name.
	Order  string // Sort order: "asc" or "desc" (default "desc").
}

// SessionList holds a paginated list of session records.
type SessionList struct {
	Object  string               `json:"object"`
	Data    []*api.SessionRecord `json:"data"`
	HasMore bool                 `json:"has_more"`
	FirstID string               `json:"first_id"`
	LastID  string               `json:"last_id"`
}

// SessionStore is the audit-record side of persistence. Deployments
// without a configured store run with a nil SessionStore and the adapter
// serves 501 for record endpoints.
type SessionStore interface {
	// SaveSession inserts a new record, returning storage.ErrConflict on
	// a duplicate session ID.
	SaveSession(ctx context.Context, record *api.SessionRecord) error

	// GetSession fetches one record by session ID, or storage.ErrNotFound.
	GetSession(ctx context.Context, id string) (*api.SessionRecord, error)

	// ListSessions pages through records, scoped to the tenant carried in
	// ctx when one is set, and optionally filtered by handle name.
	ListSessions(ctx context.Context, opts ListOptions) (*SessionList, error)

	// MarkClosed stamps the close time on a record.
	MarkClosed(ctx context.Context, id string, closedAt int64) error

	// IncrementBatches bumps the record's batch counter.
	IncrementBatches(ctx context.Context, id string) error

	// UpdateTimeout records a changed idle timeout.
	UpdateTimeout(ctx context.Context, id string, seconds int) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}
