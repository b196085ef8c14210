// Package memory provides an in-memory transport.SessionStore for
// tests and single-node deployments. Records vanish on restart. A
// capacity bound evicts the oldest record once reached.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/sandpit-dev/sandpit/pkg/api"
	"github.com/sandpit-dev/sandpit/pkg/storage"
	"github.com/sandpit-dev/sandpit/pkg/transport"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Store keeps session records in a map, with insertion order tracked
// separately for capacity eviction.
type Store struct {
	mu      sync.RWMutex
	records map[string]*api.SessionRecord
	owners  map[string]string // record ID -> tenant
	order   []string          // insertion order, oldest first
	cap     int               // 0 = unlimited
}

var _ transport.SessionStore = (*Store)(nil)

// New creates an in-memory store holding at most maxSize records;
// zero means unlimited. At capacity the oldest record is dropped to
// make room.
func New(maxSize int) *Store {
	return &Store{
		records: make(map[string]*api.SessionRecord),
		owners:  make(map[string]string),
		cap:     maxSize,
	}
}

// lookup returns the record for id if it exists and is visible to the
// tenant in ctx. Callers hold s.mu.
func (s *Store) lookup(ctx context.Context, id string) (*api.SessionRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if tenant := storage.GetTenant(ctx); tenant != "" && s.owners[id] != tenant {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

// SaveSession stores a new record, owned by the tenant in ctx.
func (s *Store) SaveSession(ctx context.Context, record *api.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return storage.ErrConflict
	}

	if s.cap > 0 && len(s.records) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
		delete(s.owners, oldest)
	}

	s.records[record.ID] = record
	s.owners[record.ID] = storage.GetTenant(ctx)
	s.order = append(s.order, record.ID)
	return nil
}

// GetSession retrieves a record by ID, scoped to the tenant in ctx.
func (s *Store) GetSession(ctx context.Context, id string) (*api.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(ctx, id)
}

// MarkClosed records the close timestamp on a session record.
func (s *Store) MarkClosed(ctx context.Context, id string, closedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	rec.ClosedAt = &closedAt
	return nil
}

// IncrementBatches bumps the batch counter on a session record.
func (s *Store) IncrementBatches(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	rec.Batches++
	return nil
}

// UpdateTimeout records a new idle timeout on a session record.
func (s *Store) UpdateTimeout(ctx context.Context, id string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	rec.TimeoutSeconds = seconds
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// ListSessions pages through records visible to the tenant in ctx,
// optionally filtered by handle name, ordered by creation time with ID
// as tiebreak.
func (s *Store) ListSessions(ctx context.Context, opts transport.ListOptions) (*transport.SessionList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant := storage.GetTenant(ctx)

	matches := []*api.SessionRecord{}
	for id, rec := range s.records {
		if tenant != "" && s.owners[id] != tenant {
			continue
		}
		if opts.Handle != "" && rec.HandleName != opts.Handle {
			continue
		}
		matches = append(matches, rec)
	}

	older := func(a, b *api.SessionRecord) bool {
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	}
	sort.Slice(matches, func(i, j int) bool {
		if opts.Order == "asc" {
			return older(matches[i], matches[j])
		}
		return older(matches[j], matches[i])
	})

	if opts.After != "" {
		idx := slices.IndexFunc(matches, func(r *api.SessionRecord) bool {
			return r.ID == opts.After
		})
		if idx < 0 {
			matches = matches[:0]
		} else {
			matches = matches[idx+1:]
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	out := &transport.SessionList{
		Object:  "list",
		Data:    matches,
		HasMore: hasMore,
	}
	if len(matches) > 0 {
		out.FirstID = matches[0].ID
		out.LastID = matches[len(matches)-1].ID
	}
	return out, nil
}
