// Package postgres provides a PostgreSQL implementation of
// transport.SessionStore on top of a pgx/v5 connection pool.
package postgres

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sandpit-dev/sandpit/pkg/api"
	"github.com/sandpit-dev/sandpit/pkg/storage"
	"github.com/sandpit-dev/sandpit/pkg/transport"
)

const recordColumns = "id, handle_name, timeout_seconds, batches, created_at, closed_at"

// Config holds pool sizing and startup behavior for the store.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxConns and MinConns bound the pool (25 and 5 when zero).
	MaxConns int32
	MinConns int32

	// MaxConnLifetime recycles connections after this age (5 minutes
	// when zero).
	MaxConnLifetime time.Duration

	// MigrateOnStart applies pending schema migrations before the
	// store serves its first query.
	MigrateOnStart bool
}

// Store is a PostgreSQL-backed SessionStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ transport.SessionStore = (*Store)(nil)

// New opens a connection pool against cfg.DSN, verifies connectivity,
// and optionally applies pending schema migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cmp.Or(cfg.MaxConns, 25)
	poolCfg.MinConns = cmp.Or(cfg.MinConns, 5)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if poolCfg.MaxConnLifetime == 0 {
		poolCfg.MaxConnLifetime = 5 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveSession inserts a new session record owned by the tenant in ctx.
func (s *Store) SaveSession(ctx context.Context, record *api.SessionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, tenant_id, handle_name, timeout_seconds, batches, created_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		record.ID, storage.GetTenant(ctx), record.HandleName, record.TimeoutSeconds,
		record.Batches, record.CreatedAt, record.ClosedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// withTenant appends a tenant_id condition when ctx carries a tenant.
// The returned args include the tenant value; placeholders continue
// from len(args).
func withTenant(ctx context.Context, query string, args []any) (string, []any) {
	tenant := storage.GetTenant(ctx)
	if tenant == "" {
		return query, args
	}
	return fmt.Sprintf("%s AND tenant_id = $%d", query, len(args)+1), append(args, tenant)
}

// GetSession retrieves a session record by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*api.SessionRecord, error) {
	query, args := withTenant(ctx,
		"SELECT "+recordColumns+" FROM sessions WHERE id = $1", []any{id})

	var record api.SessionRecord
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&record.ID, &record.HandleName, &record.TimeoutSeconds,
		&record.Batches, &record.CreatedAt, &record.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &record, nil
}

// updateOne runs a tenant-scoped UPDATE that must touch exactly one row.
func (s *Store) updateOne(ctx context.Context, verb, query string, args []any) error {
	query, args = withTenant(ctx, query, args)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", verb, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkClosed records the close timestamp on a session record.
func (s *Store) MarkClosed(ctx context.Context, id string, closedAt int64) error {
	return s.updateOne(ctx, "closing session",
		"UPDATE sessions SET closed_at = $1 WHERE id = $2 AND closed_at IS NULL",
		[]any{closedAt, id})
}

// IncrementBatches bumps the batch counter on a session record.
func (s *Store) IncrementBatches(ctx context.Context, id string) error {
	return s.updateOne(ctx, "updating session batches",
		"UPDATE sessions SET batches = batches + 1 WHERE id = $1",
		[]any{id})
}

// UpdateTimeout records a new idle timeout on a session record.
func (s *Store) UpdateTimeout(ctx context.Context, id string, seconds int) error {
	return s.updateOne(ctx, "updating session timeout",
		"UPDATE sessions SET timeout_seconds = $1 WHERE id = $2",
		[]any{seconds, id})
}

// ListSessions pages through session records, newest first by default.
// Keyset pagination over (created_at, id) keeps the cursor stable while
// new sessions arrive.
func (s *Store) ListSessions(ctx context.Context, opts transport.ListOptions) (*transport.SessionList, error) {
	limit := opts.Limit
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}

	dir, cmp := "DESC", "<"
	if opts.Order == "asc" {
		dir, cmp = "ASC", ">"
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + recordColumns + " FROM sessions WHERE 1=1")
	var args []any

	next := func() int { return len(args) + 1 }
	if tenant := storage.GetTenant(ctx); tenant != "" {
		fmt.Fprintf(&sb, " AND tenant_id = $%d", next())
		args = append(args, tenant)
	}
	if opts.Handle != "" {
		fmt.Fprintf(&sb, " AND handle_name = $%d", next())
		args = append(args, opts.Handle)
	}
	if opts.After != "" {
		fmt.Fprintf(&sb,
			" AND (created_at, id) %s (SELECT created_at, id FROM sessions WHERE id = $%d)",
			cmp, next())
		args = append(args, opts.After)
	}

	// One extra row decides has_more.
	fmt.Fprintf(&sb, " ORDER BY created_at %s, id %s LIMIT $%d", dir, dir, next())
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	records := []*api.SessionRecord{}
	for rows.Next() {
		var record api.SessionRecord
		if err := rows.Scan(
			&record.ID, &record.HandleName, &record.TimeoutSeconds,
			&record.Batches, &record.CreatedAt, &record.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	out := &transport.SessionList{
		Object:  "list",
		Data:    records,
		HasMore: hasMore,
	}
	if len(records) > 0 {
		out.FirstID = records[0].ID
		out.LastID = records[len(records)-1].ID
	}
	return out, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
