package storage

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/sandpit-dev/sandpit/pkg/api"
	"github.com/sandpit-dev/sandpit/pkg/transport"
)

// failingStore returns ErrNotFound from every mutation.
type failingStore struct{}

func (failingStore) SaveSession(context.Context, *api.SessionRecord) error { return ErrConflict }
func (failingStore) GetSession(context.Context, string) (*api.SessionRecord, error) {
	return nil, ErrNotFound
}
func (failingStore) ListSessions(context.Context, transport.ListOptions) (*transport.SessionList, error) {
	return nil, ErrNotFound
}
func (failingStore) MarkClosed(context.Context, string, int64) error { return ErrNotFound }
func (failingStore) IncrementBatches(context.Context, string) error  { return ErrNotFound }
func (failingStore) UpdateTimeout(context.Context, string, int) error {
	return ErrNotFound
}
func (failingStore) HealthCheck(context.Context) error { return nil }
func (failingStore) Close() error                      { return nil }

func TestRecorderLogsStoreFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := NewRecorder(failingStore{}, logger)
	ctx := context.Background()

	// None of these may panic or propagate the store error.
	r.SessionOpened(ctx, &api.SessionRecord{ID: "sess_rec1"})
	r.BatchRun(ctx, "sess_rec1")
	r.TimeoutChanged(ctx, "sess_rec1", 600)
	r.SessionClosed(ctx, "sess_rec1", 2000)

	output := buf.String()
	for _, want := range []string{
		"failed to record session open",
		"failed to record batch",
		"failed to record timeout update",
		"failed to record session close",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("log output missing %q in:\n%s", want, output)
		}
	}
}
