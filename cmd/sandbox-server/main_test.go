package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestServer(maxSessions int) *sandboxServer {
	return &sandboxServer{
		sessions:       make(map[string]*session),
		maxSessions:    maxSessions,
		defaultTimeout: 300,
		execTimeout:    5 * time.Second,
		startTime:      time.Now(),
	}
}

// addSession installs a session without an interpreter; enough for the
// file and metadata handlers.
func addSession(t *testing.T, srv *sandboxServer) *session {
	t.Helper()
	id, ok := srv.reserve()
	if !ok {
		t.Fatal("reserve failed with free capacity")
	}
	sess := &session{
		id:       id,
		dir:      t.TempDir(),
		timeout:  5 * time.Minute,
		lastUsed: time.Now(),
	}
	srv.commit(sess)
	return sess
}

func do(t *testing.T, srv *sandboxServer, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, r)
	return rec
}

func TestReserveHoldsCapacityUnderConcurrency(t *testing.T) {
	srv := newTestServer(2)

	const attempts = 20
	var wg sync.WaitGroup
	results := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = srv.reserve()
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, ok := range results {
		if ok {
			granted++
		}
	}
	if granted != 2 {
		t.Errorf("granted %d slots, want exactly 2", granted)
	}
}

func TestUnreserveFreesSlot(t *testing.T) {
	srv := newTestServer(1)

	if _, ok := srv.reserve(); !ok {
		t.Fatal("first reserve should succeed")
	}
	if _, ok := srv.reserve(); ok {
		t.Fatal("second reserve should fail at capacity")
	}

	srv.unreserve()
	if _, ok := srv.reserve(); !ok {
		t.Error("reserve should succeed after the failed create released its slot")
	}
}

func TestCommittedSessionCountsAgainstCapacity(t *testing.T) {
	srv := newTestServer(1)
	addSession(t, srv)

	if _, ok := srv.reserve(); ok {
		t.Error("reserve should fail while a committed session holds the slot")
	}
}

func TestFileHandlersRejectRelativePaths(t *testing.T) {
	srv := newTestServer(4)
	sess := addSession(t, srv)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"write", "PUT", "/sessions/" + sess.id + "/files", `{"path":"notes.txt","content":"x"}`},
		{"read", "GET", "/sessions/" + sess.id + "/files?path=notes.txt", ""},
		{"read empty", "GET", "/sessions/" + sess.id + "/files", ""},
		{"list", "GET", "/sessions/" + sess.id + "/entries?path=home", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.target, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 for relative path", rec.Code)
			}
		})
	}
}

func TestFileRoundTrip(t *testing.T) {
	srv := newTestServer(4)
	sess := addSession(t, srv)

	rec := do(t, srv, "PUT", "/sessions/"+sess.id+"/files", `{"path":"/home/user/notes.txt","content":"hello"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("write status = %d, want 204: %s", rec.Code, rec.Body)
	}

	rec = do(t, srv, "GET", "/sessions/"+sess.id+"/files?path=/home/user/notes.txt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("read status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var read readFileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &read); err != nil {
		t.Fatalf("decoding read response: %v", err)
	}
	if read.Content != "hello" {
		t.Errorf("content = %q, want hello", read.Content)
	}

	rec = do(t, srv, "GET", "/sessions/"+sess.id+"/entries?path=/home/user", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var list listEntriesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list response: %v", err)
	}
	if len(list.Entries) != 1 || list.Entries[0] != "notes.txt" {
		t.Errorf("entries = %v, want [notes.txt]", list.Entries)
	}
}

func TestResolveConfinesTraversal(t *testing.T) {
	srv := newTestServer(4)
	sess := addSession(t, srv)

	rec := do(t, srv, "PUT", "/sessions/"+sess.id+"/files", `{"path":"/../../escape.txt","content":"x"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("write status = %d, want 204: %s", rec.Code, rec.Body)
	}

	inside := filepath.Join(sess.dir, "escape.txt")
	if _, err := os.Stat(inside); err != nil {
		t.Errorf("file should have been confined to %s: %v", sess.dir, err)
	}
	outside := filepath.Join(filepath.Dir(sess.dir), "escape.txt")
	if _, err := os.Stat(outside); err == nil {
		t.Errorf("file escaped the session directory to %s", outside)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	srv := newTestServer(4)

	rec := do(t, srv, "GET", "/sessions/sbx-0-99/files?path=/home/user/notes.txt", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
