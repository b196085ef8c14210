// Command sandbox-server runs the HTTP server inside sandbox pods that
// hosts stateful interpreter sessions. Each session owns a working
// directory and a persistent Python interpreter process, so variables
// and files survive across executions until the session is closed or
// its idle timeout expires.
//
// Configuration:
//
//	SANDBOX_PORT            - Listen port (default: 8080)
//	SANDBOX_TOKEN           - Required bearer token for all session endpoints
//	SANDBOX_MAX_SESSIONS    - Max concurrent sessions (default: 20)
//	SANDBOX_DEFAULT_TIMEOUT - Default idle timeout in seconds (default: 300)
//	SANDBOX_EXEC_TIMEOUT    - Per-execution timeout in seconds (default: 120)
package main

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

func main() {
	port := envString("SANDBOX_PORT", "8080")
	token := os.Getenv("SANDBOX_TOKEN")
	maxSessions := envInt("SANDBOX_MAX_SESSIONS", 20)
	defaultTimeout := envInt("SANDBOX_DEFAULT_TIMEOUT", 300)
	execTimeout := envInt("SANDBOX_EXEC_TIMEOUT", 120)

	if token == "" {
		slog.Error("SANDBOX_TOKEN is required")
		os.Exit(1)
	}
	if _, err := exec.LookPath("python3"); err != nil {
		slog.Error("python3 not found in PATH")
		os.Exit(1)
	}

	srv := &sandboxServer{
		sessions:       make(map[string]*session),
		maxSessions:    maxSessions,
		defaultTimeout: defaultTimeout,
		execTimeout:    time.Duration(execTimeout) * time.Second,
		startTime:      time.Now(),
	}

	httpSrv := &http.Server{
		Addr:         ":" + port,
		Handler:      requireToken(token, srv.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // long enough for slow executions
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	janitorDone := make(chan struct{})
	go srv.janitor(ctx, janitorDone)

	go func() {
		slog.Info("sandbox server starting", "port", port, "max_sessions", maxSessions, "default_timeout", defaultTimeout)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	<-janitorDone
	srv.closeAll()
}

// requireToken rejects requests without the expected bearer token.
// The health endpoint is exempt so kubelet checks need no credentials.
func requireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Server ---

func (srv *sandboxServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", srv.handleCreate)
	mux.HandleFunc("POST /sessions/{id}/run", srv.handleRun)
	mux.HandleFunc("PUT /sessions/{id}/files", srv.handleWriteFile)
	mux.HandleFunc("GET /sessions/{id}/files", srv.handleReadFile)
	mux.HandleFunc("GET /sessions/{id}/entries", srv.handleListEntries)
	mux.HandleFunc("PUT /sessions/{id}/timeout", srv.handleSetTimeout)
	mux.HandleFunc("DELETE /sessions/{id}", srv.handleDelete)
	mux.HandleFunc("GET /health", srv.handleHealth)
	return mux
}

type sandboxServer struct {
	mu             sync.Mutex
	sessions       map[string]*session
	reserved       int // creates in progress, counted against capacity
	nextID         int
	maxSessions    int
	defaultTimeout int
	execTimeout    time.Duration
	startTime      time.Time
}

// session is one stateful interpreter session.
type session struct {
	id     string
	dir    string
	interp *interpreter

	mu       sync.Mutex
	timeout  time.Duration
	lastUsed time.Time
}

// touch marks the session as recently used.
func (s *session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// idleFor reports how long the session has been idle and its timeout.
func (s *session) idleFor() (time.Duration, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastUsed), s.timeout
}

// reserve claims a capacity slot and allocates a session ID. The check
// and the claim happen under one lock, so concurrent creates cannot
// overshoot maxSessions between checking and inserting.
func (srv *sandboxServer) reserve() (string, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.sessions)+srv.reserved >= srv.maxSessions {
		return "", false
	}
	srv.reserved++
	srv.nextID++
	return fmt.Sprintf("sbx-%d-%d", srv.startTime.Unix(), srv.nextID), true
}

// unreserve returns a slot claimed by reserve after a failed create.
func (srv *sandboxServer) unreserve() {
	srv.mu.Lock()
	srv.reserved--
	srv.mu.Unlock()
}

// commit installs the created session, converting its reservation into
// a registry entry.
func (srv *sandboxServer) commit(sess *session) {
	srv.mu.Lock()
	srv.reserved--
	srv.sessions[sess.id] = sess
	srv.mu.Unlock()
}

func (srv *sandboxServer) lookup(id string) *session {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.sessions[id]
}

// remove detaches the session from the registry and tears it down.
func (srv *sandboxServer) remove(id string) bool {
	srv.mu.Lock()
	sess, ok := srv.sessions[id]
	delete(srv.sessions, id)
	srv.mu.Unlock()
	if !ok {
		return false
	}
	if sess.interp != nil {
		sess.interp.stop()
	}
	os.RemoveAll(sess.dir)
	return true
}

func (srv *sandboxServer) closeAll() {
	srv.mu.Lock()
	ids := make([]string, 0, len(srv.sessions))
	for id := range srv.sessions {
		ids = append(ids, id)
	}
	srv.mu.Unlock()
	for _, id := range ids {
		srv.remove(id)
	}
}

// janitor closes sessions whose idle timeout has expired.
func (srv *sandboxServer) janitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		srv.mu.Lock()
		var expired []string
		for id, sess := range srv.sessions {
			idle, timeout := sess.idleFor()
			if idle > timeout {
				expired = append(expired, id)
			}
		}
		srv.mu.Unlock()

		for _, id := range expired {
			slog.Info("closing idle session", "session_id", id)
			srv.remove(id)
		}
	}
}

// --- Session handlers ---

type createRequest struct {
	IdleTimeoutSeconds int               `json:"idle_timeout_seconds"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
}

func (srv *sandboxServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	timeout := req.IdleTimeoutSeconds
	if timeout <= 0 {
		timeout = srv.defaultTimeout
	}

	id, ok := srv.reserve()
	if !ok {
		writeError(w, http.StatusTooManyRequests, fmt.Sprintf("at capacity (%d sessions)", srv.maxSessions))
		return
	}

	dir, err := os.MkdirTemp("", "sandpit-session-*")
	if err != nil {
		srv.unreserve()
		writeError(w, http.StatusInternalServerError, "creating session dir: "+err.Error())
		return
	}

	interp, err := startInterpreter(dir)
	if err != nil {
		srv.unreserve()
		os.RemoveAll(dir)
		writeError(w, http.StatusInternalServerError, "starting interpreter: "+err.Error())
		return
	}

	srv.commit(&session{
		id:       id,
		dir:      dir,
		interp:   interp,
		timeout:  time.Duration(timeout) * time.Second,
		lastUsed: time.Now(),
	})

	slog.Info("session created", "session_id", id, "timeout_seconds", timeout, "metadata", len(req.Metadata))
	writeJSON(w, http.StatusOK, createResponse{SessionID: id})
}

type runRequest struct {
	Code string `json:"code"`
}

func (srv *sandboxServer) handleRun(w http.ResponseWriter, r *http.Request) {
	sess := srv.lookup(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.touch()

	var req runRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), srv.execTimeout)
	defer cancel()

	start := time.Now()
	result, err := sess.interp.run(ctx, req.Code)
	if err != nil {
		// The interpreter process is gone or wedged; the session is no
		// longer usable.
		slog.Error("execution channel failed", "session_id", sess.id, "error", err)
		srv.remove(sess.id)
		writeError(w, http.StatusInternalServerError, "execution failed: "+err.Error())
		return
	}

	slog.Info("code executed",
		"session_id", sess.id,
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout_lines", len(result.Stdout),
		"has_error", result.Error != "",
	)
	sess.touch()
	writeJSON(w, http.StatusOK, result)
}

type writeFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (srv *sandboxServer) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	sess := srv.lookup(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.touch()

	var req writeFileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if !strings.HasPrefix(req.Path, "/") {
		writeError(w, http.StatusBadRequest, "path must be absolute")
		return
	}

	path := sess.resolve(req.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		writeError(w, http.StatusBadRequest, "creating parent dir: "+err.Error())
		return
	}
	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		writeError(w, http.StatusBadRequest, "writing file: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type readFileResponse struct {
	Content string `json:"content"`
}

func (srv *sandboxServer) handleReadFile(w http.ResponseWriter, r *http.Request) {
	sess := srv.lookup(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.touch()

	path := r.URL.Query().Get("path")
	if !strings.HasPrefix(path, "/") {
		writeError(w, http.StatusBadRequest, "path query parameter must be an absolute path")
		return
	}

	data, err := os.ReadFile(sess.resolve(path))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading file: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, readFileResponse{Content: string(data)})
}

type listEntriesResponse struct {
	Entries []string `json:"entries"`
}

func (srv *sandboxServer) handleListEntries(w http.ResponseWriter, r *http.Request) {
	sess := srv.lookup(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.touch()

	path := r.URL.Query().Get("path")
	if !strings.HasPrefix(path, "/") {
		writeError(w, http.StatusBadRequest, "path query parameter must be an absolute path")
		return
	}

	dirEntries, err := os.ReadDir(sess.resolve(path))
	if err != nil {
		writeError(w, http.StatusBadRequest, "listing directory: "+err.Error())
		return
	}
	entries := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		entries = append(entries, e.Name())
	}
	writeJSON(w, http.StatusOK, listEntriesResponse{Entries: entries})
}

type setTimeoutRequest struct {
	IdleTimeoutSeconds int `json:"idle_timeout_seconds"`
}

func (srv *sandboxServer) handleSetTimeout(w http.ResponseWriter, r *http.Request) {
	sess := srv.lookup(r.PathValue("id"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req setTimeoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.IdleTimeoutSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "idle_timeout_seconds must be > 0")
		return
	}

	sess.mu.Lock()
	sess.timeout = time.Duration(req.IdleTimeoutSeconds) * time.Second
	sess.lastUsed = time.Now()
	sess.mu.Unlock()

	slog.Info("session timeout updated", "session_id", sess.id, "timeout_seconds", req.IdleTimeoutSeconds)
	w.WriteHeader(http.StatusNoContent)
}

func (srv *sandboxServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !srv.remove(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	slog.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// resolve maps a sandbox path to a real path under the session directory.
// Absolute paths keep their structure below the session root so that
// "/home/user/a.txt" from one session never collides with another's.
func (s *session) resolve(path string) string {
	cleaned := filepath.Clean("/" + path)
	return filepath.Join(s.dir, cleaned)
}

// --- Health handler ---

type healthResponse struct {
	Status     string `json:"status"`
	Sessions   int    `json:"sessions"`
	Capacity   int    `json:"capacity"`
	UptimeSecs int64  `json:"uptime_seconds"`
}

func (srv *sandboxServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	srv.mu.Lock()
	n := len(srv.sessions)
	srv.mu.Unlock()

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "healthy",
		Sessions:   n,
		Capacity:   srv.maxSessions,
		UptimeSecs: int64(time.Since(srv.startTime).Seconds()),
	})
}

// --- Interpreter ---

// runResult is the wire shape of one execution outcome. The runner
// process emits exactly one of these per request.
type runResult struct {
	Stdout  []string     `json:"stdout"`
	Stderr  []string     `json:"stderr"`
	Results []mainResult `json:"results"`
	Error   string       `json:"error,omitempty"`
}

type mainResult struct {
	Text         string `json:"text"`
	IsMainResult bool   `json:"is_main_result"`
}

// interpreter drives a persistent Python runner process over JSON lines
// on stdin/stdout. The runner keeps one globals namespace for the life
// of the session, which is what makes executions stateful.
type interpreter struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// runnerScript is the Python side of the JSON-lines protocol. It
// separates the trailing expression of each snippet so its value can be
// reported as the main result, mirroring notebook display semantics.
const runnerScript = `import ast, io, json, sys, traceback
from contextlib import redirect_stdout, redirect_stderr

ns = {"__name__": "__main__"}
for line in sys.stdin:
    req = json.loads(line)
    out, err = io.StringIO(), io.StringIO()
    results = []
    error = ""
    try:
        tree = ast.parse(req["code"], mode="exec")
        tail = None
        if tree.body and isinstance(tree.body[-1], ast.Expr):
            tail = ast.Expression(tree.body.pop(-1).value)
        with redirect_stdout(out), redirect_stderr(err):
            exec(compile(tree, "<session>", "exec"), ns)
            if tail is not None:
                value = eval(compile(tail, "<session>", "eval"), ns)
                if value is not None:
                    results.append({"text": repr(value), "is_main_result": True})
    except BaseException:
        error = traceback.format_exc()
    resp = {
        "stdout": out.getvalue().splitlines(),
        "stderr": err.getvalue().splitlines(),
        "results": results,
        "error": error,
    }
    sys.stdout.write(json.dumps(resp) + "\n")
    sys.stdout.flush()
`

// startInterpreter writes the runner script into dir and starts it.
func startInterpreter(dir string) (*interpreter, error) {
	runnerPath := filepath.Join(dir, ".runner.py")
	if err := os.WriteFile(runnerPath, []byte(runnerScript), 0o644); err != nil {
		return nil, fmt.Errorf("writing runner: %w", err)
	}

	cmd := exec.Command("python3", "-u", runnerPath)
	cmd.Dir = dir
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting python3: %w", err)
	}

	return &interpreter{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

// run sends one snippet to the runner and waits for its result.
// Executions are serialized per session. A context timeout kills the
// runner; there is no way to safely interrupt exec() mid-flight.
func (p *interpreter) run(ctx context.Context, code string) (*runResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if _, err := p.stdin.Write(append(req, '\n')); err != nil {
		return nil, fmt.Errorf("interpreter unavailable: %w", err)
	}

	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := p.stdout.ReadString('\n')
		ch <- lineResult{line, err}
	}()

	select {
	case <-ctx.Done():
		p.kill()
		return nil, fmt.Errorf("execution timed out")
	case lr := <-ch:
		if lr.err != nil {
			return nil, fmt.Errorf("interpreter exited: %w", lr.err)
		}
		var result runResult
		if err := json.Unmarshal([]byte(strings.TrimSpace(lr.line)), &result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
		if result.Stdout == nil {
			result.Stdout = []string{}
		}
		if result.Stderr == nil {
			result.Stderr = []string{}
		}
		if result.Results == nil {
			result.Results = []mainResult{}
		}
		return &result, nil
	}
}

// stop shuts the runner down, first by closing stdin so it exits its
// read loop, then by force if it lingers.
func (p *interpreter) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stdin.Close()

	done := make(chan struct{})
	go func() {
		p.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		p.cmd.Process.Kill()
		<-done
	}
}

func (p *interpreter) kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.cmd.Wait()
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func envString(key, fallback string) string {
	return cmp.Or(os.Getenv(key), fallback)
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return n
}
