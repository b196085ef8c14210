package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sandpit-dev/sandpit/pkg/api"
	"github.com/sandpit-dev/sandpit/pkg/debug"
	"github.com/sandpit-dev/sandpit/pkg/observability"
	"github.com/sandpit-dev/sandpit/pkg/provider"
)

// Run executes one batch against the handle's session, opening it first
// if needed. Sub-operations run in a fixed order (writes, execute, reads,
// list) and each is fault-isolated: its failure is recorded in the result
// without aborting the others. The listing is always attempted so callers
// get a current directory snapshot even when everything else failed.
//
// A non-nil error means the batch failed as a whole before any
// sub-operation ran (the session could not be opened); no partial result
// exists in that case.
func (h *Handle) Run(ctx context.Context, req *api.BatchRequest) (*api.BatchResult, error) {
	start := time.Now()

	sb, id, timeout, err := h.ensureOpen(ctx)
	if err != nil {
		observability.BatchesTotal.WithLabelValues("open_error").Inc()
		return nil, err
	}

	res := &api.BatchResult{
		SessionID:      id,
		TimeoutSeconds: timeout,
		Stdout:         []string{},
		Stderr:         []string{},
		Results:        []string{},
		WriteErrors:    map[string]string{},
		ReadContent:    map[string]string{},
		ReadErrors:     map[string]string{},
		Entries:        []string{},
	}

	h.runWrites(ctx, sb, req, res)
	h.runCode(ctx, sb, req, res)
	h.runReads(ctx, sb, req, res)
	h.runList(ctx, sb, req, res)

	if h.recorder != nil {
		h.recorder.BatchRun(ctx, id)
	}

	status := "ok"
	if res.CodeError != nil || len(res.WriteErrors) > 0 || len(res.ReadErrors) > 0 || res.ListError != nil {
		status = "partial_error"
	}
	observability.BatchesTotal.WithLabelValues(status).Inc()
	observability.BatchDuration.Observe(time.Since(start).Seconds())

	h.logger.Info("batch completed",
		"handle", h.name,
		"session_id", id,
		"writes", len(req.Writes),
		"reads", len(req.ReadFiles),
		"executed", req.Code != "",
		"status", status,
		"duration", time.Since(start),
	)

	// Non-persistent handles give up their session after every batch, so
	// the next call starts from a clean interpreter.
	if !h.persist {
		if err := h.Close(ctx); err != nil {
			h.logger.Warn("closing non-persistent session", "session_id", id, "error", err.Error())
		}
	}

	return res, nil
}

// runWrites applies each staged file in order. A failed write is recorded
// under its path and does not stop the remaining writes; duplicate paths
// are allowed, later entries win.
func (h *Handle) runWrites(ctx context.Context, sb provider.Sandbox, req *api.BatchRequest, res *api.BatchResult) {
	for _, wr := range req.Writes {
		debug.Log("session", "writing file", "session_id", res.SessionID, "path", wr.Path)
		if err := sb.WriteFile(ctx, wr.Path, wr.Content); err != nil {
			res.WriteErrors[wr.Path] = err.Error()
			observability.OperationsTotal.WithLabelValues("write", "error").Inc()
			h.logger.Warn("file write failed", "session_id", res.SessionID, "path", wr.Path, "error", err.Error())
			continue
		}
		observability.OperationsTotal.WithLabelValues("write", "ok").Inc()
	}
}

// runCode executes the batch's code, if any, against the session
// interpreter, so prior writes and state from previous batches are
// visible. An error reported by the interpreter becomes CodeError; a
// failure of the execution channel itself takes precedence over it,
// since it means the channel is unreliable.
func (h *Handle) runCode(ctx context.Context, sb provider.Sandbox, req *api.BatchRequest, res *api.BatchResult) {
	if req.Code == "" {
		return
	}

	debug.Log("session", "running code", "session_id", res.SessionID, "bytes", len(req.Code))
	exec, err := sb.RunCode(ctx, req.Code)
	if err != nil {
		msg := fmt.Sprintf("tool-level error during code execution: %v", err)
		res.CodeError = &msg
		observability.OperationsTotal.WithLabelValues("execute", "error").Inc()
		h.logger.Warn("code execution channel failed", "session_id", res.SessionID, "error", err.Error())
		return
	}

	if exec.Stdout != nil {
		res.Stdout = exec.Stdout
	}
	if exec.Stderr != nil {
		res.Stderr = exec.Stderr
	}
	for _, r := range exec.Results {
		if r.IsMainResult {
			res.Results = append(res.Results, r.Text)
		}
	}

	if exec.Error != "" {
		msg := exec.Error
		res.CodeError = &msg
		observability.OperationsTotal.WithLabelValues("execute", "error").Inc()
		h.logger.Warn("code execution failed", "session_id", res.SessionID, "error", exec.Error)
		return
	}
	observability.OperationsTotal.WithLabelValues("execute", "ok").Inc()
}

// runReads reads each requested path in order, after execution so files
// produced by the code are visible. Content and errors are recorded per
// path.
func (h *Handle) runReads(ctx context.Context, sb provider.Sandbox, req *api.BatchRequest, res *api.BatchResult) {
	for _, path := range req.ReadFiles {
		debug.Log("session", "reading file", "session_id", res.SessionID, "path", path)
		content, err := sb.ReadFile(ctx, path)
		if err != nil {
			res.ReadErrors[path] = err.Error()
			observability.OperationsTotal.WithLabelValues("read", "error").Inc()
			h.logger.Warn("file read failed", "session_id", res.SessionID, "path", path, "error", err.Error())
			continue
		}
		res.ReadContent[path] = content
		observability.OperationsTotal.WithLabelValues("read", "ok").Inc()
	}
}

// runList enumerates the batch's list path. It always runs, regardless of
// earlier failures, so the caller gets a directory snapshot for
// diagnostics.
func (h *Handle) runList(ctx context.Context, sb provider.Sandbox, req *api.BatchRequest, res *api.BatchResult) {
	path := req.ListPath
	if path == "" {
		path = h.listPath
	}

	entries, err := sb.List(ctx, path)
	if err != nil {
		msg := err.Error()
		res.ListError = &msg
		observability.OperationsTotal.WithLabelValues("list", "error").Inc()
		h.logger.Warn("directory listing failed", "session_id", res.SessionID, "path", path, "error", err.Error())
		return
	}
	for _, e := range entries {
		res.Entries = append(res.Entries, e.Name)
	}
	observability.OperationsTotal.WithLabelValues("list", "ok").Inc()
}
