package provider

import (
	"context"
	"errors"
)

// Sentinel errors for provider operations.
var (
	// ErrMissingToken is returned when the provider access token is absent.
	// This is a configuration error: it is surfaced before any remote call
	// is attempted and is never retried.
	ErrMissingToken = errors.New("provider token not configured")

	// ErrSessionNotFound is returned when the remote side no longer knows
	// the session (evicted by idle timeout or terminated).
	ErrSessionNotFound = errors.New("remote session not found")
)

// CreateOptions configures a new remote session.
type CreateOptions struct {
	// IdleTimeoutSeconds is the duration after which an unused session is
	// eligible for automatic termination by the provider.
	IdleTimeoutSeconds int

	// Metadata is attached to the remote session for tracking. The gateway
	// sets the key "sandpit_session_id" to the handle's session ID.
	Metadata map[string]string
}

// Result is a single result value produced by an executed statement.
type Result struct {
	// Text is the textual representation of the value.
	Text string

	// IsMainResult marks the value the interpreter designates as the
	// primary displayed output of a statement, as opposed to incidental
	// output.
	IsMainResult bool
}

// Execution is the outcome of running code in a remote session.
type Execution struct {
	Stdout  []string
	Stderr  []string
	Results []Result

	// Error is the interpreter-reported error message, empty on success.
	// A failure of the execution channel itself is reported as a Go error
	// from RunCode instead.
	Error string
}

// Entry is a single directory entry from a listing.
type Entry struct {
	Name string
}

// Sandbox is a live remote execution session: an isolated interpreter with
// a private filesystem whose state persists across calls. Implementations
// must be safe for use from multiple goroutines.
type Sandbox interface {
	// WriteFile writes content to an absolute path inside the sandbox.
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile reads the content of an absolute path inside the sandbox.
	ReadFile(ctx context.Context, path string) (string, error)

	// RunCode executes code against the session interpreter. The returned
	// Execution carries interpreter-reported errors; a non-nil error means
	// the execution channel itself failed.
	RunCode(ctx context.Context, code string) (*Execution, error)

	// List enumerates the entries of a directory inside the sandbox.
	List(ctx context.Context, path string) ([]Entry, error)

	// SetTimeout updates the session's idle timeout on the remote side.
	SetTimeout(ctx context.Context, seconds int) error

	// Kill terminates the remote session and frees its resources.
	Kill(ctx context.Context) error
}

// Provider creates remote sessions. Implementations exist for a static
// sandbox-server URL (rest) and for per-session pods provisioned through
// SandboxClaim CRDs (kubernetes).
type Provider interface {
	Create(ctx context.Context, opts CreateOptions) (Sandbox, error)
}
