package api

// FileWrite is a single file staged into the sandbox before execution.
type FileWrite struct {
	// Path is the absolute path inside the sandbox to write to.
	Path string `json:"path"`

	// Content is the string content written to Path.
	Content string `json:"content"`
}

// BatchRequest is one call's worth of work against a sandbox session.
// All fields are optional; an empty batch still produces a directory
// listing of ListPath.
type BatchRequest struct {
	// Writes are applied in order before execution. Duplicate paths are
	// allowed; later entries overwrite earlier ones.
	Writes []FileWrite `json:"write_files,omitempty"`

	// Code is executed against the session interpreter after writes.
	// Empty means skip execution.
	Code string `json:"code,omitempty"`

	// ReadFiles are absolute paths read back after execution.
	ReadFiles []string `json:"read_files,omitempty"`

	// ListPath is the directory listed after all other operations.
	// Defaults to the session's configured list path (/home/user).
	ListPath string `json:"list_path,omitempty"`
}

// BatchResult is the per-category outcome of a batch. Sub-operations are
// fault-isolated: a failure in one category never suppresses the results
// of another. Maps are keyed by sandbox path.
type BatchResult struct {
	// SessionID identifies the session the batch ran against. It is stable
	// across batches until the session is closed; a close followed by a new
	// batch yields a fresh ID.
	SessionID string `json:"session_id"`

	// TimeoutSeconds is the idle timeout in effect for the session.
	TimeoutSeconds int `json:"timeout_seconds"`

	// Stdout and Stderr hold the captured output lines from execution.
	Stdout []string `json:"code_stdout"`
	Stderr []string `json:"code_stderr"`

	// Results holds the textual representation of every main result value
	// the interpreter produced (primary displayed output of a statement,
	// as opposed to printed output).
	Results []string `json:"code_results"`

	// CodeError is the execution error message, or nil if execution
	// succeeded or was skipped. A tool-level failure of the execution
	// channel takes precedence over an interpreter-reported error.
	CodeError *string `json:"code_error"`

	// WriteErrors maps failed write paths to their error messages.
	WriteErrors map[string]string `json:"write_files_errors"`

	// ReadContent maps successfully read paths to their content.
	ReadContent map[string]string `json:"read_files_content"`

	// ReadErrors maps failed read paths to their error messages.
	ReadErrors map[string]string `json:"read_files_errors"`

	// Entries lists the names found at the batch's list path.
	Entries []string `json:"sandbox_files"`

	// ListError is set when the listing itself failed.
	ListError *string `json:"list_files_error"`
}

// BatchError is returned instead of a BatchResult when the batch failed
// as a whole before any sub-operation ran (for example, session open
// failed). SessionID is included when known.
type BatchError struct {
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error"`
}

// TimeoutStatus classifies the outcome of an idle-timeout update.
type TimeoutStatus string

const (
	// TimeoutUpdated means a live session accepted the new timeout.
	TimeoutUpdated TimeoutStatus = "updated"

	// TimeoutDeferred means no session was open; the value is stored and
	// applied at next open. This is a success outcome.
	TimeoutDeferred TimeoutStatus = "no_active_session"

	// TimeoutFailed means the remote rejected the new value. The session
	// remains open with its previous timeout.
	TimeoutFailed TimeoutStatus = "error"
)

// TimeoutResult reports the outcome of an idle-timeout update.
type TimeoutResult struct {
	SessionID      string        `json:"session_id,omitempty"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	Status         TimeoutStatus `json:"status"`
	Message        string        `json:"message,omitempty"`
}

// SessionRecord is the stored audit record for one remote session's
// lifetime, from open to close.
type SessionRecord struct {
	// ID is the session identifier (sess_ prefix).
	ID string `json:"id"`

	// HandleName is the caller-chosen logical handle the session belongs to.
	HandleName string `json:"handle_name"`

	// TimeoutSeconds is the idle timeout the session was opened with.
	TimeoutSeconds int `json:"timeout_seconds"`

	// Batches counts batches executed against this session.
	Batches int `json:"batches"`

	// CreatedAt is the open time as a Unix timestamp.
	CreatedAt int64 `json:"created_at"`

	// ClosedAt is the close time as a Unix timestamp, nil while open.
	ClosedAt *int64 `json:"closed_at,omitempty"`
}
