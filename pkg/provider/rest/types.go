// Package rest implements provider.Provider against the sandbox-server
// session REST API. One Client may host many sessions; each session is
// addressed by the remote session ID returned at creation.
package rest

// createRequest is the request body for POST /sessions.
type createRequest struct {
	IdleTimeoutSeconds int               `json:"idle_timeout_seconds"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// createResponse is the response from POST /sessions.
type createResponse struct {
	SessionID string `json:"session_id"`
}

// runRequest is the request body for POST /sessions/{id}/run.
type runRequest struct {
	Code string `json:"code"`
}

// runResult mirrors provider.Result on the wire.
type runResult struct {
	Text         string `json:"text"`
	IsMainResult bool   `json:"is_main_result"`
}

// runResponse is the response from POST /sessions/{id}/run.
type runResponse struct {
	Stdout  []string    `json:"stdout"`
	Stderr  []string    `json:"stderr"`
	Results []runResult `json:"results"`
	Error   string      `json:"error,omitempty"`
}

// writeRequest is the request body for PUT /sessions/{id}/files.
type writeRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// readResponse is the response from GET /sessions/{id}/files.
type readResponse struct {
	Content string `json:"content"`
}

// listResponse is the response from GET /sessions/{id}/entries.
type listResponse struct {
	Entries []string `json:"entries"`
}

// timeoutRequest is the request body for PUT /sessions/{id}/timeout.
type timeoutRequest struct {
	IdleTimeoutSeconds int `json:"idle_timeout_seconds"`
}

// errorResponse is the body the sandbox server returns on failures.
type errorResponse struct {
	Error string `json:"error"`
}
