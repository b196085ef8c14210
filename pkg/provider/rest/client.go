package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sandpit-dev/sandpit/pkg/provider"
)

// Ensure the REST types satisfy the provider contract.
var (
	_ provider.Provider = (*Client)(nil)
	_ provider.Sandbox  = (*Session)(nil)
)

// Config holds settings for the REST provider client.
type Config struct {
	// BaseURL is the sandbox server address (e.g., "http://sandbox:8080").
	BaseURL string

	// Token is the bearer token required by the sandbox server. Empty is
	// a configuration error surfaced at construction time.
	Token string

	// HTTPTimeout bounds individual HTTP calls. Defaults to 180s, long
	// enough for slow code executions (the remote side enforces its own
	// execution limits).
	HTTPTimeout time.Duration
}

// Client is a provider.Provider that creates sessions on a sandbox server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a REST provider client. Returns provider.ErrMissingToken when
// no token is configured; nothing is dialed until the first Create.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, provider.ErrMissingToken
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest: base URL is required")
	}
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Create opens a new session on the sandbox server.
func (c *Client) Create(ctx context.Context, opts provider.CreateOptions) (provider.Sandbox, error) {
	var resp createResponse
	err := c.do(ctx, http.MethodPost, "/sessions", createRequest{
		IdleTimeoutSeconds: opts.IdleTimeoutSeconds,
		Metadata:           opts.Metadata,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("create session: server returned empty session id")
	}
	return &Session{client: c, remoteID: resp.SessionID}, nil
}

// Session is one live remote session hosted by a sandbox server.
type Session struct {
	client   *Client
	remoteID string
}

// RemoteID returns the server-side session identifier.
func (s *Session) RemoteID() string {
	return s.remoteID
}

// WriteFile writes content to an absolute path inside the sandbox.
func (s *Session) WriteFile(ctx context.Context, path, content string) error {
	return s.client.do(ctx, http.MethodPut, "/sessions/"+s.remoteID+"/files", writeRequest{
		Path:    path,
		Content: content,
	}, nil)
}

// ReadFile reads the content of an absolute path inside the sandbox.
func (s *Session) ReadFile(ctx context.Context, path string) (string, error) {
	var resp readResponse
	p := "/sessions/" + s.remoteID + "/files?path=" + url.QueryEscape(path)
	if err := s.client.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// RunCode executes code against the session interpreter.
func (s *Session) RunCode(ctx context.Context, code string) (*provider.Execution, error) {
	var resp runResponse
	err := s.client.do(ctx, http.MethodPost, "/sessions/"+s.remoteID+"/run", runRequest{Code: code}, &resp)
	if err != nil {
		return nil, err
	}

	exec := &provider.Execution{
		Stdout: resp.Stdout,
		Stderr: resp.Stderr,
		Error:  resp.Error,
	}
	for _, r := range resp.Results {
		exec.Results = append(exec.Results, provider.Result{
			Text:         r.Text,
			IsMainResult: r.IsMainResult,
		})
	}
	return exec, nil
}

// List enumerates the entries of a directory inside the sandbox.
func (s *Session) List(ctx context.Context, path string) ([]provider.Entry, error) {
	var resp listResponse
	p := "/sessions/" + s.remoteID + "/entries?path=" + url.QueryEscape(path)
	if err := s.client.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	entries := make([]provider.Entry, 0, len(resp.Entries))
	for _, name := range resp.Entries {
		entries = append(entries, provider.Entry{Name: name})
	}
	return entries, nil
}

// SetTimeout updates the session's idle timeout on the server.
func (s *Session) SetTimeout(ctx context.Context, seconds int) error {
	return s.client.do(ctx, http.MethodPut, "/sessions/"+s.remoteID+"/timeout", timeoutRequest{
		IdleTimeoutSeconds: seconds,
	}, nil)
}

// Kill terminates the remote session.
func (s *Session) Kill(ctx context.Context) error {
	return s.client.do(ctx, http.MethodDelete, "/sessions/"+s.remoteID, nil, nil)
}

// do performs one HTTP call against the sandbox server, handling auth,
// JSON codec, and status-to-error mapping. out may be nil for calls whose
// response body is ignored.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", provider.ErrSessionNotFound, errorMessage(respBody))
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("sandbox at capacity (HTTP 429)")
	case resp.StatusCode >= 300:
		return fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, errorMessage(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the error field from a server response body,
// falling back to the raw body.
func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
