// Package mcptool exposes the gateway's session operations as MCP
// (Model Context Protocol) tools, so agent frameworks can drive sandbox
// sessions without speaking the REST API.
//
// Three tools are registered: "sandbox_session" runs a batch against a
// named session, "set_session_timeout" adjusts the idle timeout, and
// "close_session" tears the session down. Results are returned as JSON
// text content.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sandpit-dev/sandpit/pkg/api"
	"github.com/sandpit-dev/sandpit/pkg/transport"
)

// DefaultHandle is the session handle used when a tool call does not
// name one. Tools sharing the default handle share sandbox state.
const DefaultHandle = "default"

// BatchInput is the input schema for the sandbox_session tool.
type BatchInput struct {
	Session   string          `json:"session,omitempty" jsonschema_description:"Session handle name. Calls with the same name share one sandbox. Defaults to \"default\"."`
	Writes    []api.FileWrite `json:"write_files,omitempty" jsonschema_description:"Files to write into the sandbox before execution."`
	Code      string          `json:"code,omitempty" jsonschema_description:"Python code to execute in the session interpreter."`
	ReadFiles []string        `json:"read_files,omitempty" jsonschema_description:"Absolute paths to read back after execution."`
	ListPath  string          `json:"list_path,omitempty" jsonschema_description:"Directory to list at the end of the batch. Defaults to /home/user."`
}

// TimeoutInput is the input schema for the set_session_timeout tool.
type TimeoutInput struct {
	Session        string `json:"session,omitempty" jsonschema_description:"Session handle name. Defaults to \"default\"."`
	TimeoutSeconds int    `json:"timeout_seconds" jsonschema_description:"New idle timeout in seconds."`
}

// CloseInput is the input schema for the close_session tool.
type CloseInput struct {
	Session string `json:"session,omitempty" jsonschema_description:"Session handle name. Defaults to \"default\"."`
}

// NewServer builds an MCP server exposing the manager's session
// operations as tools.
func NewServer(manager transport.SessionManager) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "sandpit", Version: "v1.0.0"},
		nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sandbox_session",
		Description: "Runs a batch of work against a named sandbox session: write files, execute code, read files back, and list a directory. The session is created on first use and keeps filesystem and interpreter state across calls.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input BatchInput) (*mcp.CallToolResult, struct{}, error) {
		res, err := manager.RunBatch(ctx, handleName(input.Session), &api.BatchRequest{
			Writes:    input.Writes,
			Code:      input.Code,
			ReadFiles: input.ReadFiles,
			ListPath:  input.ListPath,
		})
		if err != nil {
			return errorResult(err), struct{}{}, nil
		}
		return jsonResult(res), struct{}{}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_session_timeout",
		Description: "Sets the idle timeout of a sandbox session. Applies immediately when the session is open, otherwise takes effect at next open.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input TimeoutInput) (*mcp.CallToolResult, struct{}, error) {
		res, err := manager.SetTimeout(ctx, handleName(input.Session), input.TimeoutSeconds)
		if err != nil {
			return errorResult(err), struct{}{}, nil
		}
		return jsonResult(res), struct{}{}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "close_session",
		Description: "Closes a sandbox session and discards its state. The handle name stays usable; the next batch starts a fresh session.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input CloseInput) (*mcp.CallToolResult, struct{}, error) {
		if err := manager.CloseSession(ctx, handleName(input.Session)); err != nil {
			return errorResult(err), struct{}{}, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "session closed"}},
		}, struct{}{}, nil
	})

	return server
}

// Handler returns an http.Handler serving the MCP server over the
// streamable HTTP transport.
func Handler(manager transport.SessionManager) http.Handler {
	server := NewServer(manager)
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return server
	}, nil)
}

func handleName(name string) string {
	if name == "" {
		return DefaultHandle
	}
	return name
}

// jsonResult marshals v into a single text content block.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Errorf("encoding result: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// errorResult reports a failed tool call without failing the protocol
// request, so the calling agent sees the message.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
