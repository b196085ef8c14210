package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/sandpit-dev/sandpit/pkg/api"
)

var _ BatchRunner = BatchRunnerFunc(nil)

func TestBatchRunnerFuncForwardsArguments(t *testing.T) {
	var gotHandle, gotCode string
	fn := BatchRunnerFunc(func(_ context.Context, handle string, req *api.BatchRequest) (*api.BatchResult, error) {
		gotHandle, gotCode = handle, req.Code
		return &api.BatchResult{SessionID: "sess_fwd"}, nil
	})

	res, err := fn.RunBatch(context.Background(), "scratch", &api.BatchRequest{Code: "1 + 1"})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if gotHandle != "scratch" || gotCode != "1 + 1" {
		t.Errorf("forwarded (%q, %q), want (scratch, 1 + 1)", gotHandle, gotCode)
	}
	if res.SessionID != "sess_fwd" {
		t.Errorf("SessionID = %q, want sess_fwd", res.SessionID)
	}
}

func TestBatchRunnerFuncPassesErrorThrough(t *testing.T) {
	fn := BatchRunnerFunc(func(context.Context, string, *api.BatchRequest) (*api.BatchResult, error) {
		return nil, api.NewServerError("backend down")
	})

	_, err := fn.RunBatch(context.Background(), "scratch", &api.BatchRequest{})
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *api.APIError", err)
	}
	if apiErr.Type != api.ErrorTypeServerError {
		t.Errorf("Type = %q, want %q", apiErr.Type, api.ErrorTypeServerError)
	}
}
