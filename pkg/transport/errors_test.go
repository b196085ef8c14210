package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sandpit-dev/sandpit/pkg/api"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) *api.APIError {
	t.Helper()
	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return resp.Error
}

func TestHTTPStatusFromError(t *testing.T) {
	cases := map[api.ErrorType]int{
		api.ErrorTypeInvalidRequest:  http.StatusBadRequest,
		api.ErrorTypeNotFound:        http.StatusNotFound,
		api.ErrorTypeTooManyRequests: http.StatusTooManyRequests,
		api.ErrorTypeSandboxError:    http.StatusBadGateway,
		api.ErrorTypeServerError:     http.StatusInternalServerError,
		api.ErrorType("mystery"):     http.StatusInternalServerError,
	}

	for errType, want := range cases {
		err := &api.APIError{Type: errType, Message: "boom"}
		if got := HTTPStatusFromError(err); got != want {
			t.Errorf("HTTPStatusFromError(%q) = %d, want %d", errType, got, want)
		}
	}
}

func TestWriteErrorResponseEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, api.NewInvalidRequestError("timeout", "must be positive"), http.StatusBadRequest)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	got := decodeEnvelope(t, rec)
	if got.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("error type = %q, want %q", got.Type, api.ErrorTypeInvalidRequest)
	}
	if got.Param != "timeout" {
		t.Errorf("error param = %q, want timeout", got.Param)
	}
	if got.Message != "must be positive" {
		t.Errorf("error message = %q, want \"must be positive\"", got.Message)
	}
}

func TestWriteAPIErrorDerivesStatus(t *testing.T) {
	tests := []struct {
		name   string
		apiErr *api.APIError
		want   int
	}{
		{"invalid request", api.NewInvalidRequestError("timeout", "must be positive"), http.StatusBadRequest},
		{"not found", api.NewNotFoundError("no such session"), http.StatusNotFound},
		{"sandbox error", api.NewSandboxError("sandbox unreachable"), http.StatusBadGateway},
		{"server error", api.NewServerError("internal failure"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAPIError(rec, tt.apiErr)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := decodeEnvelope(t, rec); got.Type != tt.apiErr.Type {
				t.Errorf("error type = %q, want %q", got.Type, tt.apiErr.Type)
			}
		})
	}
}
