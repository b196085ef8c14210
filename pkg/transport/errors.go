package transport

import (
	"encoding/json"
	"net/http"

	"github.com/sandpit-dev/sandpit/pkg/api"
)

// statusByType maps APIError types to HTTP status codes. Protocol-level
// failures (oversized body, wrong content type, bad method) never reach
// this table; the HTTP adapter answers those directly.
var statusByType = map[api.ErrorType]int{
	api.ErrorTypeInvalidRequest:  http.StatusBadRequest,
	api.ErrorTypeNotFound:        http.StatusNotFound,
	api.ErrorTypeTooManyRequests: http.StatusTooManyRequests,
	api.ErrorTypeSandboxError:    http.StatusBadGateway,
	api.ErrorTypeServerError:     http.StatusInternalServerError,
}

// HTTPStatusFromError returns the HTTP status for an APIError,
// defaulting to 500 for unrecognized types.
func HTTPStatusFromError(err *api.APIError) int {
	if code, ok := statusByType[err.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse sends apiErr in the standard error envelope with
// the given status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError sends apiErr with the status derived from its type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}
