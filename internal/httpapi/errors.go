package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"predictd/internal/handler"
	"predictd/internal/registry"
	"predictd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps a service error to an HTTP status and an error kind. A
// deadline wins over the pipeline stage it interrupted.
func statusFor(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	if registry.IsModelNotFound(err) {
		return http.StatusNotFound, "model_not_found"
	}
	switch kind := handler.ErrorKind(err); kind {
	case "preprocessing":
		return http.StatusBadRequest, kind
	case "model_load":
		return http.StatusServiceUnavailable, kind
	case "inference", "postprocessing":
		return http.StatusInternalServerError, kind
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), ""
	}
	return http.StatusInternalServerError, ""
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSONErrorKind(w, status, msg, "")
}

func writeJSONErrorKind(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: kind})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
