package rpc

import (
	"errors"
	"net/http"

	"github.com/windlass-dev/windlass"
)

// errorResponse is the JSON body written for any non-2xx façade response.
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps a façade error to an HTTP status code via the typed error
// taxonomy's Kind() tag (errors.go), falling back to 500 for anything that
// doesn't implement windlass.KindError (programmer error, not a domain one).
func statusFor(err error) int {
	if errors.Is(err, windlass.ErrNotFound) {
		return http.StatusNotFound
	}

	var kindErr windlass.KindError
	if !errors.As(err, &kindErr) {
		return http.StatusInternalServerError
	}

	switch kindErr.Kind() {
	case "VALIDATION_ERROR", "BINDING_ERROR", "SCHEMA_VALIDATION_ERROR":
		return http.StatusBadRequest
	case "AUTH_ERROR":
		return http.StatusUnauthorized
	case "TIMEOUT_ERROR":
		return http.StatusGatewayTimeout
	case "NETWORK_ERROR", "HTTP_ERROR", "DECODE_ERROR":
		return http.StatusBadGateway
	case "STORE_ERROR", "EXPRESSION_ERROR":
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func toErrorResponse(err error) errorResponse {
	var kindErr windlass.KindError
	if errors.As(err, &kindErr) {
		return errorResponse{Kind: kindErr.Kind(), Message: err.Error()}
	}
	if errors.Is(err, windlass.ErrNotFound) {
		return errorResponse{Kind: "NOT_FOUND", Message: err.Error()}
	}
	return errorResponse{Kind: "INTERNAL_ERROR", Message: err.Error()}
}
