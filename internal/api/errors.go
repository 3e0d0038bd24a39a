package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fantom-ide/rbvmd/internal/codec"
	"github.com/fantom-ide/rbvmd/internal/pipeline"
	"github.com/fantom-ide/rbvmd/internal/proc"
	"github.com/fantom-ide/rbvmd/internal/session"
	"github.com/fantom-ide/rbvmd/internal/store"
)

// Error codes returned in API responses
const (
	ErrCodeInvalidBytecode    = "INVALID_BYTECODE"
	ErrCodeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
	ErrCodeSessionExists      = "SESSION_EXISTS"
	ErrCodeStreamClosed       = "STREAM_CLOSED"
	ErrCodeProtocolViolation  = "PROTOCOL_VIOLATION"
	ErrCodeExchangeTimeout    = "EXCHANGE_TIMEOUT"
	ErrCodeLaunchFailed       = "LAUNCH_FAILED"
	ErrCodeInterrupted        = "INTERRUPTED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{codec.ErrFormat, http.StatusBadRequest, ErrCodeInvalidBytecode},
	{pipeline.ErrUnsupportedFormat, http.StatusBadRequest, ErrCodeUnsupportedFormat},
	{session.ErrNotFound, http.StatusNotFound, ErrCodeSessionNotFound},
	{store.ErrNotFound, http.StatusNotFound, ErrCodeSessionNotFound},
	{session.ErrSessionExists, http.StatusConflict, ErrCodeSessionExists},
	{session.ErrProtocol, http.StatusConflict, ErrCodeProtocolViolation},
	{session.ErrStreamClosed, http.StatusGone, ErrCodeStreamClosed},
	{session.ErrTimeout, http.StatusGatewayTimeout, ErrCodeExchangeTimeout},
	{proc.ErrLaunch, http.StatusBadGateway, ErrCodeLaunchFailed},
	{proc.ErrInterrupted, http.StatusServiceUnavailable, ErrCodeInterrupted},
	{pipeline.ErrNoFreeID, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
}

// writeAPIError writes a structured error response with appropriate HTTP status
func writeAPIError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, ErrCodeInternalError
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			status, code = m.status, m.code
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: err.Error(),
	})
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}
