package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/monitor"
	"github.com/nerrad567/devicelink/internal/session"
)

// Error is the body of an error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse wraps Error as {"error":{...}}.
type errorResponse struct {
	Error Error `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeForbidden        = "forbidden"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeNotConnected     = "not_connected"
	ErrCodeAlreadyConnected = "already_connected"
	ErrCodeInProgress       = "operation_in_progress"
	ErrCodeTimeout          = "timeout"
	ErrCodeTransport        = "transport_failure"
	ErrCodeHistoryDisabled  = "history_disabled"
	ErrCodeUnavailable      = "service_unavailable"
	ErrCodeCancelled        = "request_cancelled"
)

// statusClientClosedRequest reports a request the client abandoned before
// the service finished.
const statusClientClosedRequest = 499

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: Error{Code: code, Message: message}})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorStatus maps a service error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case isValidationError(err):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict, ErrCodeNotConnected
	case errors.Is(err, session.ErrAlreadyConnected):
		return http.StatusConflict, ErrCodeAlreadyConnected
	case errors.Is(err, session.ErrOperationInProgress):
		return http.StatusConflict, ErrCodeInProgress
	case errors.Is(err, session.ErrTimeout):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, session.ErrTransportFailure):
		return http.StatusBadGateway, ErrCodeTransport
	case errors.Is(err, monitor.ErrHistoryDisabled):
		return http.StatusNotFound, ErrCodeHistoryDisabled
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, ErrCodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeServiceError writes the response for an error returned by the
// monitor service. Internal errors are logged and reported generically.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	status, code := errorStatus(err)
	switch status {
	case statusClientClosedRequest:
		s.logger.Debug(action+" cancelled by client",
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	case http.StatusInternalServerError:
		s.logger.Error(action+" failed",
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, action+" failed")
		return
	}
	writeError(w, status, code, err.Error())
}

// isValidationError reports whether err came from input validation.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidTopic) ||
		errors.Is(err, device.ErrInvalidField) ||
		errors.Is(err, session.ErrInvalidTopic) ||
		errors.Is(err, session.ErrInvalidQoS)
}
