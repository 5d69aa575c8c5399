package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/playout/actions"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// Error represents a structured error response.
type Error struct {
	Status  int            `json:"status"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Args    map[string]any `json:"args,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "job_aborted"
	ErrCodeTimeout      = "job_timeout"
)

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
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
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

// jobError maps the outcome of a failed job to a response.
func jobError(err error) Error {
	if ue, ok := playout.IsUserError(err); ok {
		return Error{
			Status:  userErrorStatus(ue.Code),
			Code:    string(ue.Code),
			Message: ue.Message,
			Args:    ue.Args,
		}
	}

	var ae *actions.Error
	switch {
	case errors.As(err, &ae):
		return Error{
			Status:  http.StatusUnprocessableEntity,
			Code:    string(playout.CodeActionFailed),
			Message: ae.Error(),
			Args:    map[string]any{"action_id": ae.ActionID},
		}
	case errors.Is(err, rundown.ErrPlaylistNotFound):
		return Error{Status: http.StatusNotFound, Code: ErrCodeNotFound, Message: "playlist not found"}
	case errors.Is(err, jobs.ErrExecutionAborted), errors.Is(err, jobs.ErrSchedulerClosed):
		return Error{Status: http.StatusServiceUnavailable, Code: ErrCodeUnavailable, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Error{Status: http.StatusGatewayTimeout, Code: ErrCodeTimeout, Message: "timed out waiting for the job; it may still complete"}
	default:
		return Error{Status: http.StatusInternalServerError, Code: ErrCodeInternal, Message: "internal server error"}
	}
}

func userErrorStatus(code playout.Code) int {
	switch code {
	case playout.CodePartNotFound, playout.CodeSegmentNotFound,
		playout.CodePartInstanceNotFound, playout.CodeActionNotFound:
		return http.StatusNotFound
	case playout.CodeTakeRateLimit:
		return http.StatusTooManyRequests
	case playout.CodeMoveNextInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

// writeJobError writes the response for a failed job.
func writeJobError(w http.ResponseWriter, err error) {
	e := jobError(err)
	writeJSON(w, e.Status, e)
}
