package web

// errors.go maps import failures to HTTP responses.
//
// Every error is logged with full technical details and the request id, then
// returned to the client as a user-facing message from core.MapError with a
// status derived from the failure phase.

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/ofximport/internal/core"
	"github.com/JonMunkholm/ofximport/internal/logging"
)

// statusClientClosedRequest is the nginx convention for a client that went away.
const statusClientClosedRequest = 499

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code, Phase) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string     `json:"error"`
	Message string     `json:"message"`
	Action  string     `json:"action,omitempty"`
	Code    string     `json:"code"`
	Phase   core.Phase `json:"phase,omitempty"`
}

// statusFor returns the HTTP status for an import failure.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	}

	switch core.PhaseOf(err) {
	case core.PhaseBusy, core.PhaseAlreadyImported:
		return http.StatusConflict
	case core.PhaseMalformedFile:
		return http.StatusUnprocessableEntity
	case core.PhaseInvalidRequest:
		return http.StatusBadRequest
	case core.PhaseRetriesExhausted:
		return http.StatusServiceUnavailable
	case core.PhaseLeaseLost:
		return http.StatusOK
	case core.PhaseCancelled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable
		}
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondImportError writes the response for a failed import.
func (s *Server) respondImportError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusConflict && core.PhaseOf(err) == core.PhaseBusy ||
		status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(s.retryAfterSeconds()))
	}
	if status == http.StatusRequestEntityTooLarge {
		s.respondErrorMessage(w, r, err, status, core.MapError(core.ErrFileTooLarge))
		return
	}
	s.respondError(w, r, err, status)
}

// retryAfterSeconds is how long a client should wait before retrying a busy file.
func (s *Server) retryAfterSeconds() int {
	if ttl := s.cfg.Import.LeaseTTL; ttl > 0 {
		return int(ttl.Seconds())
	}
	return int(core.DefaultLeaseTTL.Seconds())
}

// respondError logs err server-side and writes a user-friendly JSON error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	s.respondErrorMessage(w, r, err, status, core.MapError(err))
}

// respondErrorMessage is respondError with an explicit user message.
func (s *Server) respondErrorMessage(w http.ResponseWriter, r *http.Request, err error, status int, userMsg core.UserMessage) {
	logger := logging.WithRequestID(r.Context(), s.logger)
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", userMsg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSONStatus(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
		Phase:   importPhase(err),
	})
}

// importPhase returns the phase of an *core.ImportError in err, or "".
func importPhase(err error) core.Phase {
	var ie *core.ImportError
	if errors.As(err, &ie) {
		return ie.Phase
	}
	return ""
}
