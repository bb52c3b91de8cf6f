package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/roach88/napper/internal/engine"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure. Index and Type point at the offending
// event of a rejected batch.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Index   *int   `json:"index,omitempty"`
	Type    string `json:"type,omitempty"`
}

const (
	codeBadRequest = "BAD_REQUEST"
	codeInternal   = "INTERNAL"
)

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: msg}})
}

// writeEngineError maps engine errors onto status codes:
// invalid 422, conflict 409, stopped 503, anything else 500.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var ee *engine.Error
	if !errors.As(err, &ee) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, codeInternal, "request cancelled")
			return
		}
		h.log.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch {
	case engine.IsInvalid(err):
		status = http.StatusUnprocessableEntity
	case engine.IsConflict(err):
		status = http.StatusConflict
	case engine.IsStopped(err):
		status = http.StatusServiceUnavailable
	}

	detail := ErrorDetail{Code: string(ee.Code), Message: ee.Message, Type: ee.Type}
	if ee.Index >= 0 {
		idx := ee.Index
		detail.Index = &idx
	}
	switch {
	case status == http.StatusInternalServerError:
		h.log.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		detail.Message = "storage failure"
	case ee.Err != nil:
		detail.Message += ": " + ee.Err.Error()
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}
