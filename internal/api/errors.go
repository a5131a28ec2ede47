// Package api serves the admin HTTP surface of the checks service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// ContentTypeJSON is the media type of every response body.
const ContentTypeJSON = "application/json"

// ErrorResponse wraps an error for the wire.
type ErrorResponse struct {
	Error *core.Error `json:"error"`
}

// WriteJSON writes data as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// WriteError writes a typed error. The request id, when present, is copied
// into the error details.
func WriteError(w http.ResponseWriter, status int, e *core.Error) {
	if reqID := w.Header().Get("X-Request-Id"); reqID != "" {
		details := make(map[string]any, len(e.Details)+1)
		for k, v := range e.Details {
			details[k] = v
		}
		details["request_id"] = reqID
		copied := *e
		copied.Details = details
		e = &copied
	}
	WriteJSON(w, status, ErrorResponse{Error: e})
}

// HandleError maps err onto a status code and writes it.
func HandleError(w http.ResponseWriter, err error) {
	var e *core.Error
	if !errors.As(err, &e) {
		WriteError(w, http.StatusInternalServerError, core.NewInternalError(err.Error()))
		return
	}

	status := http.StatusInternalServerError
	switch e.Code {
	case core.ErrCodeNotFound:
		status = http.StatusNotFound
	case core.ErrCodeConflict:
		status = http.StatusConflict
	case core.ErrCodeInvalidRequest, core.ErrCodeConfiguration:
		status = http.StatusBadRequest
	case core.ErrCodeDispatch, core.ErrCodeLedgerQuery, core.ErrCodeProbe:
		status = http.StatusBadGateway
	}
	WriteError(w, status, e)
}
