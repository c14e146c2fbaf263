package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"gptbridge/pkg/agent"
	"gptbridge/pkg/gpt"
	"gptbridge/pkg/media"
)

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps an error to its HTTP status and kind name.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrInvalidArgument):
		return http.StatusBadRequest, "InvalidArgument"
	case errors.Is(err, agent.ErrUnknownTool):
		return http.StatusBadRequest, "UnknownTool"
	case errors.Is(err, gpt.ErrInvalidInput), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "InvalidInput"
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusBadRequest, "FileTooLarge"
	case errors.Is(err, media.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, media.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, "UnsupportedMedia"
	case errors.Is(err, agent.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timeout"
	case errors.Is(err, agent.ErrExecutionFailed):
		return http.StatusInternalServerError, "AgentExecutionFailed"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "kind", kind, "error", err)
	} else {
		slog.InfoContext(r.Context(), "Request rejected", "kind", kind, "error", err)
	}
	writeJSON(w, status, ErrorBody{Error: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}
