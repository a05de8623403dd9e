package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yourorg/identsync/internal/response"
)

// writeSuccess serializes a success envelope.
func writeSuccess(w http.ResponseWriter, statusCode int, message string, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response.Success(statusCode, message, result))
}

// writeError maps a business error onto the error envelope. Anything that
// is not a tagged *response.Error is reported as an internal error without
// leaking its text.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var respErr *response.Error
	if !errors.As(err, &respErr) {
		logger.Error("request failed", slog.String("error", err.Error()))
		respErr = response.FatalError("INTERNAL_SERVER_ERROR")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(respErr.StatusCode)
	json.NewEncoder(w).Encode(respErr)
}

// actorID extracts the acting user's id set by the gateway.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}

// pathID parses a numeric path segment, returning 0 when absent or bad.
func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id
}
