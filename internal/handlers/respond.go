package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"voicecache-gateway/internal/cache"
	"voicecache-gateway/internal/precache"
	"voicecache-gateway/internal/synth"
)

var (
	errNoJob      = errors.New("no pre-cache job for this book")
	errBadRequest = errors.New("bad request")
	errNoMigrator = errors.New("legacy migration is not available for this store")
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, msg := classify(err)
	if status >= 500 {
		logger.Error("request_failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Info("request_rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: msg, Details: err.Error()})
}

// classify maps an error to a status code and a stable error string.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, synth.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, synth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, errNoJob):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, precache.ErrAlreadyRunning):
		return http.StatusConflict, "job_running"
	case errors.Is(err, synth.ErrUnreachable):
		return http.StatusServiceUnavailable, "backend_unreachable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, synth.ErrBackend):
		return http.StatusInternalServerError, "backend_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// decodeJSON reads r.Body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("body exceeds %d bytes", tooLarge.Limit)
		}
		return badRequest("invalid JSON: %v", err)
	}
	return nil
}
