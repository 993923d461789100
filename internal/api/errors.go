package api

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/signalsfoundry/roadgraph/internal/engine"
	"github.com/signalsfoundry/roadgraph/internal/logging"
	"github.com/signalsfoundry/roadgraph/internal/route"
)

var (
	// ErrBadRequest marks malformed parameters or bodies.
	ErrBadRequest = errors.New("bad request")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrLoading is returned while the dataset is still being opened.
	ErrLoading = errors.New("dataset not loaded")
)

// statusFor maps domain errors onto HTTP status codes. No-path and
// unavailable stay distinct: 404 versus 503.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound),
		errors.Is(err, route.ErrNotFound),
		errors.Is(err, engine.ErrNoPath):
		return http.StatusNotFound
	case errors.Is(err, ErrLoading),
		errors.Is(err, engine.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(format string, args ...any) error {
	return errors.Wrapf(ErrBadRequest, format, args...)
}

func errNotFound(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, s.logError(r, err), errorResponse{Error: err.Error()})
}

// logError logs err on the request logger and returns its status code.
func (s *Server) logError(r *http.Request, err error) int {
	code := statusFor(err)
	log := logging.LoggerFromContext(r.Context(), s.log)
	if code >= http.StatusInternalServerError {
		log.Warn(r.Context(), "request failed", logging.Int("status", code), logging.Err(err))
	} else {
		log.Debug(r.Context(), "request rejected", logging.Int("status", code), logging.Err(err))
	}
	return code
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
