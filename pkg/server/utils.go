package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aleksaelezovic/worlds/pkg/ratelimit"
	"github.com/aleksaelezovic/worlds/pkg/world"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// statusFor maps the world error taxonomy to an HTTP status and a type name
func statusFor(err error) (int, string) {
	var (
		parse       *world.ParseError
		execution   *world.ExecutionError
		notFound    *world.NotFoundError
		quota       *world.QuotaExceededError
		conflict    *world.ConflictError
		timeout     *world.TimeoutError
		unsupported *world.UnsupportedError
		syncErr     *world.SyncError
		storage     *world.StorageError
	)
	switch {
	case errors.As(err, &parse):
		return http.StatusBadRequest, "parse_error"
	case errors.As(err, &execution):
		return http.StatusBadRequest, "execution_error"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &quota):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict"
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &unsupported):
		return http.StatusUnsupportedMediaType, "unsupported"
	case errors.As(err, &syncErr):
		return http.StatusInternalServerError, "sync_error"
	case errors.As(err, &storage):
		return http.StatusInternalServerError, "storage_error"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError writes a world error as JSON. Server side failures are logged
// with their details; the client only sees the public message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	} else {
		s.log.WithError(err).WithField("path", r.URL.Path).Debug("request rejected")
	}

	var quota *world.QuotaExceededError
	if errors.As(err, &quota) {
		setRateLimitHeaders(w, quota.RateLimit())
	}
	s.writeJSON(w, code, errorBody{Error: errorDetail{Code: code, Type: kind, Message: world.PublicMessage(err)}})
}

// badRequest rejects a request that never reached the service
func (s *Server) badRequest(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, errorBody{Error: errorDetail{Code: code, Type: "bad_request", Message: message}})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("failed to write response")
	}
}

func setRateLimitHeaders(w http.ResponseWriter, r ratelimit.Result) {
	for name, values := range ratelimit.Headers(r) {
		w.Header()[name] = values
	}
}
