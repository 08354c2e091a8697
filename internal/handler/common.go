package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/service"
	"github.com/dandantas/studyrunner/internal/worker"
	"github.com/dandantas/studyrunner/pkg/middleware"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	userIDHeader     = "X-User-ID"
	adminTokenHeader = "X-Admin-Token"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// MessageResponse is returned by operations without a body of their own
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
// Internal errors are logged and not echoed to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
		)
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal error")
			return
		}
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseQueryInt parses an integer query parameter with a default value
func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// parseQueryBool parses a boolean query parameter
func parseQueryBool(r *http.Request, key string) bool {
	value := r.URL.Query().Get(key)
	return value == "true" || value == "1"
}

// pathSegments splits the path after prefix, e.g. "/api/v1/jobs/abc/logs" -> ["abc", "logs"]
func pathSegments(r *http.Request, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func parseID(raw string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, errors.New("invalid id format")
	}
	return id, nil
}

// Authenticator derives the caller of a request. Identity is taken from
// the X-User-ID header; the admin token unlocks admin operations.
type Authenticator struct {
	AdminToken string
}

// Caller returns the caller of r. Requests without any identity are rejected.
func (a Authenticator) Caller(r *http.Request) (service.Caller, error) {
	var caller service.Caller

	if token := r.Header.Get(adminTokenHeader); token != "" && a.AdminToken != "" {
		caller.Admin = subtle.ConstantTimeCompare([]byte(token), []byte(a.AdminToken)) == 1
	}

	if raw := r.Header.Get(userIDHeader); raw != "" {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return caller, errors.New("invalid " + userIDHeader + " header")
		}
		caller.UserID = id
	}

	if caller.UserID.IsZero() && !caller.Admin {
		return caller, errors.New("missing " + userIDHeader + " header")
	}
	return caller, nil
}

// callerOrReject writes a 401 and returns false when the request has no caller
func (a Authenticator) callerOrReject(w http.ResponseWriter, r *http.Request) (service.Caller, bool) {
	caller, err := a.Caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return caller, false
	}
	return caller, true
}
