package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Code classifies every error the API surfaces to callers.
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeCSRFFailed   Code = "CSRF_FAILED"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeNotFound     Code = "NOT_FOUND"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       Code   `json:"code"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code Code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeUnauthorized is the uniform rejection for credential, code,
// challenge, and session failures. Callers must not vary the message by
// cause — that would hand an oracle to an attacker.
func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication failed")
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "too many requests; try again later",
		Code:       CodeRateLimited,
		RetryAfter: secs,
	})
}

func writeCSRFFailed(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, CodeCSRFFailed, "csrf check failed")
}

func (a *API) writeInternalError(w http.ResponseWriter, msg string, err error) {
	a.logger.Error(msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, CodeInternal, msg)
}
