package gate

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/GandRedZ/RedZ/internal/ratelimit"
)

// rejectBody is the JSON shape of every rejection.
type rejectBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`

	// Rate limit detail, only present on 429 responses.
	RetryAfter int    `json:"retryAfter,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	ResetAt    string `json:"resetAt,omitempty"`
}

// writeReject writes a rejection response with a stable error code.
func writeReject(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejectBody{
		Success: false,
		Error:   code,
		Message: message,
	})
}

// writeRateLimited writes a 429 response with retry guidance.
func writeRateLimited(w http.ResponseWriter, code string, result *ratelimit.Result) {
	retryAfter := int(result.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rejectBody{
		Success:    false,
		Error:      code,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
		Limit:      result.Limit,
		ResetAt:    result.ResetAt.UTC().Format(time.RFC3339),
	})
}

// setRateLimitHeaders exposes the window state on every limited
// response, allowed or not.
func setRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
