package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"volunteersync.org/internal/audit"
	"volunteersync.org/internal/auth"
	"volunteersync.org/internal/errutil"
	"volunteersync.org/internal/registry"
)

// notificationRetryAfter is advertised when email delivery fails.
const notificationRetryAfter = 30

var badRequest = []error{
	auth.ErrNotificationFailed,
	auth.ErrNotFound,
	auth.ErrInvalidCredentials,
	auth.ErrInvalidOrExpiredCode,
	auth.ErrInvalidToken,
	auth.ErrTokenAlreadyUsed,
	auth.ErrTokenExpired,
	auth.ErrMalformedToken,
	auth.ErrValidationFailed,
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	}
	for _, sentinel := range badRequest {
		if errors.Is(err, sentinel) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// writeServiceError maps a service error to its status and public message.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	payload := map[string]any{}
	switch {
	case status == http.StatusInternalServerError:
		errutil.LogError(r.Context(), a.logger, "request failed", err)
		payload["error"] = "internal error"
	case errors.Is(err, auth.ErrNotificationFailed):
		errutil.LogError(r.Context(), a.logger, "notification failed", err)
		w.Header().Set("Retry-After", strconv.Itoa(notificationRetryAfter))
		payload["error"] = auth.PublicMessage(err)
		payload["retryable"] = true
	case status == http.StatusTooManyRequests:
		if wait := auth.RetryAfter(err); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		payload["error"] = auth.PublicMessage(err)
	default:
		payload["error"] = auth.PublicMessage(err)
	}
	if code := errutil.Code(err); code != "" && status != http.StatusInternalServerError {
		payload["code"] = code
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// RequestIDFromContext returns the id assigned by the RequestID middleware.
func RequestIDFromContext(ctx context.Context) string {
	return audit.RequestIDFromContext(ctx)
}

// decodeJSON reads exactly one JSON object into dst and reports failures
// to the client itself.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil {
		if extra := dec.Decode(&struct{}{}); !errors.Is(extra, io.EOF) {
			err = errors.New("unexpected data after JSON body")
		}
	}
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		writeError(w, r, http.StatusBadRequest, "request body is required")
	default:
		writeError(w, r, http.StatusBadRequest, "malformed JSON body")
	}
	return false
}
