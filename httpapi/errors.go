package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/internal/logger"
	"github.com/MrEthical07/authsession/middleware"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Ordered: LockedError and store outages are handled before this table.
var errorTable = []errorMapping{
	{authsession.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{authsession.ErrTokenFamilyCompromised, http.StatusUnauthorized, "token_family_compromised"},
	{authsession.ErrTokenInvalid, http.StatusUnauthorized, "invalid_token"},
	{authsession.ErrMfaInvalid, http.StatusUnauthorized, "mfa_invalid"},
	{authsession.ErrCodeInvalidOrExpired, http.StatusBadRequest, "code_invalid_or_expired"},
	{authsession.ErrPasswordPolicy, http.StatusBadRequest, "password_policy"},
	{authsession.ErrMfaAlreadyEnabled, http.StatusConflict, "mfa_already_enabled"},
	{authsession.ErrMfaNotEnabled, http.StatusConflict, "mfa_not_enabled"},
	{authsession.ErrAccountExists, http.StatusConflict, "account_exists"},
	{authsession.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
}

func (h *handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *authsession.LockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", retryAfter(locked.Until.Sub(h.now())))
		writeError(w, http.StatusLocked, "account_locked")
		return
	}

	if errors.Is(err, authsession.ErrStoreUnavailable) {
		h.report(r, err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}

	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code)
			return
		}
	}

	h.report(r, err)
	writeError(w, http.StatusInternalServerError, "internal")
}

// report sends server-side failures to Sentry and the request log.
func (h *handler) report(r *http.Request, err error) {
	logger.From(r.Context()).Error("request failed", zap.Error(err))

	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(r)
		scope.SetTag("request_id", middleware.RequestIDFromContext(r.Context()))
		scope.SetTag("route", r.URL.Path)
		hub.CaptureException(err)
	})
}

func retryAfter(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
