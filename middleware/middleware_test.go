package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/authsession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type validatorFunc func(ctx context.Context, token string) (*authsession.Claims, error)

func (f validatorFunc) ValidateAccess(ctx context.Context, token string) (*authsession.Claims, error) {
	return f(ctx, token)
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(claims.Subject))
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestGuard(t *testing.T) {
	v := validatorFunc(func(_ context.Context, token string) (*authsession.Claims, error) {
		switch token {
		case "good":
			c := &authsession.Claims{}
			c.Subject = "acct-1"
			return c, nil
		case "outage":
			return nil, authsession.ErrStoreUnavailable
		default:
			return nil, authsession.ErrTokenInvalid
		}
	})
	h := Guard(v)(okHandler(t))

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing header", "", http.StatusUnauthorized, "invalid_token"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid_token"},
		{"empty token", "Bearer   ", http.StatusUnauthorized, "invalid_token"},
		{"invalid", "Bearer nope", http.StatusUnauthorized, "invalid_token"},
		{"outage", "Bearer outage", http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acct-1", rec.Body.String())
}

func TestRateLimitPerClientIP(t *testing.T) {
	lim := NewLimiter(RateLimitConfig{RPS: 0.001, Burst: 2})
	h := ClientInfo(false)(RateLimit(lim)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("198.51.100.1:1000").Code)
	assert.Equal(t, http.StatusNoContent, do("198.51.100.1:1001").Code)
	limited := do("198.51.100.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", errorCode(t, limited))

	// Another client has its own bucket.
	assert.Equal(t, http.StatusNoContent, do("198.51.100.2:1000").Code)
}

func TestLimiterDisabled(t *testing.T) {
	var lim *Limiter
	ok, wait := lim.Allow("x")
	assert.True(t, ok)
	assert.Zero(t, wait)

	lim = NewLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		ok, _ := lim.Allow("x")
		require.True(t, ok)
	}
}

func TestClientInfoTrustProxy(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = authsession.ClientIPFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	ClientInfo(false)(inner).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "10.0.0.1", got)

	ClientInfo(true)(inner).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.9", got)
}

func TestRequestIDAndLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestID(Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rid-1", RequestIDFromContext(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "rid-1", rec.Header().Get(RequestIDHeader))
	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "rid-1", ctx["request_id"])
	assert.EqualValues(t, http.StatusTeapot, ctx["status"])
}

func TestRequestIDGenerated(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestRecoverReturns500(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", errorCode(t, rec))
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
	_, ok = BearerToken("Bear")
	assert.False(t, ok)
}
