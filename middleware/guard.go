package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authsession"
)

// Validator is the part of the Engine Guard needs.
type Validator interface {
	ValidateAccess(ctx context.Context, accessToken string) (*authsession.Claims, error)
}

type claimsContextKey struct{}
type tokenContextKey struct{}

// ClaimsFromContext returns the claims stored by Guard.
func ClaimsFromContext(ctx context.Context) (*authsession.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*authsession.Claims)
	return c, ok && c != nil
}

// AccessTokenFromContext returns the raw bearer token accepted by Guard.
func AccessTokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(tokenContextKey{}).(string)
	return tok
}

// Guard rejects requests without a valid bearer access token. Store outages
// answer 503 so clients retry instead of discarding their tokens.
func Guard(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}

			claims, err := v.ValidateAccess(r.Context(), token)
			if errors.Is(err, authsession.ErrStoreUnavailable) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusServiceUnavailable, "unavailable")
				return
			}
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
