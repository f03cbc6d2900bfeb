package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimitConfig is a token bucket per client IP.
type RateLimitConfig struct {
	RPS   float64
	Burst int
	// IdleTTL drops buckets of clients not seen for this long. Default 10m.
	IdleTTL time.Duration
}

// Limiter holds one bucket per client IP.
type Limiter struct {
	cfg     RateLimitConfig
	buckets *cache.Cache
}

// NewLimiter returns a limiter for cfg.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		buckets: cache.New(cfg.IdleTTL, cfg.IdleTTL),
	}
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	if v, ok := l.buckets.Get(key); ok {
		l.buckets.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)
	// Add fails when a concurrent request created the bucket first.
	if err := l.buckets.Add(key, lim, cache.DefaultExpiration); err != nil {
		if v, ok := l.buckets.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Allow consumes one token for key and reports the wait until the next one
// when it is refused.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l == nil || l.cfg.RPS <= 0 {
		return true, 0
	}
	res := l.bucket(key).Reserve()
	if !res.OK() {
		return false, time.Second
	}
	delay := res.Delay()
	if delay == 0 {
		return true, 0
	}
	res.Cancel()
	return false, delay
}

// RateLimit answers 429 with Retry-After once a client IP exhausts its
// bucket. The key is the address stored by ClientInfo.
func RateLimit(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := authsession.ClientIPFromContext(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}
			ok, wait := l.Allow(key)
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
