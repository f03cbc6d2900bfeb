package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps every backend failure (network, timeout, script error).
	ErrUnavailable = errors.New("kv: store unavailable")
)

// DefaultOpTimeout bounds a single store round trip when no timeout is configured.
const DefaultOpTimeout = 300 * time.Millisecond

// Store is the TTL-capable key/value contract consumed by the token, lockout,
// MFA and password-reset services.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	GetDel(ctx context.Context, key string) ([]byte, error)
	DeleteIfEquals(ctx context.Context, key string, value []byte) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// Key joins a namespace prefix and key parts with ':'.
func Key(prefix string, parts ...string) string {
	n := len(prefix)
	for _, p := range parts {
		n += len(p) + 1
	}
	buf := make([]byte, 0, n)
	buf = append(buf, prefix...)
	for _, p := range parts {
		if len(buf) > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, p...)
	}
	return string(buf)
}
