package kv

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process [Store] on top of go-cache. The mutex makes the
// compound primitives atomic within one process only; use [RedisStore] when more
// than one instance serves traffic.
type MemoryStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemoryStore returns an empty store that sweeps expired keys every cleanup
// interval (minimum one second).
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, cleanup)}
}

func memTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (s *MemoryStore) load(key string) ([]byte, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.load(key)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.Set(key, clone(value), memTTL(ttl))
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.c.Add(key, clone(value), memTTL(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) GetDel(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.load(key)
	if !ok {
		return nil, ErrNotFound
	}
	s.c.Delete(key)
	return v, nil
}

func (s *MemoryStore) DeleteIfEquals(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.load(key)
	if !ok || !bytes.Equal(v, value) {
		return false, nil
	}
	s.c.Delete(key)
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		s.c.Delete(k)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.load(key)
	return ok, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exp, ok := s.c.GetWithExpiration(key)
	if !ok {
		s.c.Set(key, []byte("1"), memTTL(ttl))
		return 1, nil
	}
	raw, _ := v.([]byte)
	current, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, unavailable(err)
	}
	current++

	remaining := gocache.NoExpiration
	if !exp.IsZero() {
		remaining = time.Until(exp)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
	}
	s.c.Set(key, []byte(strconv.FormatInt(current, 10)), remaining)
	return current, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
