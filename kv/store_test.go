package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, NewRedisStore(client, time.Second)
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	_, rs := newTestRedis(t)
	return map[string]Store{
		"redis":  rs,
		"memory": NewMemoryStore(time.Minute),
	}
}

func TestStoreGetSetDel(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			got, err := s.Get(ctx, "k")
			if err != nil || string(got) != "v" {
				t.Fatalf("Get = %q, %v", got, err)
			}
			if ok, _ := s.Exists(ctx, "k"); !ok {
				t.Fatal("expected key to exist")
			}
			if err := s.Del(ctx, "k", "other"); err != nil {
				t.Fatalf("Del failed: %v", err)
			}
			if ok, _ := s.Exists(ctx, "k"); ok {
				t.Fatal("expected key to be deleted")
			}
		})
	}
}

func TestStoreSetNX(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := s.SetNX(ctx, "nx", []byte("first"), time.Minute)
			if err != nil || !ok {
				t.Fatalf("first SetNX = %v, %v", ok, err)
			}
			ok, err = s.SetNX(ctx, "nx", []byte("second"), time.Minute)
			if err != nil || ok {
				t.Fatalf("second SetNX = %v, %v", ok, err)
			}
			got, _ := s.Get(ctx, "nx")
			if string(got) != "first" {
				t.Fatalf("expected first value to survive, got %q", got)
			}
		})
	}
}

func TestStoreGetDelSingleWinner(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Set(ctx, "once", []byte("x"), time.Minute); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			const n = 16
			var wg sync.WaitGroup
			wins := make(chan struct{}, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.GetDel(ctx, "once"); err == nil {
						wins <- struct{}{}
					}
				}()
			}
			wg.Wait()
			close(wins)

			count := 0
			for range wins {
				count++
			}
			if count != 1 {
				t.Fatalf("expected exactly one GetDel winner, got %d", count)
			}
		})
	}
}

func TestStoreDeleteIfEquals(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Set(ctx, "cas", []byte("abc"), time.Minute)

			ok, err := s.DeleteIfEquals(ctx, "cas", []byte("nope"))
			if err != nil || ok {
				t.Fatalf("mismatched DeleteIfEquals = %v, %v", ok, err)
			}
			ok, err = s.DeleteIfEquals(ctx, "cas", []byte("abc"))
			if err != nil || !ok {
				t.Fatalf("matching DeleteIfEquals = %v, %v", ok, err)
			}
			ok, _ = s.DeleteIfEquals(ctx, "cas", []byte("abc"))
			if ok {
				t.Fatal("expected second DeleteIfEquals to report false")
			}
		})
	}
}

func TestStoreIncrCountsAndArmsTTLOnce(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := int64(1); i <= 3; i++ {
				got, err := s.Incr(ctx, "ctr", time.Minute)
				if err != nil || got != i {
					t.Fatalf("Incr #%d = %d, %v", i, got, err)
				}
			}
			raw, err := s.Get(ctx, "ctr")
			if err != nil || string(raw) != "3" {
				t.Fatalf("expected counter 3, got %q %v", raw, err)
			}
		})
	}
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()

	if _, err := s.Incr(ctx, "window", 10*time.Second); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if ttl := mr.TTL("window"); ttl != 10*time.Second {
		t.Fatalf("expected 10s ttl, got %v", ttl)
	}
	if _, err := s.Incr(ctx, "window", time.Hour); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if ttl := mr.TTL("window"); ttl != 10*time.Second {
		t.Fatalf("expected ttl to stay armed from first hit, got %v", ttl)
	}

	mr.FastForward(11 * time.Second)
	if _, err := s.Get(ctx, "window"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired key, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, s := newTestRedis(t)
	mr.Close()

	ctx := context.Background()
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Get, got %v", err)
	}
	if _, err := s.GetDel(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from GetDel, got %v", err)
	}
	if _, err := s.Incr(ctx, "k", time.Second); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Incr, got %v", err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("as", "refresh", "abc"); got != "as:refresh:abc" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := Key("", "fail", "u1"); got != "fail:u1" {
		t.Fatalf("unexpected key %q", got)
	}
}
