package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authsession/kv"
)

// ErrUnavailable indicates the lockout backend is unreachable.
var ErrUnavailable = errors.New("lockout: backend unavailable")

// Status is the lock state of an account.
type Status uint8

const (
	// Open accepts login attempts.
	Open Status = iota
	// Locked rejects login attempts until State.Until.
	Locked
)

func (s Status) String() string {
	if s == Locked {
		return "locked"
	}
	return "open"
}

// State is the observable lockout state of an account.
type State struct {
	Status Status
	Until  time.Time
}

// Config holds lockout policy.
type Config struct {
	// Threshold is the failure count that triggers a lock. Default 5.
	Threshold int
	// Duration is how long a lock lasts. Default 15m.
	Duration time.Duration
	// Window bounds how long failures are remembered. Defaults to Duration.
	Window time.Duration
	Prefix string
	Now    func() time.Time
}

// DefaultConfig returns the production policy: 5 failures, 15 minute lock.
func DefaultConfig() Config {
	return Config{Threshold: 5, Duration: 15 * time.Minute}
}

// Guard tracks failures in a kv.Store.
type Guard struct {
	kv     kv.Store
	config Config
}

// NewGuard returns a Guard with defaults applied to zero fields.
func NewGuard(store kv.Store, cfg Config) *Guard {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.Window <= 0 {
		cfg.Window = cfg.Duration
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "as"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{kv: store, config: cfg}
}

func (g *Guard) failKey(id string) string { return kv.Key(g.config.Prefix, "fail", id) }
func (g *Guard) lockKey(id string) string { return kv.Key(g.config.Prefix, "lock", id) }

// RecordFailure counts one failed attempt and reports whether the account is
// now locked. Reaching the threshold writes the lock and clears the counter.
func (g *Guard) RecordFailure(ctx context.Context, id string) (bool, error) {
	if g == nil || id == "" {
		return false, nil
	}

	count, err := g.kv.Incr(ctx, g.failKey(id), g.config.Window)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < int64(g.config.Threshold) {
		return false, nil
	}

	until := g.config.Now().Add(g.config.Duration)
	val := []byte(strconv.FormatInt(until.UnixNano(), 10))
	if err := g.kv.Set(ctx, g.lockKey(id), val, g.config.Duration); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := g.kv.Del(ctx, g.failKey(id)); err != nil {
		return true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// RecordSuccess clears the failure counter and any lock.
func (g *Guard) RecordSuccess(ctx context.Context, id string) error {
	if g == nil || id == "" {
		return nil
	}
	if err := g.kv.Del(ctx, g.failKey(id), g.lockKey(id)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsLocked reports whether the account is currently locked.
func (g *Guard) IsLocked(ctx context.Context, id string) (bool, error) {
	st, err := g.State(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Status == Locked, nil
}

// State returns the current lock state. A lock whose deadline has passed is
// deleted and reported as Open.
func (g *Guard) State(ctx context.Context, id string) (State, error) {
	if g == nil || id == "" {
		return State{Status: Open}, nil
	}

	raw, err := g.kv.Get(ctx, g.lockKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return State{Status: Open}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	nanos, perr := strconv.ParseInt(string(raw), 10, 64)
	until := time.Unix(0, nanos)
	if perr != nil || !until.After(g.config.Now()) {
		if err := g.kv.Del(ctx, g.lockKey(id)); err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return State{Status: Open}, nil
	}
	return State{Status: Locked, Until: until}, nil
}

// Unlock removes a lock and the failure counter. It is the administrative
// counterpart to RecordSuccess.
func (g *Guard) Unlock(ctx context.Context, id string) error {
	return g.RecordSuccess(ctx, id)
}

// Threshold returns the configured failure threshold.
func (g *Guard) Threshold() int { return g.config.Threshold }
