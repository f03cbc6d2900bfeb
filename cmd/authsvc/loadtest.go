package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/account"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type sessionState struct {
	mu   sync.Mutex
	pair authsession.TokenPair
}

type loadtestOptions struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

func loadtestCmd() *cobra.Command {
	var o loadtestOptions
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure access validation and refresh rotation throughput",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.sessions <= 0 || o.concurrency <= 0 || o.ops <= 0 {
				return errors.New("sessions, concurrency, and ops must be > 0")
			}
			if o.redisAddr == "" {
				o.redisAddr = os.Getenv("REDIS_ADDR")
			}
			return runLoadtest(cmd.Context(), o)
		},
	}
	cmd.Flags().IntVar(&o.sessions, "sessions", 1000, "number of sessions to seed")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&o.ops, "ops", 20000, "operations per phase (validate + refresh)")
	cmd.Flags().StringVar(&o.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	cmd.Flags().StringVar(&o.prefix, "prefix", "lt", "key prefix")
	return cmd
}

func runLoadtest(ctx context.Context, o loadtestOptions) error {
	var client redis.UniversalClient
	if o.redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		o.redisAddr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", o.redisAddr)
	} else {
		fmt.Printf("using redis at %s\n", o.redisAddr)
	}
	client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{o.redisAddr}})
	defer func() { _ = client.Close() }()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	cfg := authsession.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = key
	cfg.KV.Prefix = o.prefix
	// Seeding hashes one password per session; keep it cheap.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := authsession.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(account.NewMemoryStore()).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	states := make([]sessionState, o.sessions)
	fmt.Printf("seeding %d sessions...\n", o.sessions)
	startSeed := time.Now()
	for i := range states {
		email := fmt.Sprintf("load-%d@example.com", i)
		pw := fmt.Sprintf("load-password-%08d", i)
		if _, err := engine.CreateAccount(ctx, authsession.CreateAccountRequest{Email: email, Password: pw}); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		res, err := engine.Login(ctx, email, pw)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		states[i].pair = res.Tokens
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(o.ops, o.concurrency, 7919, func(r *mrand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		tok := s.pair.AccessToken
		s.mu.Unlock()
		_, err := engine.ValidateAccess(ctx, tok)
		return err
	})
	refreshStats := runPhase(o.ops, o.concurrency, 6151, func(r *mrand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.pair.RefreshToken)
		if err != nil {
			return err
		}
		s.pair = pair
		return nil
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("family_compromised=%d refresh_failure=%d\n",
		snap.Counters[authsession.MetricFamilyCompromised],
		snap.Counters[authsession.MetricRefreshFailure],
	)
	return nil
}

// runPhase runs op ops times across concurrency workers and records the
// latency of each call.
func runPhase(ops, concurrency int, seed int64, op func(r *mrand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
