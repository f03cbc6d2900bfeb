package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/account/postgres"
	"github.com/MrEthical07/authsession/internal/config"
	"github.com/MrEthical07/authsession/internal/logger"
	"github.com/MrEthical07/authsession/kv"
	"github.com/MrEthical07/authsession/notify"
	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// runtime owns the process-wide resources shared by every command.
type runtime struct {
	cfg *config.Config
	log *zap.Logger

	redis    redis.UniversalClient
	pg       *postgres.Store
	accounts account.Store
	engine   *authsession.Engine

	closers []func()
}

func newRuntime(configPath, envFile string) (*runtime, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger.Init(cfg.Log)
	rt := &runtime{cfg: cfg, log: logger.L()}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			SampleRate:       cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		})
		if err != nil {
			rt.log.Warn("sentry init failed", zap.Error(err))
		} else {
			rt.closers = append(rt.closers, func() { sentry.Flush(2 * time.Second) })
		}
	}
	return rt, nil
}

// openPostgres connects the account database without building the engine.
func (rt *runtime) openPostgres(ctx context.Context) (*postgres.Store, error) {
	if rt.pg != nil {
		return rt.pg, nil
	}
	if rt.cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is not configured")
	}
	pg, err := postgres.Open(ctx, rt.cfg.Postgres.DSN, postgres.PoolConfig{
		MaxConns:        rt.cfg.Postgres.MaxConns,
		MaxConnLifetime: rt.cfg.Postgres.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	rt.pg = pg
	rt.closers = append(rt.closers, pg.Close)
	return pg, nil
}

// buildEngine wires the stores, the code sender and the audit sink.
func (rt *runtime) buildEngine(ctx context.Context) (*authsession.Engine, error) {
	engineCfg, err := rt.cfg.Engine()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	b := authsession.New().WithConfig(engineCfg).WithLogger(rt.log)

	if rt.cfg.Redis.Addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{rt.cfg.Redis.Addr},
			Password: rt.cfg.Redis.Password,
			DB:       rt.cfg.Redis.DB,
		})
		rt.redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		b.WithRedis(client)
	} else {
		rt.log.Warn("redis.addr not set, using the in-process store; state is lost on restart")
		b.WithKV(kv.NewMemoryStore(time.Minute))
	}

	if rt.cfg.Postgres.DSN != "" {
		pg, err := rt.openPostgres(ctx)
		if err != nil {
			return nil, err
		}
		rt.accounts = pg
	} else {
		rt.log.Warn("postgres.dsn not set, using the in-memory account store")
		rt.accounts = account.NewMemoryStore()
	}
	b.WithAccountStore(rt.accounts)

	if rt.cfg.SMTP.Host != "" {
		b.WithSender(notify.NewSMTPSender(rt.cfg.SMTP, rt.log))
	}
	if rt.cfg.Auth.Audit.Enabled {
		b.WithAuditSink(authsession.NewZapSink(rt.log.Named("audit")))
	}

	engine, err := b.Build()
	if err != nil {
		return nil, err
	}
	rt.engine = engine
	rt.closers = append(rt.closers, engine.Close)
	return engine, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}
