package authsession

import (
	"errors"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/internal/audit"
	"github.com/MrEthical07/authsession/internal/secret"
	"github.com/MrEthical07/authsession/jwt"
	"github.com/MrEthical07/authsession/kv"
	"github.com/MrEthical07/authsession/lockout"
	"github.com/MrEthical07/authsession/mfa"
	"github.com/MrEthical07/authsession/notify"
	"github.com/MrEthical07/authsession/password"
	"github.com/MrEthical07/authsession/reset"
	"github.com/MrEthical07/authsession/token"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config

	kv       kv.Store
	redis    redis.UniversalClient
	accounts account.Store
	sender   notify.Sender

	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithKV sets the fast store directly. It takes precedence over WithRedis.
func (b *Builder) WithKV(store kv.Store) *Builder {
	b.kv = store
	return b
}

// WithRedis backs the fast store with client, bounded by Config.KV.OpTimeout.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAccountStore(store account.Store) *Builder {
	b.accounts = store
	return b
}

// WithSender sets the one-time-code delivery channel. Without it codes are
// only logged at debug level.
func (b *Builder) WithSender(sender notify.Sender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.logger = log
	return b
}

// WithClock replaces time.Now in every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}

	store := b.kv
	if store == nil && b.redis != nil {
		store = kv.NewRedisStore(b.redis, cfg.KV.OpTimeout)
	}
	if store == nil {
		return nil, errors.New("fast kv store required: use WithKV or WithRedis")
	}

	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	sender := b.sender
	if sender == nil {
		sender = notify.NewLogSender(log)
	}
	codeKey := cfg.CodeHashKey
	if len(codeKey) == 0 {
		derived, err := secret.DeriveKey(cfg.JWT.PrivateKey)
		if err != nil {
			return nil, err
		}
		codeKey = derived
	}

	// -------- PASSWORDS --------
	argon, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxBytes,
	})
	if err != nil {
		return nil, err
	}
	var legacy []password.Hasher
	if cfg.Password.AcceptBcrypt {
		legacy = append(legacy, password.NewBcrypt(cfg.Password.BcryptCost))
	}
	hasher := password.NewChain(argon, legacy...)
	policy := password.Policy{MinLength: cfg.Password.MinLength, MaxBytes: cfg.Password.MaxBytes}

	// Unknown accounts are verified against this hash so they cost the same
	// as known ones.
	dummyHash, err := argon.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	signer, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewService(token.Config{
		Signer:   signer,
		KV:       store,
		Accounts: b.accounts,
		Prefix:   cfg.KV.Prefix,
		Logger:   log,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	// -------- LOCKOUT / MFA / RESET --------
	guard := lockout.NewGuard(store, lockout.Config{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
		Window:    cfg.Lockout.Window,
		Prefix:    cfg.KV.Prefix,
		Now:       now,
	})

	mfaSvc, err := mfa.NewService(store, b.accounts, hasher, mfa.Config{
		Issuer:             cfg.MFA.Issuer,
		Period:             cfg.MFA.Period,
		Skew:               cfg.MFA.Skew,
		PendingTTL:         cfg.MFA.PendingTTL,
		RecoveryCodes:      cfg.MFA.RecoveryCodes,
		RecoveryCodeLength: cfg.MFA.RecoveryCodeLength,
		ChallengeTTL:       cfg.MFA.ChallengeTTL,
		ChallengeAttempts:  cfg.MFA.ChallengeAttempts,
		CodeKey:            codeKey,
		Prefix:             cfg.KV.Prefix,
		Now:                now,
		Logger:             log,
	})
	if err != nil {
		return nil, err
	}

	// -------- DELIVERY --------
	delivery := notify.NewDispatcher(notify.DispatchConfig{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
		Timeout:   cfg.Notify.Timeout,
	}, sender, log.Named("notify"))

	resetSvc, err := reset.NewService(reset.Deps{
		KV:       store,
		Accounts: b.accounts,
		Hasher:   hasher,
		Policy:   policy,
		Sender:   delivery,
	}, reset.Config{
		CodeDigits:    cfg.Reset.CodeDigits,
		CodeTTL:       cfg.Reset.CodeTTL,
		MaxAttempts:   cfg.Reset.MaxAttempts,
		RequestLimit:  cfg.Reset.RequestLimit,
		RequestWindow: cfg.Reset.RequestWindow,
		CodeKey:       codeKey,
		Prefix:        cfg.KV.Prefix,
		Now:           now,
		Logger:        log,
	})
	if err != nil {
		delivery.Close()
		return nil, err
	}

	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	engine := &Engine{
		config:    cfg,
		accounts:  b.accounts,
		kv:        store,
		tokens:    tokens,
		lockout:   guard,
		mfa:       mfaSvc,
		reset:     resetSvc,
		hasher:    hasher,
		policy:    policy,
		dummyHash: dummyHash,
		audit:     dispatcher,
		delivery:  delivery,
		metrics:   NewMetrics(cfg.Metrics),
		log:       log.Named("engine"),
		now:       now,
	}

	b.built = true
	return engine, nil
}
