package authsession

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authsession/internal/secret"
	"github.com/MrEthical07/authsession/jwt"
	"github.com/MrEthical07/authsession/kv"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// override fields; Builder.Build calls Validate.
type Config struct {
	JWT      JWTConfig
	KV       KVConfig
	Lockout  LockoutConfig
	Password PasswordConfig
	MFA      MFAConfig
	Reset    ResetConfig
	Notify   NotifyConfig
	Audit    AuditConfig
	Metrics  MetricsConfig

	// CodeHashKey keys the digests of reset and recovery codes. Empty derives
	// a key from JWT.PrivateKey, so rotating the signing key then voids
	// outstanding recovery and reset codes.
	CodeHashKey []byte
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig selects token lifetimes and signing keys.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
FAST KV CONFIG
====================================
*/

// KVConfig controls key naming and per-call deadlines on the fast store.
type KVConfig struct {
	Prefix    string
	OpTimeout time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the failed-login policy.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
	// Window bounds how long failures are remembered. Zero means Duration.
	Window time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the Argon2id cost, the acceptance policy and the
// legacy formats still accepted at login.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxBytes    int
	// AcceptBcrypt verifies $2a$/$2b$/$2y$ hashes imported from older systems.
	AcceptBcrypt bool
	BcryptCost   int
	// UpgradeOnLogin rehashes legacy or weaker hashes after a successful login.
	UpgradeOnLogin bool
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig holds TOTP parameters and MFA record lifetimes.
type MFAConfig struct {
	Issuer             string
	Period             uint
	Skew               uint
	PendingTTL         time.Duration
	RecoveryCodes      int
	RecoveryCodeLength int
	ChallengeTTL       time.Duration
	ChallengeAttempts  int
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// ResetConfig is the one-time-code policy for password reset.
type ResetConfig struct {
	CodeDigits  int
	CodeTTL     time.Duration
	MaxAttempts int
	// RequestLimit caps codes issued per email within RequestWindow.
	RequestLimit  int
	RequestWindow time.Duration
}

// NotifyConfig controls asynchronous code delivery.
type NotifyConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds one delivery, independent of the request that caused it.
	Timeout time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Signing keys are left empty.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: string(jwt.MethodEd25519),
			Leeway:        30 * time.Second,
		},
		KV: KVConfig{
			Prefix:    "as",
			OpTimeout: kv.DefaultOpTimeout,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			MaxBytes:       1024,
			BcryptCost:     12,
			UpgradeOnLogin: true,
		},
		MFA: MFAConfig{
			Issuer:             "authsvc",
			Period:             30,
			Skew:               1,
			PendingTTL:         10 * time.Minute,
			RecoveryCodes:      10,
			RecoveryCodeLength: 10,
			ChallengeTTL:       5 * time.Minute,
			ChallengeAttempts:  5,
		},
		Reset: ResetConfig{
			CodeDigits:    6,
			CodeTTL:       5 * time.Minute,
			MaxAttempts:   5,
			RequestLimit:  3,
			RequestWindow: time.Hour,
		},
		Notify: NotifyConfig{
			Workers:   2,
			QueueSize: 256,
			Timeout:   15 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.CodeHashKey = cloneBytes(cfg.CodeHashKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations that would weaken a security guarantee or
// cannot work at all.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be greater than AccessTTL")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > time.Minute {
		return errors.New("JWT Leeway must be between 0 and 1m")
	}

	// KV
	if c.KV.Prefix == "" {
		return errors.New("KV Prefix must not be empty")
	}
	if c.KV.OpTimeout <= 0 || c.KV.OpTimeout > 5*time.Second {
		return errors.New("KV OpTimeout must be in (0, 5s]")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}
	if c.Lockout.Window < 0 {
		return errors.New("Lockout Window must be >= 0")
	}

	// Password
	if c.Password.MinLength < 10 {
		return errors.New("Password MinLength must be >= 10")
	}
	if c.Password.MaxBytes < c.Password.MinLength {
		return errors.New("Password MaxBytes must be >= MinLength")
	}
	if c.Password.AcceptBcrypt && (c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31) {
		return errors.New("Password BcryptCost must be in [4, 31]")
	}

	// MFA
	if c.MFA.Period == 0 {
		return errors.New("MFA Period must be > 0")
	}
	if c.MFA.Skew > 2 {
		return errors.New("MFA Skew must be <= 2")
	}
	if c.MFA.RecoveryCodes <= 0 || c.MFA.RecoveryCodeLength < 8 {
		return errors.New("MFA requires at least one recovery code of length >= 8")
	}
	if c.MFA.ChallengeTTL <= 0 || c.MFA.ChallengeAttempts <= 0 {
		return errors.New("MFA ChallengeTTL and ChallengeAttempts must be > 0")
	}

	// Reset
	if c.Reset.CodeDigits < 6 || c.Reset.CodeDigits > 10 {
		return errors.New("Reset CodeDigits must be in [6, 10]")
	}
	if c.Reset.CodeTTL <= 0 || c.Reset.CodeTTL > time.Hour {
		return errors.New("Reset CodeTTL must be in (0, 1h]")
	}
	if c.Reset.MaxAttempts <= 0 {
		return errors.New("Reset MaxAttempts must be > 0")
	}
	if c.Reset.RequestLimit <= 0 || c.Reset.RequestWindow <= 0 {
		return errors.New("Reset RequestLimit and RequestWindow must be > 0")
	}

	// Notify
	if c.Notify.Workers <= 0 || c.Notify.QueueSize <= 0 {
		return errors.New("Notify Workers and QueueSize must be > 0")
	}
	if c.Notify.Timeout <= 0 {
		return errors.New("Notify Timeout must be > 0")
	}

	// Code hashing
	if len(c.CodeHashKey) > 0 && len(c.CodeHashKey) < secret.MinKeyLength {
		return fmt.Errorf("CodeHashKey must be at least %d bytes", secret.MinKeyLength)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
