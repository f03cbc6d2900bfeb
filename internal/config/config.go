// Package config loads the authsvc service configuration from a YAML file,
// an optional .env file and AUTHSVC_* environment variables, in that order of
// precedence (env wins).
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/internal/logger"
	"github.com/MrEthical07/authsession/notify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTHSVC_"

type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Redis    RedisConfig       `yaml:"redis"`
	Postgres PostgresConfig    `yaml:"postgres"`
	SMTP     notify.SMTPConfig `yaml:"smtp"`
	Log      logger.Config     `yaml:"log"`
	Sentry   SentryConfig      `yaml:"sentry"`
	Auth     AuthConfig        `yaml:"auth"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool            `yaml:"trust_proxy"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a per-client-IP token bucket.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type RedisConfig struct {
	// Addr empty selects the in-process store (single instance only).
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	OpTimeout time.Duration `yaml:"op_timeout"`
}

type PostgresConfig struct {
	// DSN empty selects the in-memory account store.
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// AuthConfig mirrors authsession.Config. Zero values keep the library defaults.
type AuthConfig struct {
	JWT struct {
		AccessTTL     time.Duration `yaml:"access_ttl"`
		RefreshTTL    time.Duration `yaml:"refresh_ttl"`
		SigningMethod string        `yaml:"signing_method"`
		// Keys are base64 (raw bytes) or PEM files.
		PrivateKey     string        `yaml:"private_key"`
		PublicKey      string        `yaml:"public_key"`
		PrivateKeyFile string        `yaml:"private_key_file"`
		PublicKeyFile  string        `yaml:"public_key_file"`
		Issuer         string        `yaml:"issuer"`
		Audience       string        `yaml:"audience"`
		Leeway         time.Duration `yaml:"leeway"`
		KeyID          string        `yaml:"key_id"`
	} `yaml:"jwt"`

	Lockout struct {
		Threshold int           `yaml:"threshold"`
		Duration  time.Duration `yaml:"duration"`
		Window    time.Duration `yaml:"window"`
	} `yaml:"lockout"`

	Password struct {
		MinLength    int    `yaml:"min_length"`
		AcceptBcrypt bool   `yaml:"accept_bcrypt"`
		Argon2Memory uint32 `yaml:"argon2_memory"`
		Argon2Time   uint32 `yaml:"argon2_time"`
	} `yaml:"password"`

	MFA struct {
		Issuer            string        `yaml:"issuer"`
		ChallengeTTL      time.Duration `yaml:"challenge_ttl"`
		ChallengeAttempts int           `yaml:"challenge_attempts"`
	} `yaml:"mfa"`

	Reset struct {
		CodeTTL       time.Duration `yaml:"code_ttl"`
		MaxAttempts   int           `yaml:"max_attempts"`
		RequestLimit  int           `yaml:"request_limit"`
		RequestWindow time.Duration `yaml:"request_window"`
	} `yaml:"reset"`

	Notify struct {
		Workers   int           `yaml:"workers"`
		QueueSize int           `yaml:"queue_size"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"notify"`

	// CodeHashKey keys reset and recovery code digests, base64 or a file.
	// Empty derives one from the JWT private key.
	CodeHashKey     string `yaml:"code_hash_key"`
	CodeHashKeyFile string `yaml:"code_hash_key_file"`

	Audit struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"audit"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadDotEnv loads each existing file into the process environment.
// Variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("dotenv %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path (optional), applies defaults and env overrides, then
// validates.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	c.applyDefaults()
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.RateLimit.RPS == 0 {
		c.Server.RateLimit.RPS = 5
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 20
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "as"
	}
	if c.Redis.OpTimeout == 0 {
		c.Redis.OpTimeout = 300 * time.Millisecond
	}
	if c.SMTP.TLSMode == "" {
		c.SMTP.TLSMode = "auto"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Log.Env == "" {
		c.Log.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.ServiceName == "" {
		c.Log.ServiceName = "authsvc"
	}
	if c.Sentry.Environment == "" {
		c.Sentry.Environment = c.Log.Env
	}
	if c.Sentry.SampleRate == 0 {
		c.Sentry.SampleRate = 1
	}
	if c.Auth.JWT.SigningMethod == "" {
		c.Auth.JWT.SigningMethod = "ed25519"
	}
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return i, true, nil
}

func getEnvBool(key string) (bool, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return b, true, nil
}

func getEnvDur(key string) (time.Duration, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return d, true, nil
}

// applyEnvOverrides overlays AUTHSVC_* variables on the file values.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"SERVER_ADDR":          &c.Server.Addr,
		"REDIS_ADDR":           &c.Redis.Addr,
		"REDIS_PASSWORD":       &c.Redis.Password,
		"REDIS_PREFIX":         &c.Redis.Prefix,
		"POSTGRES_DSN":         &c.Postgres.DSN,
		"SMTP_HOST":            &c.SMTP.Host,
		"SMTP_FROM":            &c.SMTP.From,
		"SMTP_USERNAME":        &c.SMTP.Username,
		"SMTP_PASSWORD":        &c.SMTP.Password,
		"SMTP_TLS_MODE":        &c.SMTP.TLSMode,
		"LOG_ENV":              &c.Log.Env,
		"LOG_LEVEL":            &c.Log.Level,
		"SENTRY_DSN":           &c.Sentry.DSN,
		"SENTRY_ENVIRONMENT":   &c.Sentry.Environment,
		"JWT_SIGNING_METHOD":   &c.Auth.JWT.SigningMethod,
		"JWT_PRIVATE_KEY":      &c.Auth.JWT.PrivateKey,
		"JWT_PUBLIC_KEY":       &c.Auth.JWT.PublicKey,
		"JWT_PRIVATE_KEY_FILE": &c.Auth.JWT.PrivateKeyFile,
		"JWT_PUBLIC_KEY_FILE":  &c.Auth.JWT.PublicKeyFile,
		"JWT_ISSUER":           &c.Auth.JWT.Issuer,
		"JWT_AUDIENCE":         &c.Auth.JWT.Audience,
		"CODE_HASH_KEY":        &c.Auth.CodeHashKey,
	}
	for key, dst := range strs {
		if v, ok := getEnvStr(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REDIS_DB":               &c.Redis.DB,
		"SMTP_PORT":              &c.SMTP.Port,
		"LOCKOUT_THRESHOLD":      &c.Auth.Lockout.Threshold,
		"MFA_CHALLENGE_ATTEMPTS": &c.Auth.MFA.ChallengeAttempts,
		"RESET_MAX_ATTEMPTS":     &c.Auth.Reset.MaxAttempts,
		"RESET_REQUEST_LIMIT":    &c.Auth.Reset.RequestLimit,
		"PASSWORD_MIN_LENGTH":    &c.Auth.Password.MinLength,
		"RATE_LIMIT_BURST":       &c.Server.RateLimit.Burst,
	}
	for key, dst := range ints {
		v, ok, err := getEnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}

	durs := map[string]*time.Duration{
		"JWT_ACCESS_TTL":   &c.Auth.JWT.AccessTTL,
		"JWT_REFRESH_TTL":  &c.Auth.JWT.RefreshTTL,
		"LOCKOUT_DURATION": &c.Auth.Lockout.Duration,
		"RESET_CODE_TTL":   &c.Auth.Reset.CodeTTL,
		"REDIS_OP_TIMEOUT": &c.Redis.OpTimeout,
	}
	for key, dst := range durs {
		v, ok, err := getEnvDur(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"SERVER_TRUST_PROXY":     &c.Server.TrustProxy,
		"RATE_LIMIT_ENABLED":     &c.Server.RateLimit.Enabled,
		"AUDIT_ENABLED":          &c.Auth.Audit.Enabled,
		"PASSWORD_ACCEPT_BCRYPT": &c.Auth.Password.AcceptBcrypt,
	}
	for key, dst := range bools {
		v, ok, err := getEnvBool(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}

	if s, ok := getEnvStr("RATE_LIMIT_RPS"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_RPS: %w", EnvPrefix, err)
		}
		c.Server.RateLimit.RPS = v
	}
	return nil
}

// Validate checks the service-level settings. Engine settings are checked by
// Engine.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		return errors.New("server.rate_limit requires rps > 0 and burst > 0")
	}
	switch c.SMTP.TLSMode {
	case "auto", "ssl", "none":
	default:
		return fmt.Errorf("smtp.tls_mode %q is not one of auto, ssl, none", c.SMTP.TLSMode)
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return errors.New("smtp.from is required when smtp.host is set")
	}
	if c.Sentry.SampleRate < 0 || c.Sentry.SampleRate > 1 {
		return errors.New("sentry.sample_rate must be in [0, 1]")
	}
	return nil
}

// Engine builds the library configuration: authsession defaults overlaid
// with every non-zero auth.* value.
func (c *Config) Engine() (authsession.Config, error) {
	out := authsession.DefaultConfig()
	a := c.Auth

	if a.JWT.AccessTTL > 0 {
		out.JWT.AccessTTL = a.JWT.AccessTTL
	}
	if a.JWT.RefreshTTL > 0 {
		out.JWT.RefreshTTL = a.JWT.RefreshTTL
	}
	if a.JWT.SigningMethod != "" {
		out.JWT.SigningMethod = strings.ToLower(a.JWT.SigningMethod)
	}
	if a.JWT.Leeway > 0 {
		out.JWT.Leeway = a.JWT.Leeway
	}
	out.JWT.Issuer = a.JWT.Issuer
	out.JWT.Audience = a.JWT.Audience
	out.JWT.KeyID = a.JWT.KeyID

	priv, err := readKey(a.JWT.PrivateKey, a.JWT.PrivateKeyFile)
	if err != nil {
		return authsession.Config{}, fmt.Errorf("auth.jwt private key: %w", err)
	}
	pub, err := readKey(a.JWT.PublicKey, a.JWT.PublicKeyFile)
	if err != nil {
		return authsession.Config{}, fmt.Errorf("auth.jwt public key: %w", err)
	}
	// A raw ed25519 private key carries its public half.
	if len(pub) == 0 && len(priv) == ed25519.PrivateKeySize && out.JWT.SigningMethod == "ed25519" {
		pub = ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	}
	out.JWT.PrivateKey = priv
	out.JWT.PublicKey = pub

	out.KV.Prefix = c.Redis.Prefix
	out.KV.OpTimeout = c.Redis.OpTimeout

	if a.Lockout.Threshold > 0 {
		out.Lockout.Threshold = a.Lockout.Threshold
	}
	if a.Lockout.Duration > 0 {
		out.Lockout.Duration = a.Lockout.Duration
	}
	if a.Lockout.Window > 0 {
		out.Lockout.Window = a.Lockout.Window
	}

	if a.Password.MinLength > 0 {
		out.Password.MinLength = a.Password.MinLength
	}
	if a.Password.Argon2Memory > 0 {
		out.Password.Memory = a.Password.Argon2Memory
	}
	if a.Password.Argon2Time > 0 {
		out.Password.Time = a.Password.Argon2Time
	}
	out.Password.AcceptBcrypt = a.Password.AcceptBcrypt

	if a.MFA.Issuer != "" {
		out.MFA.Issuer = a.MFA.Issuer
	}
	if a.MFA.ChallengeTTL > 0 {
		out.MFA.ChallengeTTL = a.MFA.ChallengeTTL
	}
	if a.MFA.ChallengeAttempts > 0 {
		out.MFA.ChallengeAttempts = a.MFA.ChallengeAttempts
	}

	if a.Reset.CodeTTL > 0 {
		out.Reset.CodeTTL = a.Reset.CodeTTL
	}
	if a.Reset.MaxAttempts > 0 {
		out.Reset.MaxAttempts = a.Reset.MaxAttempts
	}
	if a.Reset.RequestLimit > 0 {
		out.Reset.RequestLimit = a.Reset.RequestLimit
	}
	if a.Reset.RequestWindow > 0 {
		out.Reset.RequestWindow = a.Reset.RequestWindow
	}
	if a.Notify.Workers > 0 {
		out.Notify.Workers = a.Notify.Workers
	}
	if a.Notify.QueueSize > 0 {
		out.Notify.QueueSize = a.Notify.QueueSize
	}
	if a.Notify.Timeout > 0 {
		out.Notify.Timeout = a.Notify.Timeout
	}
	codeKey, err := readKey(a.CodeHashKey, a.CodeHashKeyFile)
	if err != nil {
		return authsession.Config{}, fmt.Errorf("auth.code_hash_key: %w", err)
	}
	out.CodeHashKey = codeKey
	out.Audit.Enabled = a.Audit.Enabled

	if err := out.Validate(); err != nil {
		return authsession.Config{}, fmt.Errorf("auth: %w", err)
	}
	return out, nil
}

// readKey returns the decoded inline value, or the file contents when inline
// is empty.
func readKey(inline, file string) ([]byte, error) {
	if inline = strings.TrimSpace(inline); inline != "" {
		if strings.HasPrefix(inline, "-----BEGIN") {
			return []byte(inline), nil
		}
		return base64.StdEncoding.DecodeString(inline)
	}
	if file == "" {
		return nil, nil
	}
	return os.ReadFile(file)
}
