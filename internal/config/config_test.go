package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hsKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=" // 32 bytes

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "as", cfg.Redis.Prefix)
	assert.Equal(t, 300*time.Millisecond, cfg.Redis.OpTimeout)
	assert.Equal(t, "auto", cfg.SMTP.TLSMode)
	assert.Equal(t, "ed25519", cfg.Auth.JWT.SigningMethod)
	assert.Equal(t, "dev", cfg.Log.Env)
}

func TestLoadYAMLAndEngine(t *testing.T) {
	path := writeFile(t, "authsvc.yaml", `
server:
  addr: ":9090"
  rate_limit:
    enabled: true
    rps: 2
    burst: 4
redis:
  addr: "localhost:6379"
  prefix: "svc"
auth:
  jwt:
    signing_method: hs256
    private_key: "`+hsKey+`"
    access_ttl: 10m
    refresh_ttl: 48h
    issuer: "https://auth.example.com"
  lockout:
    threshold: 3
    duration: 30m
  reset:
    code_ttl: 4m
    request_limit: 2
    request_window: 30m
  notify:
    workers: 4
  code_hash_key: "`+hsKey+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 4, cfg.Server.RateLimit.Burst)

	ec, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, "hs256", ec.JWT.SigningMethod)
	assert.Len(t, ec.JWT.PrivateKey, 32)
	assert.Equal(t, 10*time.Minute, ec.JWT.AccessTTL)
	assert.Equal(t, 48*time.Hour, ec.JWT.RefreshTTL)
	assert.Equal(t, "https://auth.example.com", ec.JWT.Issuer)
	assert.Equal(t, "svc", ec.KV.Prefix)
	assert.Equal(t, 3, ec.Lockout.Threshold)
	assert.Equal(t, 30*time.Minute, ec.Lockout.Duration)
	assert.Equal(t, 4*time.Minute, ec.Reset.CodeTTL)
	assert.Equal(t, 2, ec.Reset.RequestLimit)
	assert.Equal(t, 30*time.Minute, ec.Reset.RequestWindow)
	assert.Equal(t, 4, ec.Notify.Workers)
	assert.Len(t, ec.CodeHashKey, 32)
	// Untouched values keep the library defaults.
	assert.Equal(t, 5, ec.Reset.MaxAttempts)
	assert.Equal(t, 256, ec.Notify.QueueSize)
	assert.Equal(t, 10, ec.Password.MinLength)
}

func TestEnvOverridesWin(t *testing.T) {
	path := writeFile(t, "authsvc.yaml", "server:\n  addr: \":9090\"\n")
	t.Setenv("AUTHSVC_SERVER_ADDR", ":7070")
	t.Setenv("AUTHSVC_REDIS_DB", "3")
	t.Setenv("AUTHSVC_JWT_ACCESS_TTL", "5m")
	t.Setenv("AUTHSVC_AUDIT_ENABLED", "true")
	t.Setenv("AUTHSVC_RATE_LIMIT_RPS", "0.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 5*time.Minute, cfg.Auth.JWT.AccessTTL)
	assert.True(t, cfg.Auth.Audit.Enabled)
	assert.InDelta(t, 0.5, cfg.Server.RateLimit.RPS, 1e-9)
}

func TestEnvOverrideParseErrors(t *testing.T) {
	t.Setenv("AUTHSVC_REDIS_DB", "three")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHSVC_REDIS_DB")
}

func TestDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "AUTHSVC_LOG_LEVEL=debug\nAUTHSVC_SERVER_ADDR=:6060\n")
	t.Setenv("AUTHSVC_SERVER_ADDR", ":5050")
	t.Setenv("AUTHSVC_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("AUTHSVC_LOG_LEVEL"))

	require.NoError(t, LoadDotEnv(envFile, filepath.Join(t.TempDir(), "missing.env")))
	t.Cleanup(func() { _ = os.Unsetenv("AUTHSVC_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":5050", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"rate limit without burst", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.Burst = -1
		}},
		{"bad tls mode", func(c *Config) { c.SMTP.TLSMode = "starttls" }},
		{"smtp without from", func(c *Config) { c.SMTP.Host = "smtp.example.com" }},
		{"sample rate", func(c *Config) { c.Sentry.SampleRate = 2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mut(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEngineRequiresKeys(t *testing.T) {
	cfg := Default()
	_, err := cfg.Engine()
	require.Error(t, err)

	cfg.Auth.JWT.PrivateKey = "not base64!"
	_, err = cfg.Engine()
	require.Error(t, err)
}

func TestEngineDerivesEd25519PublicKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	cfg := Default()
	cfg.Auth.JWT.PrivateKey = base64.StdEncoding.EncodeToString(priv)

	ec, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), ec.JWT.PublicKey)
}

func TestEngineReadsKeyFile(t *testing.T) {
	keyFile := writeFile(t, "hs.key", "0123456789abcdef0123456789abcdef")
	cfg := Default()
	cfg.Auth.JWT.SigningMethod = "HS256"
	cfg.Auth.JWT.PrivateKeyFile = keyFile

	ec, err := cfg.Engine()
	require.NoError(t, err)
	assert.Equal(t, "hs256", ec.JWT.SigningMethod)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), ec.JWT.PrivateKey)
}
