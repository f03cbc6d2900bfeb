package authsession

import (
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without keys to be rejected")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "baseline", mutate: func(*Config) {}, wantValid: true},
		{
			name:      "jwt leeway valid",
			mutate:    func(c *Config) { c.JWT.Leeway = 45 * time.Second },
			wantValid: true,
		},
		{
			name:      "jwt leeway invalid",
			mutate:    func(c *Config) { c.JWT.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "jwt signing invalid",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "hs256 short key",
			mutate:    func(c *Config) { c.JWT.PrivateKey = []byte("short") },
			wantValid: false,
		},
		{
			name: "ed25519 without public key",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name:      "refresh ttl not above access ttl",
			mutate:    func(c *Config) { c.JWT.RefreshTTL = c.JWT.AccessTTL },
			wantValid: false,
		},
		{
			name:      "kv timeout zero",
			mutate:    func(c *Config) { c.KV.OpTimeout = 0 },
			wantValid: false,
		},
		{
			name:      "kv prefix empty",
			mutate:    func(c *Config) { c.KV.Prefix = "" },
			wantValid: false,
		},
		{
			name:      "lockout threshold zero",
			mutate:    func(c *Config) { c.Lockout.Threshold = 0 },
			wantValid: false,
		},
		{
			name:      "password min length below floor",
			mutate:    func(c *Config) { c.Password.MinLength = 6 },
			wantValid: false,
		},
		{
			name: "bcrypt cost out of range",
			mutate: func(c *Config) {
				c.Password.AcceptBcrypt = true
				c.Password.BcryptCost = 40
			},
			wantValid: false,
		},
		{
			name:      "mfa skew too wide",
			mutate:    func(c *Config) { c.MFA.Skew = 5 },
			wantValid: false,
		},
		{
			name:      "mfa skew zero allowed",
			mutate:    func(c *Config) { c.MFA.Skew = 0 },
			wantValid: true,
		},
		{
			name:      "reset digits too few",
			mutate:    func(c *Config) { c.Reset.CodeDigits = 4 },
			wantValid: false,
		},
		{
			name:      "reset request limit zero",
			mutate:    func(c *Config) { c.Reset.RequestLimit = 0 },
			wantValid: false,
		},
		{
			name:      "reset request window zero",
			mutate:    func(c *Config) { c.Reset.RequestWindow = 0 },
			wantValid: false,
		},
		{
			name:      "notify without workers",
			mutate:    func(c *Config) { c.Notify.Workers = 0 },
			wantValid: false,
		},
		{
			name:      "notify timeout zero",
			mutate:    func(c *Config) { c.Notify.Timeout = 0 },
			wantValid: false,
		},
		{
			name:      "code hash key too short",
			mutate:    func(c *Config) { c.CodeHashKey = []byte("short") },
			wantValid: false,
		},
		{
			name:      "code hash key explicit",
			mutate:    func(c *Config) { c.CodeHashKey = []byte("fedcba9876543210fedcba9876543210") },
			wantValid: true,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := validTestConfig()
	cfg.CodeHashKey = []byte("fedcba9876543210fedcba9876543210")
	out := cloneConfig(cfg)
	out.JWT.PrivateKey[0] = 'X'
	out.CodeHashKey[0] = 'X'
	if cfg.JWT.PrivateKey[0] == 'X' || cfg.CodeHashKey[0] == 'X' {
		t.Fatal("cloneConfig must not share key bytes")
	}
}
