package authsession

import (
	"context"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/internal/audit"
	"github.com/MrEthical07/authsession/jwt"
	"github.com/MrEthical07/authsession/kv"
	"github.com/MrEthical07/authsession/lockout"
	"github.com/MrEthical07/authsession/mfa"
	"github.com/MrEthical07/authsession/notify"
	"github.com/MrEthical07/authsession/password"
	"github.com/MrEthical07/authsession/reset"
	"github.com/MrEthical07/authsession/token"
	"go.uber.org/zap"
)

// TokenPair is an access token with its rotating refresh token.
type TokenPair = token.Pair

// Claims are the verified contents of an access token.
type Claims = jwt.AccessClaims

// MFASetup carries the pending TOTP secret and its otpauth:// URI.
type MFASetup = mfa.Setup

// LoginResult is either a token pair or a pending MFA challenge.
type LoginResult struct {
	Tokens      TokenPair
	MFARequired bool
	PendingID   string
}

// AccountInfo is the read-only projection of an account returned to callers.
type AccountInfo struct {
	ID         string
	Email      string
	Username   string
	Roles      []string
	MFAEnabled bool
	IsActive   bool
	CreatedAt  time.Time
}

func accountInfo(a *account.Account) AccountInfo {
	return AccountInfo{
		ID:         a.ID,
		Email:      a.Email,
		Username:   a.UsernameNormalized,
		Roles:      a.RoleStrings(),
		MFAEnabled: a.MFA.Enabled(),
		IsActive:   a.IsActive,
		CreatedAt:  a.CreatedAt,
	}
}

// Engine orchestrates the credential, lockout, MFA, token and reset
// components. It is safe for concurrent use once built.
type Engine struct {
	config    Config
	accounts  account.Store
	kv        kv.Store
	tokens    *token.Service
	lockout   *lockout.Guard
	mfa       *mfa.Service
	reset     *reset.Service
	hasher    password.Hasher
	policy    password.Policy
	dummyHash string

	audit    *audit.Dispatcher
	delivery *notify.Dispatcher
	metrics  *Metrics
	log      *zap.Logger
	now      func() time.Time
}

// Close flushes queued code deliveries and pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.delivery.Close()
	e.audit.Close()
}

// Ping checks that the fast store answers.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.kv.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// MetricsSnapshot copies the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Config returns a copy of the engine configuration without key material.
func (e *Engine) Config() Config {
	cfg := e.config
	cfg.JWT.PrivateKey = nil
	cfg.JWT.PublicKey = nil
	return cfg
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// storeFailure records and wraps an outage.
func (e *Engine) storeFailure(op string, err error) error {
	e.metricInc(MetricStoreUnavailable)
	e.log.Error("store unavailable", zap.String("op", op), zap.Error(err))
	return unavailable(err)
}
