package authsession

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/token"
)

// Refresh rotates refreshToken. Presenting a token that was already rotated
// revokes its whole family: that call and every later rotation in the family
// return ErrTokenFamilyCompromised.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	pair, err := e.tokens.Rotate(ctx, refreshToken)
	switch {
	case err == nil:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, "", pair.FamilyID, nil, nil)
		return pair, nil
	case errors.Is(err, token.ErrFamilyCompromised):
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricFamilyCompromised)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", "", ErrTokenFamilyCompromised, nil)
		return TokenPair{}, ErrTokenFamilyCompromised
	case isUnavailable(err):
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, e.storeFailure("refresh", err)
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrTokenInvalid, nil)
		return TokenPair{}, ErrTokenInvalid
	}
}

// Logout ends one session: the refresh record is deleted and, when given, the
// access token is revoked for the rest of its lifetime. Tokens that no longer
// parse are ignored.
func (e *Engine) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.tokens.RevokeRefresh(ctx, refreshToken); err != nil {
		return e.storeFailure("logout.refresh", err)
	}
	if accessToken != "" {
		if err := e.tokens.RevokeAccess(ctx, accessToken); err != nil {
			return e.storeFailure("logout.access", err)
		}
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", nil, nil)
	return nil
}

// LogoutAll invalidates every token issued to accountID so far.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	version, err := e.tokens.RevokeAll(ctx, accountID)
	if errors.Is(err, token.ErrInvalid) {
		return ErrTokenInvalid
	}
	if err != nil {
		return e.storeFailure("logout_all", err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"token_version": strconv.FormatInt(version, 10)}
	})
	return nil
}

// ValidateAccess verifies accessToken. Any store failure rejects the token
// with ErrStoreUnavailable; it is never accepted on a degraded path.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	claims, err := e.tokens.ValidateAccess(ctx, accessToken)
	if err == nil {
		return claims, nil
	}
	e.metricInc(MetricValidateFailure)
	if isUnavailable(err) {
		return nil, e.storeFailure("validate", err)
	}
	return nil, ErrTokenInvalid
}

// Account returns the projection of accountID for introspection endpoints.
func (e *Engine) Account(ctx context.Context, accountID string) (AccountInfo, error) {
	if e == nil {
		return AccountInfo{}, ErrEngineNotReady
	}
	a, err := e.accounts.GetByID(ctx, accountID)
	if errors.Is(err, account.ErrNotFound) {
		return AccountInfo{}, ErrTokenInvalid
	}
	if err != nil {
		return AccountInfo{}, e.storeFailure("account", err)
	}
	return accountInfo(a), nil
}
