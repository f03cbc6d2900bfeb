package authsession

import (
	"context"
	"errors"

	"github.com/MrEthical07/authsession/password"
	"github.com/MrEthical07/authsession/reset"
	"go.uber.org/zap"
)

// RequestPasswordReset sends a one-time code to email when it belongs to an
// active account. It returns nil whether or not the email exists, and
// ErrRateLimited for any email that asked too often.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.reset.RequestReset(ctx, email); err != nil {
		if errors.Is(err, reset.ErrRateLimited) {
			e.metricInc(MetricPasswordResetRateLimited)
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrRateLimited, nil)
			return ErrRateLimited
		}
		e.log.Warn("password reset request failed", zap.Error(err))
	}
	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", "", nil, nil)
	return nil
}

// VerifyPasswordResetCode checks code without consuming it, so the client can
// validate the code before asking for a new password.
func (e *Engine) VerifyPasswordResetCode(ctx context.Context, email, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	ok, err := e.reset.VerifyCode(ctx, email, code)
	if err != nil {
		return e.storeFailure("reset.verify", err)
	}
	if !ok {
		e.metricInc(MetricPasswordResetVerifyFailure)
		return ErrCodeInvalidOrExpired
	}
	return nil
}

// ResetPassword consumes code and sets newPassword. Every token issued before
// the reset stops validating. A policy violation returns an error matching
// ErrPasswordPolicy and leaves the code usable.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	err := e.reset.ResetPassword(ctx, email, code, newPassword)
	switch {
	case err == nil:
	case errors.Is(err, password.ErrPolicy):
		e.metricInc(MetricPasswordResetConfirmFailure)
		return err
	case errors.Is(err, reset.ErrInvalidOrExpired):
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", ErrCodeInvalidOrExpired, nil)
		return ErrCodeInvalidOrExpired
	default:
		e.metricInc(MetricPasswordResetConfirmFailure)
		return e.storeFailure("reset.confirm", err)
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	accountID, lerr := e.reset.AccountID(ctx, email)
	if lerr == nil {
		// Proving control of the mailbox also clears a lock.
		if err := e.lockout.RecordSuccess(ctx, accountID); err != nil {
			e.log.Warn("lock not cleared after reset", zap.String("account_id", accountID), zap.Error(err))
		}
	}
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, accountID, "", nil, nil)
	return nil
}
