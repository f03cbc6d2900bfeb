package authsession

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/mfa"
)

// BeginMFASetup starts TOTP enrollment for accountID. The returned secret is
// pending until ConfirmMFASetup accepts a code generated from it.
func (e *Engine) BeginMFASetup(ctx context.Context, accountID string) (MFASetup, error) {
	if e == nil {
		return MFASetup{}, ErrEngineNotReady
	}
	setup, err := e.mfa.BeginSetup(ctx, accountID)
	if err != nil {
		return MFASetup{}, e.mfaError("mfa.begin", err)
	}
	e.emitAudit(ctx, auditEventMFASetupRequested, true, accountID, "", nil, nil)
	return setup, nil
}

// ConfirmMFASetup enables MFA and returns the recovery codes. They are shown
// once; only their hashes are kept.
func (e *Engine) ConfirmMFASetup(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	codes, err := e.mfa.ConfirmSetup(ctx, accountID, code)
	if err != nil {
		err = e.mfaError("mfa.confirm", err)
		e.emitAudit(ctx, auditEventMFAEnabled, false, accountID, "", err, nil)
		return nil, err
	}
	e.metricInc(MetricMFAEnabled)
	e.emitAudit(ctx, auditEventMFAEnabled, true, accountID, "", nil, nil)
	return codes, nil
}

// DisableMFA turns MFA off. The account password must be presented again; a
// wrong one counts as a failed login and a locked account is refused.
func (e *Engine) DisableMFA(ctx context.Context, accountID, pw string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.checkLock(ctx, "mfa.disable.lock_state", accountID); err != nil {
		return err
	}
	if err := e.mfa.Disable(ctx, accountID, pw); err != nil {
		if errors.Is(err, mfa.ErrInvalidPassword) {
			err = e.loginFailed(ctx, accountID)
		} else {
			err = e.mfaError("mfa.disable", err)
		}
		e.emitAudit(ctx, auditEventMFADisabled, false, accountID, "", err, nil)
		return err
	}
	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, accountID, "", nil, nil)
	return nil
}

// RegenerateRecoveryCodes replaces all recovery codes after checking a fresh
// TOTP code. Wrong codes count as failed logins.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.checkLock(ctx, "mfa.regenerate.lock_state", accountID); err != nil {
		return nil, err
	}
	codes, err := e.mfa.RegenerateRecoveryCodes(ctx, accountID, totpCode)
	if err != nil {
		if errors.Is(err, mfa.ErrInvalidCode) {
			e.metricInc(MetricMFALoginFailure)
			if lerr := e.recordFailure(ctx, accountID); lerr != nil {
				return nil, lerr
			}
		}
		return nil, e.mfaError("mfa.regenerate", err)
	}
	e.metricInc(MetricRecoveryCodesRegenerated)
	e.emitAudit(ctx, auditEventRecoveryCodesGenerated, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

func (e *Engine) mfaError(op string, err error) error {
	switch {
	case errors.Is(err, mfa.ErrAlreadyEnabled), errors.Is(err, mfa.ErrNotEnabled):
		return err
	case errors.Is(err, mfa.ErrInvalidCode):
		return ErrMfaInvalid
	case errors.Is(err, mfa.ErrNoPendingSetup):
		return ErrCodeInvalidOrExpired
	case errors.Is(err, mfa.ErrInvalidPassword):
		return ErrInvalidCredentials
	case errors.Is(err, account.ErrNotFound):
		return ErrTokenInvalid
	case isUnavailable(err):
		return e.storeFailure(op, err)
	default:
		return err
	}
}
