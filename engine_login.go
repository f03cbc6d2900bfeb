package authsession

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/lockout"
	"github.com/MrEthical07/authsession/mfa"
	"github.com/MrEthical07/authsession/password"
	"go.uber.org/zap"
)

// Login verifies identifier (an email or a username) and pw.
//
// The lock is checked before the password, so a locked account answers with
// ErrAccountLocked whether or not the password is right. Unknown accounts,
// inactive accounts and wrong passwords all return ErrInvalidCredentials.
// When the account has MFA enabled the result carries a PendingID instead of
// tokens; finish with ConfirmLoginMFA.
func (e *Engine) Login(ctx context.Context, identifier, pw string) (LoginResult, error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	a, err := e.lookup(ctx, identifier)
	if errors.Is(err, account.ErrNotFound) {
		_, _ = e.hasher.Verify(pw, e.dummyHash)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, e.storeFailure("login.lookup", err)
	}

	state, err := e.lockout.State(ctx, a.ID)
	if err != nil {
		return LoginResult{}, e.storeFailure("login.lock_state", err)
	}
	if state.Status == lockout.Locked {
		e.metricInc(MetricLoginLocked)
		lerr := &LockedError{Until: state.Until}
		e.emitAudit(ctx, auditEventLoginLocked, false, a.ID, "", lerr, nil)
		return LoginResult{}, lerr
	}

	ok, verr := e.hasher.Verify(pw, a.PasswordHash)
	if verr != nil && !errors.Is(verr, password.ErrTooLong) {
		e.log.Warn("stored password hash not verifiable", zap.String("account_id", a.ID), zap.Error(verr))
	}
	if !ok {
		return LoginResult{}, e.loginFailed(ctx, a.ID)
	}
	if !a.IsActive {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, a.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "inactive"}
		})
		return LoginResult{}, ErrInvalidCredentials
	}

	e.upgradePasswordHash(ctx, a, pw)

	// With MFA the failure counter is only cleared by ConfirmLoginMFA, so
	// wrong second-factor codes add up across fresh logins.
	if a.MFA.Enabled() {
		pending, err := e.mfa.BeginChallenge(ctx, a.ID)
		if err != nil {
			return LoginResult{}, e.storeFailure("login.mfa_challenge", err)
		}
		e.metricInc(MetricMFALoginRequired)
		e.emitAudit(ctx, auditEventMFARequired, true, a.ID, "", ErrMfaRequired, nil)
		return LoginResult{MFARequired: true, PendingID: pending}, nil
	}

	e.clearFailures(ctx, a.ID)
	pair, err := e.tokens.Issue(ctx, a)
	if err != nil {
		return LoginResult{}, e.storeFailure("login.issue", err)
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, a.ID, pair.FamilyID, nil, nil)
	return LoginResult{Tokens: pair}, nil
}

// ConfirmLoginMFA completes a login that returned MFARequired. code may be a
// TOTP code or an unused recovery code. Wrong codes count against the
// challenge; when its attempts are spent the challenge is gone and the user
// must log in again. They also count as failed logins for the account, so
// they can lock it.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, pendingID, code string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	ch, err := e.mfa.PeekChallenge(ctx, pendingID)
	if errors.Is(err, mfa.ErrChallengeNotFound) {
		e.metricInc(MetricMFALoginFailure)
		return TokenPair{}, ErrMfaInvalid
	}
	if err != nil {
		return TokenPair{}, e.storeFailure("mfa_login.peek", err)
	}

	if err := e.checkLock(ctx, "mfa_login.lock_state", ch.AccountID); err != nil {
		return TokenPair{}, err
	}

	method, err := e.verifySecondFactor(ctx, ch.AccountID, code)
	if err != nil {
		return TokenPair{}, e.storeFailure("mfa_login.verify", err)
	}
	if method == "" {
		exhausted, ferr := e.mfa.FailChallenge(ctx, pendingID)
		if ferr != nil {
			return TokenPair{}, e.storeFailure("mfa_login.fail", ferr)
		}
		e.metricInc(MetricMFALoginFailure)
		event := auditEventMFAFailure
		if exhausted {
			e.metricInc(MetricMFAAttemptsExceeded)
			event = auditEventMFAAttemptsExceeded
		}
		e.emitAudit(ctx, event, false, ch.AccountID, "", ErrMfaInvalid, nil)
		if lerr := e.recordFailure(ctx, ch.AccountID); lerr != nil {
			return TokenPair{}, lerr
		}
		return TokenPair{}, ErrMfaInvalid
	}

	if _, err := e.mfa.CompleteChallenge(ctx, pendingID); err != nil {
		if errors.Is(err, mfa.ErrChallengeNotFound) {
			return TokenPair{}, ErrMfaInvalid
		}
		return TokenPair{}, e.storeFailure("mfa_login.complete", err)
	}

	a, err := e.accounts.GetByID(ctx, ch.AccountID)
	if errors.Is(err, account.ErrNotFound) {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, e.storeFailure("mfa_login.account", err)
	}
	if !a.IsActive {
		return TokenPair{}, ErrInvalidCredentials
	}

	e.clearFailures(ctx, a.ID)
	pair, err := e.tokens.Issue(ctx, a)
	if err != nil {
		return TokenPair{}, e.storeFailure("mfa_login.issue", err)
	}
	if method == mfaMethodRecovery {
		e.metricInc(MetricRecoveryCodeUsed)
		e.emitAudit(ctx, auditEventRecoveryCodeUsed, true, a.ID, pair.FamilyID, nil, nil)
	}
	e.metricInc(MetricMFALoginSuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, a.ID, pair.FamilyID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	return pair, nil
}

const (
	mfaMethodTOTP     = "totp"
	mfaMethodRecovery = "recovery_code"
)

// verifySecondFactor returns the method that accepted code, or "" when
// neither did. Only store outages are returned as errors.
func (e *Engine) verifySecondFactor(ctx context.Context, accountID, code string) (string, error) {
	ok, err := e.mfa.Verify(ctx, accountID, code)
	if err != nil && isUnavailable(err) {
		return "", err
	}
	if ok {
		return mfaMethodTOTP, nil
	}
	if err != nil {
		return "", nil
	}

	ok, err = e.mfa.ConsumeRecoveryCode(ctx, accountID, code)
	if err != nil && isUnavailable(err) {
		return "", err
	}
	if ok {
		return mfaMethodRecovery, nil
	}
	return "", nil
}

func (e *Engine) lookup(ctx context.Context, identifier string) (*account.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, account.ErrNotFound
	}
	if strings.Contains(identifier, "@") {
		return e.accounts.FindByEmail(ctx, account.NormalizeEmail(identifier))
	}
	return e.accounts.FindByUsername(ctx, account.NormalizeUsername(identifier))
}

// loginFailed counts a wrong password. A counter write that fails does not
// block the response; it is logged and counted as lockout_degraded.
func (e *Engine) loginFailed(ctx context.Context, accountID string) error {
	e.metricInc(MetricLoginFailure)
	if lerr := e.recordFailure(ctx, accountID); lerr != nil {
		return lerr
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

// recordFailure feeds one failed credential check (password or second factor)
// into the lockout guard. It returns the lock when this failure set it.
func (e *Engine) recordFailure(ctx context.Context, accountID string) *LockedError {
	locked, err := e.lockout.RecordFailure(ctx, accountID)
	if err != nil {
		e.metricInc(MetricLockoutDegraded)
		e.log.Warn("failed login not recorded, lockout degraded",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
	if !locked {
		return nil
	}
	e.metricInc(MetricAccountLocked)
	lerr := &LockedError{Until: e.now().Add(e.config.Lockout.Duration)}
	e.emitAudit(ctx, auditEventAccountLocked, false, accountID, "", lerr, nil)
	return lerr
}

// checkLock returns a *LockedError while accountID is locked.
func (e *Engine) checkLock(ctx context.Context, op, accountID string) error {
	state, err := e.lockout.State(ctx, accountID)
	if err != nil {
		return e.storeFailure(op, err)
	}
	if state.Status == lockout.Locked {
		e.metricInc(MetricLoginLocked)
		return &LockedError{Until: state.Until}
	}
	return nil
}

func (e *Engine) clearFailures(ctx context.Context, accountID string) {
	if err := e.lockout.RecordSuccess(ctx, accountID); err != nil {
		e.log.Warn("failed-login counter not cleared", zap.String("account_id", accountID), zap.Error(err))
	}
}

// upgradePasswordHash rehashes pw with the current parameters when the stored
// hash is legacy or weaker. Failures keep the old hash.
func (e *Engine) upgradePasswordHash(ctx context.Context, a *account.Account, pw string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(a.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return
	}

	updated := a.Clone()
	updated.PasswordHash = hash
	if err := e.accounts.Save(ctx, updated); err != nil {
		e.log.Warn("password hash upgrade skipped", zap.String("account_id", a.ID), zap.Error(err))
		return
	}
	a.Revision = updated.Revision
	a.PasswordHash = hash
	e.metricInc(MetricPasswordUpgraded)
	e.emitAudit(ctx, auditEventPasswordUpgraded, true, a.ID, "", nil, nil)
}
