package authsession

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/lockout"
	"github.com/google/uuid"
)

// ErrAccountInvalid is returned by CreateAccount for malformed input.
var ErrAccountInvalid = errors.New("invalid account request")

const deactivateRetries = 3

// CreateAccountRequest describes a new account.
type CreateAccountRequest struct {
	Email    string
	Username string
	Password string
	Roles    []string
}

// CreateAccount registers an active account with MFA disabled.
func (e *Engine) CreateAccount(ctx context.Context, req CreateAccountRequest) (AccountInfo, error) {
	if e == nil {
		return AccountInfo{}, ErrEngineNotReady
	}

	email := account.NormalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || strings.ContainsAny(email, " <>") {
		return AccountInfo{}, ErrAccountInvalid
	}
	username := account.NormalizeUsername(req.Username)
	if strings.Contains(username, "@") {
		return AccountInfo{}, ErrAccountInvalid
	}
	if err := e.policy.Check(req.Password, email); err != nil {
		return AccountInfo{}, err
	}
	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return AccountInfo{}, err
	}

	roles := make([]account.Role, 0, len(req.Roles))
	for _, r := range req.Roles {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, account.Role(r))
		}
	}
	now := e.now().UTC()
	a := &account.Account{
		ID:                 uuid.NewString(),
		Email:              email,
		UsernameNormalized: username,
		PasswordHash:       hash,
		PasswordChangedAt:  now,
		IsActive:           true,
		Roles:              roles,
		CreatedAt:          now,
	}

	err = e.accounts.Create(ctx, a)
	if errors.Is(err, account.ErrExists) {
		e.metricInc(MetricAccountCreationDuplicate)
		e.emitAudit(ctx, auditEventAccountDuplicate, false, "", "", ErrAccountExists, nil)
		return AccountInfo{}, ErrAccountExists
	}
	if err != nil {
		return AccountInfo{}, e.storeFailure("account.create", err)
	}

	e.metricInc(MetricAccountCreationSuccess)
	e.emitAudit(ctx, auditEventAccountCreated, true, a.ID, "", nil, nil)
	return accountInfo(a), nil
}

// DeactivateAccount disables login for accountID and invalidates its tokens.
// Accounts are never deleted.
func (e *Engine) DeactivateAccount(ctx context.Context, accountID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	for i := 0; ; i++ {
		a, err := e.accounts.GetByID(ctx, accountID)
		if errors.Is(err, account.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return e.storeFailure("account.deactivate", err)
		}
		if !a.IsActive {
			break
		}
		a.IsActive = false
		err = e.accounts.Save(ctx, a)
		if err == nil {
			break
		}
		if !errors.Is(err, account.ErrConflict) || i+1 >= deactivateRetries {
			return e.storeFailure("account.deactivate", err)
		}
	}

	if _, err := e.tokens.RevokeAll(ctx, accountID); err != nil {
		return e.storeFailure("account.deactivate.revoke", err)
	}
	e.metricInc(MetricAccountDeactivated)
	e.emitAudit(ctx, auditEventAccountDeactivated, true, accountID, "", nil, nil)
	return nil
}

// UnlockAccount clears a lock and the failed-attempt counter.
func (e *Engine) UnlockAccount(ctx context.Context, accountID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.lockout.Unlock(ctx, accountID); err != nil {
		return e.storeFailure("account.unlock", err)
	}
	e.metricInc(MetricAccountUnlocked)
	e.emitAudit(ctx, auditEventAccountUnlocked, true, accountID, "", nil, nil)
	return nil
}

// LockState reports whether accountID is currently locked.
func (e *Engine) LockState(ctx context.Context, accountID string) (lockout.State, error) {
	if e == nil {
		return lockout.State{}, ErrEngineNotReady
	}
	st, err := e.lockout.State(ctx, accountID)
	if err != nil {
		return lockout.State{}, e.storeFailure("account.lock_state", err)
	}
	return st, nil
}
