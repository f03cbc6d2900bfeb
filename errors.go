package authsession

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/kv"
	"github.com/MrEthical07/authsession/lockout"
	"github.com/MrEthical07/authsession/mfa"
	"github.com/MrEthical07/authsession/password"
	"github.com/MrEthical07/authsession/reset"
	"github.com/MrEthical07/authsession/token"
)

var (
	// ErrInvalidCredentials covers unknown accounts, inactive accounts and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the lockout guard holds the account.
	// The concrete error is a *LockedError carrying the unlock time.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenInvalid covers malformed, expired, revoked and stale tokens.
	ErrTokenInvalid = token.ErrInvalid
	// ErrTokenFamilyCompromised is returned when a rotated refresh token is presented again.
	ErrTokenFamilyCompromised = token.ErrFamilyCompromised
	// ErrMfaRequired marks a login that stopped at the second factor.
	ErrMfaRequired = errors.New("mfa required")
	// ErrMfaInvalid covers wrong, replayed and unknown-challenge MFA codes.
	ErrMfaInvalid = errors.New("mfa code invalid")
	// ErrCodeInvalidOrExpired covers wrong, used and expired one-time codes.
	ErrCodeInvalidOrExpired = reset.ErrInvalidOrExpired
	// ErrRateLimited is returned when an email asked for too many reset codes.
	ErrRateLimited = reset.ErrRateLimited
	// ErrStoreUnavailable is the only retryable class: a backing store did not answer.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrMfaAlreadyEnabled = mfa.ErrAlreadyEnabled
	ErrMfaNotEnabled     = mfa.ErrNotEnabled
	ErrPasswordPolicy    = password.ErrPolicy
	ErrAccountExists     = account.ErrExists
	ErrAccountNotFound   = account.ErrNotFound
	// ErrEngineNotReady is returned by methods called on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError is returned by Login while an account is locked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// isUnavailable reports whether err is an outage of any component store.
func isUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, token.ErrUnavailable) ||
		errors.Is(err, mfa.ErrUnavailable) ||
		errors.Is(err, reset.ErrUnavailable) ||
		errors.Is(err, lockout.ErrUnavailable) ||
		errors.Is(err, kv.ErrUnavailable) ||
		errors.Is(err, account.ErrUnavailable)
}
