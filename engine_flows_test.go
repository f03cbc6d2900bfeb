package authsession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authsession/internal/secret"
	"github.com/MrEthical07/authsession/notify"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

func TestPasswordResetInvalidatesSessions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	if err := f.engine.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := f.outbox.last(t, testEmail)

	if err := f.engine.VerifyPasswordResetCode(ctx, testEmail, code); err != nil {
		t.Fatalf("VerifyPasswordResetCode failed: %v", err)
	}
	// Verification does not consume the code.
	if err := f.engine.ResetPassword(ctx, testEmail, code, "brand-new-password-1"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	if _, err := f.engine.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected old access token to be invalid, got %v", err)
	}
	if _, err := f.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected old refresh token to be invalid, got %v", err)
	}
	if err := f.engine.ResetPassword(ctx, testEmail, code, "another-password-22"); !errors.Is(err, ErrCodeInvalidOrExpired) {
		t.Fatalf("expected single-use code, got %v", err)
	}

	if _, err := f.engine.Login(ctx, testEmail, testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := f.engine.Login(ctx, testEmail, "brand-new-password-1"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestPasswordResetRequestUnknownEmail(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	if n := f.outbox.count("ghost@example.com"); n != 0 {
		t.Fatalf("no code should be sent to unknown email, sent %d", n)
	}
	if err := f.engine.VerifyPasswordResetCode(ctx, "ghost@example.com", "123456"); !errors.Is(err, ErrCodeInvalidOrExpired) {
		t.Fatalf("expected ErrCodeInvalidOrExpired, got %v", err)
	}
}

func TestPasswordResetPolicyViolationKeepsCode(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_ = f.engine.RequestPasswordReset(ctx, testEmail)
	code := f.outbox.last(t, testEmail)

	if err := f.engine.ResetPassword(ctx, testEmail, code, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := f.engine.ResetPassword(ctx, testEmail, code, "long-enough-password"); err != nil {
		t.Fatalf("code should survive a policy violation: %v", err)
	}
}

func TestPasswordResetWrongCodesBurnTheCode(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_ = f.engine.RequestPasswordReset(ctx, testEmail)
	code := f.outbox.last(t, testEmail)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 5; i++ {
		if err := f.engine.VerifyPasswordResetCode(ctx, testEmail, wrong); !errors.Is(err, ErrCodeInvalidOrExpired) {
			t.Fatalf("attempt %d: expected ErrCodeInvalidOrExpired, got %v", i, err)
		}
	}
	if err := f.engine.ResetPassword(ctx, testEmail, code, "long-enough-password"); !errors.Is(err, ErrCodeInvalidOrExpired) {
		t.Fatalf("expected code to be burned after max attempts, got %v", err)
	}
}

func TestPasswordResetClearsLock(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.engine.Login(ctx, testEmail, "wrong-password-123")
	}
	_ = f.engine.RequestPasswordReset(ctx, testEmail)
	if err := f.engine.ResetPassword(ctx, testEmail, f.outbox.last(t, testEmail), "fresh-password-42"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := f.engine.Login(ctx, testEmail, "fresh-password-42"); err != nil {
		t.Fatalf("expected lock cleared by reset, got %v", err)
	}
}

func enableMFA(t *testing.T, f *engineFixture) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := f.engine.BeginMFASetup(ctx, f.account.ID)
	if err != nil {
		t.Fatalf("BeginMFASetup failed: %v", err)
	}
	if setup.Secret == "" || setup.URI == "" {
		t.Fatalf("incomplete setup: %+v", setup)
	}
	codes, err := f.engine.ConfirmMFASetup(ctx, f.account.ID, totpCode(t, setup.Secret, f.clock.Now()))
	if err != nil {
		t.Fatalf("ConfirmMFASetup failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 recovery codes, got %d", len(codes))
	}
	return setup.Secret, codes
}

func TestMFALoginFlow(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	secret, recovery := enableMFA(t, f)

	if _, err := f.engine.BeginMFASetup(ctx, f.account.ID); !errors.Is(err, ErrMfaAlreadyEnabled) {
		t.Fatalf("expected ErrMfaAlreadyEnabled, got %v", err)
	}

	res, err := f.engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.MFARequired || res.PendingID == "" || res.Tokens.AccessToken != "" {
		t.Fatalf("expected pending MFA result, got %+v", res)
	}

	// The code that confirmed setup cannot be replayed.
	if _, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, totpCode(t, secret, f.clock.Now())); !errors.Is(err, ErrMfaInvalid) {
		t.Fatalf("expected replayed code to fail, got %v", err)
	}

	f.clock.Advance(30 * time.Second)
	pair, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, totpCode(t, secret, f.clock.Now()))
	if err != nil {
		t.Fatalf("ConfirmLoginMFA failed: %v", err)
	}
	if _, err := f.engine.ValidateAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if _, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, totpCode(t, secret, f.clock.Now())); !errors.Is(err, ErrMfaInvalid) {
		t.Fatalf("completed challenge must not be reusable, got %v", err)
	}

	// Recovery codes work once.
	res, _ = f.engine.Login(ctx, testEmail, testPassword)
	if _, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, recovery[0]); err != nil {
		t.Fatalf("recovery code login failed: %v", err)
	}
	res, _ = f.engine.Login(ctx, testEmail, testPassword)
	if _, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, recovery[0]); !errors.Is(err, ErrMfaInvalid) {
		t.Fatalf("expected used recovery code to fail, got %v", err)
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricRecoveryCodeUsed]; got != 1 {
		t.Fatalf("recovery_code_used = %d, want 1", got)
	}
}

func withLockoutThreshold(n int) fixtureOption {
	return func(_ *Builder, cfg *Config) { cfg.Lockout.Threshold = n }
}

func TestMFAChallengeAttemptLimit(t *testing.T) {
	// The account lock is covered separately; keep it out of the way here.
	f := newEngineFixture(t, withLockoutThreshold(20))
	ctx := context.Background()
	secret, _ := enableMFA(t, f)
	f.clock.Advance(30 * time.Second)

	res, err := f.engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, "not-a-code"); !errors.Is(err, ErrMfaInvalid) {
			t.Fatalf("attempt %d: expected ErrMfaInvalid, got %v", i, err)
		}
	}
	if _, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, totpCode(t, secret, f.clock.Now())); !errors.Is(err, ErrMfaInvalid) {
		t.Fatalf("exhausted challenge must be gone, got %v", err)
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricMFAAttemptsExceeded]; got != 1 {
		t.Fatalf("mfa_attempts_exceeded = %d, want 1", got)
	}
}

func TestMFADisableAndRegenerate(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	secret, old := enableMFA(t, f)

	f.clock.Advance(30 * time.Second)
	fresh, err := f.engine.RegenerateRecoveryCodes(ctx, f.account.ID, totpCode(t, secret, f.clock.Now()))
	if err != nil {
		t.Fatalf("RegenerateRecoveryCodes failed: %v", err)
	}
	if len(fresh) != 10 || fresh[0] == old[0] {
		t.Fatalf("expected a new set of codes")
	}

	res, _ := f.engine.Login(ctx, testEmail, testPassword)
	if _, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, old[1]); !errors.Is(err, ErrMfaInvalid) {
		t.Fatalf("old recovery codes must be replaced, got %v", err)
	}

	if err := f.engine.DisableMFA(ctx, f.account.ID, "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.engine.DisableMFA(ctx, f.account.ID, testPassword); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}
	if err := f.engine.DisableMFA(ctx, f.account.ID, testPassword); !errors.Is(err, ErrMfaNotEnabled) {
		t.Fatalf("expected ErrMfaNotEnabled, got %v", err)
	}
	f.login(t)
}

func TestDeactivateAccountEndsSessions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	if err := f.engine.DeactivateAccount(ctx, f.account.ID); err != nil {
		t.Fatalf("DeactivateAccount failed: %v", err)
	}
	if _, err := f.engine.ValidateAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := f.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on refresh, got %v", err)
	}
	if err := f.engine.DeactivateAccount(ctx, "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestMFAFailuresAcrossLoginsLockAccount(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	secret, _ := enableMFA(t, f)
	f.clock.Advance(30 * time.Second)

	for i := 0; i < 5; i++ {
		res, err := f.engine.Login(ctx, testEmail, testPassword)
		if err != nil || !res.MFARequired {
			t.Fatalf("login %d: expected a fresh challenge, got %+v, %v", i, res, err)
		}
		_, err = f.engine.ConfirmLoginMFA(ctx, res.PendingID, "000000")
		if i < 4 {
			if !errors.Is(err, ErrMfaInvalid) {
				t.Fatalf("attempt %d: expected ErrMfaInvalid, got %v", i, err)
			}
			continue
		}
		var locked *LockedError
		if !errors.As(err, &locked) || !errors.Is(err, ErrAccountLocked) {
			t.Fatalf("expected the fifth wrong code to lock the account, got %v", err)
		}
	}

	if _, err := f.engine.Login(ctx, testEmail, testPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected locked login, got %v", err)
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricAccountLocked]; got != 1 {
		t.Fatalf("account_locked = %d, want 1", got)
	}

	// A correct second factor clears the counter once the lock is gone.
	f.clock.Advance(16 * time.Minute)
	res, err := f.engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login after lock failed: %v", err)
	}
	if _, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, "000000"); !errors.Is(err, ErrMfaInvalid) {
		t.Fatalf("expected ErrMfaInvalid, got %v", err)
	}
	res, _ = f.engine.Login(ctx, testEmail, testPassword)
	if _, err := f.engine.ConfirmLoginMFA(ctx, res.PendingID, totpCode(t, secret, f.clock.Now())); err != nil {
		t.Fatalf("ConfirmLoginMFA failed: %v", err)
	}
	if f.mr.Exists("as:fail:" + f.account.ID) {
		t.Fatal("expected failure counter cleared by a completed MFA login")
	}
}

func TestRegenerateRecoveryCodesCountsFailures(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	secret, _ := enableMFA(t, f)
	f.clock.Advance(30 * time.Second)

	for i := 0; i < 4; i++ {
		if _, err := f.engine.RegenerateRecoveryCodes(ctx, f.account.ID, "000000"); !errors.Is(err, ErrMfaInvalid) {
			t.Fatalf("attempt %d: expected ErrMfaInvalid, got %v", i, err)
		}
	}
	if _, err := f.engine.RegenerateRecoveryCodes(ctx, f.account.ID, "000000"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected the fifth wrong code to lock the account, got %v", err)
	}
	if _, err := f.engine.RegenerateRecoveryCodes(ctx, f.account.ID, totpCode(t, secret, f.clock.Now())); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected a locked account to refuse even a valid code, got %v", err)
	}
}

func TestDisableMFAWrongPasswordCountsTowardLock(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	enableMFA(t, f)

	for i := 0; i < 4; i++ {
		if err := f.engine.DisableMFA(ctx, f.account.ID, "wrong-password-123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if err := f.engine.DisableMFA(ctx, f.account.ID, "wrong-password-123"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected the fifth wrong password to lock the account, got %v", err)
	}
	if err := f.engine.DisableMFA(ctx, f.account.ID, testPassword); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected a locked account to refuse the right password, got %v", err)
	}

	info, err := f.engine.Account(ctx, f.account.ID)
	if err != nil || !info.MFAEnabled {
		t.Fatalf("expected MFA still enabled, got %+v, %v", info, err)
	}
}

func TestPasswordResetRequestRateLimited(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.engine.RequestPasswordReset(ctx, testEmail); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if err := f.engine.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
			t.Fatalf("unknown request %d failed: %v", i, err)
		}
	}
	if err := f.engine.RequestPasswordReset(ctx, testEmail); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := f.engine.RequestPasswordReset(ctx, "ghost@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for an unknown email, got %v", err)
	}
	if got := f.engine.MetricsSnapshot().Counters[MetricPasswordResetRateLimited]; got != 2 {
		t.Fatalf("password_reset_rate_limited = %d, want 2", got)
	}
}

type slowOutbox struct {
	*outbox
	delay time.Duration
}

func (s slowOutbox) Send(ctx context.Context, address string, code notify.Code) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.outbox.Send(ctx, address, code)
}

func TestPasswordResetRequestTimeIndependentOfDelivery(t *testing.T) {
	slow := slowOutbox{outbox: &outbox{codes: map[string][]string{}}, delay: 300 * time.Millisecond}
	f := newEngineFixture(t, func(b *Builder, _ *Config) { b.WithSender(slow) })
	ctx := context.Background()

	timed := func(email string) time.Duration {
		start := time.Now()
		if err := f.engine.RequestPasswordReset(ctx, email); err != nil {
			t.Fatalf("RequestPasswordReset(%s) failed: %v", email, err)
		}
		return time.Since(start)
	}
	known := timed(testEmail)
	unknown := timed("ghost@example.com")

	if known >= 150*time.Millisecond || unknown >= 150*time.Millisecond {
		t.Fatalf("request waited on delivery: known=%v unknown=%v", known, unknown)
	}
	diff := known - unknown
	if diff < 0 {
		diff = -diff
	}
	if diff > 60*time.Millisecond {
		t.Fatalf("known=%v unknown=%v differ too much", known, unknown)
	}

	// The code still arrives, after the response.
	if code := slow.last(t, testEmail); len(code) != 6 {
		t.Fatalf("unexpected delivered code %q", code)
	}
}

func TestEngineCloseFlushesDeliveries(t *testing.T) {
	slow := slowOutbox{outbox: &outbox{codes: map[string][]string{}}, delay: 50 * time.Millisecond}
	f := newEngineFixture(t, func(b *Builder, _ *Config) { b.WithSender(slow) })

	if err := f.engine.RequestPasswordReset(context.Background(), testEmail); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	f.engine.Close()
	if n := slow.count(testEmail); n != 1 {
		t.Fatalf("expected queued delivery flushed by Close, got %d", n)
	}
}

func TestRecoveryCodesHashedWithConfiguredKey(t *testing.T) {
	key := []byte("fedcba9876543210fedcba9876543210")
	f := newEngineFixture(t, func(_ *Builder, cfg *Config) { cfg.CodeHashKey = key })
	_, codes := enableMFA(t, f)

	h, err := secret.NewCodeHasher(key)
	if err != nil {
		t.Fatalf("NewCodeHasher failed: %v", err)
	}
	a, err := f.accounts.GetByID(context.Background(), f.account.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(a.MFA.RecoveryCodes) != len(codes) || a.MFA.RecoveryCodes[0] != h.Hash(f.account.ID, codes[0]) {
		t.Fatalf("expected recovery codes keyed with CodeHashKey")
	}

	other, _ := secret.NewCodeHasher([]byte("0123456789abcdef0123456789abcdef"))
	if a.MFA.RecoveryCodes[0] == other.Hash(f.account.ID, codes[0]) {
		t.Fatal("expected digest to depend on the key")
	}
}
