package mfa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/internal/secret"
	"github.com/MrEthical07/authsession/kv"
	"github.com/MrEthical07/authsession/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

var testCodeKey = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	mr       *miniredis.Miniredis
	svc      *Service
	store    kv.Store
	accounts *account.MemoryStore
	hasher   password.Hasher
	codes    *secret.CodeHasher
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	hasher := password.NewBcrypt(4)
	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	accounts := account.NewMemoryStore()
	if err := accounts.Create(context.Background(), &account.Account{
		ID: "acc-1", Email: "a@example.com", PasswordHash: hash, IsActive: true,
	}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	codes, err := secret.NewCodeHasher(testCodeKey)
	if err != nil {
		t.Fatalf("NewCodeHasher failed: %v", err)
	}
	f := &fixture{
		mr:       mr,
		store:    kv.NewRedisStore(rdb, time.Second),
		accounts: accounts,
		hasher:   hasher,
		codes:    codes,
		now:      time.Unix(1700000025, 0),
	}
	f.svc = f.service(t, accounts, nil)
	return f
}

func (f *fixture) service(t *testing.T, accounts account.Store, log *zap.Logger) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CodeKey = testCodeKey
	cfg.Now = func() time.Time { return f.now }
	cfg.Logger = log
	svc, err := NewService(f.store, accounts, f.hasher, cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func (f *fixture) code(t *testing.T, secretB32 string, at time.Time) string {
	t.Helper()
	c, err := totp.GenerateCodeCustom(secretB32, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return c
}

func (f *fixture) enable(t *testing.T, recovery ...string) {
	t.Helper()
	ctx := context.Background()
	a, _ := f.accounts.GetByID(ctx, "acc-1")
	hashes := make([]string, len(recovery))
	for i, c := range recovery {
		hashes[i] = f.codes.Hash("acc-1", c)
	}
	a.MFA = account.MFA{State: account.MFAEnabled, Secret: testSecret, RecoveryCodes: hashes}
	if err := f.accounts.Save(ctx, a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestSetupLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup, err := f.svc.BeginSetup(ctx, "acc-1")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") {
		t.Fatalf("unexpected URI %q", setup.URI)
	}
	if ttl := f.mr.TTL("as:mfa:pending:acc-1"); ttl != 10*time.Minute {
		t.Fatalf("expected 10m pending ttl, got %v", ttl)
	}

	if _, err := f.svc.ConfirmSetup(ctx, "acc-1", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	codes, err := f.svc.ConfirmSetup(ctx, "acc-1", f.code(t, setup.Secret, f.now))
	if err != nil {
		t.Fatalf("ConfirmSetup failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 recovery codes, got %d", len(codes))
	}

	a, _ := f.accounts.GetByID(ctx, "acc-1")
	if !a.MFA.Enabled() || a.MFA.Secret != setup.Secret || len(a.MFA.RecoveryCodes) != 10 {
		t.Fatalf("unexpected MFA state: %+v", a.MFA)
	}
	for _, h := range a.MFA.RecoveryCodes {
		for _, c := range codes {
			if h == c {
				t.Fatal("recovery codes must be stored hashed")
			}
		}
	}
	if f.mr.Exists("as:mfa:pending:acc-1") {
		t.Fatal("expected pending setup to be consumed")
	}

	if _, err := f.svc.ConfirmSetup(ctx, "acc-1", f.code(t, setup.Secret, f.now)); !errors.Is(err, ErrNoPendingSetup) {
		t.Fatalf("expected ErrNoPendingSetup, got %v", err)
	}
	if _, err := f.svc.BeginSetup(ctx, "acc-1"); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("expected ErrAlreadyEnabled, got %v", err)
	}
}

func TestConfirmSetupConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup, err := f.svc.BeginSetup(ctx, "acc-1")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	code := f.code(t, setup.Secret, f.now)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.ConfirmSetup(ctx, "acc-1", code); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one successful confirmation, got %d", wins)
	}
}

func TestVerifyWindowAndReplay(t *testing.T) {
	f := newFixture(t)
	f.enable(t)
	ctx := context.Background()

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		ok, err := f.svc.Verify(ctx, "acc-1", f.code(t, testSecret, f.now.Add(offset)))
		if err != nil || !ok {
			t.Fatalf("expected code at offset %v to be accepted, got %v, %v", offset, ok, err)
		}
	}
	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		ok, err := f.svc.Verify(ctx, "acc-1", f.code(t, testSecret, f.now.Add(offset)))
		if err != nil || ok {
			t.Fatalf("expected code at offset %v to be rejected, got %v, %v", offset, ok, err)
		}
	}

	ok, _ := f.svc.Verify(ctx, "acc-1", f.code(t, testSecret, f.now))
	if ok {
		t.Fatal("expected replayed code to be rejected")
	}
}

func TestVerifyRequiresEnabled(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Verify(context.Background(), "acc-1", "123456"); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}
}

func TestRecoveryCodesAreSingleUseAndCaseSensitive(t *testing.T) {
	f := newFixture(t)
	f.enable(t, "ABCDE-FGHJK", "LMNPQ-RSTUV")
	ctx := context.Background()

	if ok, _ := f.svc.ConsumeRecoveryCode(ctx, "acc-1", "abcde-fghjk"); ok {
		t.Fatal("expected lowercase variant to be rejected")
	}
	ok, err := f.svc.ConsumeRecoveryCode(ctx, "acc-1", "ABCDE-FGHJK")
	if err != nil || !ok {
		t.Fatalf("expected first use to succeed, got %v, %v", ok, err)
	}
	if ok, _ := f.svc.ConsumeRecoveryCode(ctx, "acc-1", "ABCDE-FGHJK"); ok {
		t.Fatal("expected second use to fail")
	}

	a, _ := f.accounts.GetByID(ctx, "acc-1")
	if len(a.MFA.RecoveryCodes) != 1 {
		t.Fatalf("expected one remaining code, got %d", len(a.MFA.RecoveryCodes))
	}
}

func TestNewServiceRequiresCodeKey(t *testing.T) {
	if _, err := NewService(kv.NewMemoryStore(time.Minute), account.NewMemoryStore(), password.NewBcrypt(4), DefaultConfig()); !errors.Is(err, secret.ErrShortKey) {
		t.Fatalf("expected ErrShortKey, got %v", err)
	}
}

// racingConsumer spends other right before each consume, as a concurrent
// request would between the account load and the write.
type racingConsumer struct {
	*account.MemoryStore
	other string
}

func (s racingConsumer) ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (bool, int, error) {
	if _, _, err := s.MemoryStore.ConsumeRecoveryCode(ctx, id, s.other); err != nil {
		return false, 0, err
	}
	return s.MemoryStore.ConsumeRecoveryCode(ctx, id, codeHash)
}

func TestRecoveryCodeLogReportsStoredRemaining(t *testing.T) {
	f := newFixture(t)
	f.enable(t, "ABCDE-FGHJK", "LMNPQ-RSTUV", "WXYZ2-34567")
	core, logs := observer.New(zap.InfoLevel)
	store := racingConsumer{MemoryStore: f.accounts, other: f.codes.Hash("acc-1", "WXYZ2-34567")}
	svc := f.service(t, store, zap.New(core))

	if ok, err := svc.ConsumeRecoveryCode(context.Background(), "acc-1", "ABCDE-FGHJK"); err != nil || !ok {
		t.Fatalf("expected code to be accepted, got %v, %v", ok, err)
	}

	entries := logs.FilterMessage("recovery code consumed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one consume entry, got %+v", logs.All())
	}
	if got := entries[0].ContextMap()["remaining"]; got != int64(1) {
		t.Fatalf("expected remaining=1, got %v", got)
	}
}

type failingSaves struct {
	*account.MemoryStore
	err error
}

func (s failingSaves) Save(context.Context, *account.Account) error {
	return s.err
}

func TestConfirmSetupKeepsPendingSecretWhenSaveFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup, err := f.svc.BeginSetup(ctx, "acc-1")
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}

	broken := f.service(t, failingSaves{MemoryStore: f.accounts, err: errors.New("db down")}, nil)
	if _, err := broken.ConfirmSetup(ctx, "acc-1", f.code(t, setup.Secret, f.now)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !f.mr.Exists("as:mfa:pending:acc-1") {
		t.Fatal("expected pending setup to survive a failed save")
	}

	// The user can retry with a code from the next step once the store is back.
	f.now = f.now.Add(30 * time.Second)
	if _, err := f.svc.ConfirmSetup(ctx, "acc-1", f.code(t, setup.Secret, f.now)); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if f.mr.Exists("as:mfa:pending:acc-1") {
		t.Fatal("expected pending setup consumed after a successful save")
	}
}

func TestDisableRequiresPassword(t *testing.T) {
	f := newFixture(t)
	f.enable(t, "ABCDE-FGHJK")
	ctx := context.Background()

	if err := f.svc.Disable(ctx, "acc-1", "wrong-password"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if err := f.svc.Disable(ctx, "acc-1", "correct-password"); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	a, _ := f.accounts.GetByID(ctx, "acc-1")
	if a.MFA.Enabled() || a.MFA.Secret != "" || len(a.MFA.RecoveryCodes) != 0 {
		t.Fatalf("expected MFA cleared, got %+v", a.MFA)
	}
}

func TestRegenerateRecoveryCodes(t *testing.T) {
	f := newFixture(t)
	f.enable(t, "ABCDE-FGHJK")
	ctx := context.Background()

	if _, err := f.svc.RegenerateRecoveryCodes(ctx, "acc-1", "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	codes, err := f.svc.RegenerateRecoveryCodes(ctx, "acc-1", f.code(t, testSecret, f.now))
	if err != nil || len(codes) != 10 {
		t.Fatalf("RegenerateRecoveryCodes = %d codes, %v", len(codes), err)
	}
	if ok, _ := f.svc.ConsumeRecoveryCode(ctx, "acc-1", "ABCDE-FGHJK"); ok {
		t.Fatal("expected old recovery code to be replaced")
	}
	if ok, _ := f.svc.ConsumeRecoveryCode(ctx, "acc-1", codes[0]); !ok {
		t.Fatal("expected new recovery code to work")
	}
}

func TestLoginChallengeAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.BeginChallenge(ctx, "acc-1")
	if err != nil {
		t.Fatalf("BeginChallenge failed: %v", err)
	}
	c, err := f.svc.PeekChallenge(ctx, id)
	if err != nil || c.AccountID != "acc-1" {
		t.Fatalf("PeekChallenge = %+v, %v", c, err)
	}

	for i := 1; i < 5; i++ {
		if exhausted, err := f.svc.FailChallenge(ctx, id); err != nil || exhausted {
			t.Fatalf("attempt %d: exhausted=%v err=%v", i, exhausted, err)
		}
	}
	if exhausted, _ := f.svc.FailChallenge(ctx, id); !exhausted {
		t.Fatal("expected fifth failure to exhaust the challenge")
	}
	if _, err := f.svc.PeekChallenge(ctx, id); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestLoginChallengeCompletesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, _ := f.svc.BeginChallenge(ctx, "acc-1")
	if _, err := f.svc.CompleteChallenge(ctx, id); err != nil {
		t.Fatalf("CompleteChallenge failed: %v", err)
	}
	if _, err := f.svc.CompleteChallenge(ctx, id); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected second completion to fail, got %v", err)
	}

	expiring, _ := f.svc.BeginChallenge(ctx, "acc-1")
	f.mr.FastForward(6 * time.Minute)
	if _, err := f.svc.PeekChallenge(ctx, expiring); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected expired challenge, got %v", err)
	}
}
