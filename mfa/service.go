package mfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/internal/secret"
	"github.com/MrEthical07/authsession/kv"
	"github.com/MrEthical07/authsession/password"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

var (
	ErrAlreadyEnabled  = errors.New("mfa: already enabled")
	ErrNotEnabled      = errors.New("mfa: not enabled")
	ErrNoPendingSetup  = errors.New("mfa: no pending setup")
	ErrInvalidCode     = errors.New("mfa: invalid code")
	ErrInvalidPassword = errors.New("mfa: invalid password")
	ErrUnavailable     = errors.New("mfa: store unavailable")
)

const saveRetries = 3

// Config holds TOTP parameters and lifetimes.
type Config struct {
	Issuer             string
	Period             uint
	Skew               uint
	Digits             otp.Digits
	SecretSize         uint
	PendingTTL         time.Duration
	RecoveryCodes      int
	RecoveryCodeLength int
	ChallengeTTL       time.Duration
	ChallengeAttempts  int
	// CodeKey keys the recovery code digests. At least secret.MinKeyLength bytes.
	CodeKey []byte

	Prefix string
	Now    func() time.Time
	Logger *zap.Logger
}

// DefaultConfig returns RFC 6238 defaults: SHA1, 6 digits, 30 s period, ±1 step.
func DefaultConfig() Config {
	return Config{
		Issuer:             "authsvc",
		Period:             30,
		Skew:               1,
		Digits:             otp.DigitsSix,
		SecretSize:         20,
		PendingTTL:         10 * time.Minute,
		RecoveryCodes:      10,
		RecoveryCodeLength: 10,
		ChallengeTTL:       5 * time.Minute,
		ChallengeAttempts:  5,
	}
}

// Setup is returned by BeginSetup for display to the user.
type Setup struct {
	Secret string
	URI    string
}

// Service implements the MFA lifecycle.
type Service struct {
	kv       kv.Store
	accounts account.Store
	hasher   password.Hasher
	codes    *secret.CodeHasher
	cfg      Config
	log      *zap.Logger
}

// NewService returns a Service with defaults applied to zero fields. CodeKey
// has no default.
func NewService(store kv.Store, accounts account.Store, hasher password.Hasher, cfg Config) (*Service, error) {
	codes, err := secret.NewCodeHasher(cfg.CodeKey)
	if err != nil {
		return nil, fmt.Errorf("mfa: %w", err)
	}

	def := DefaultConfig()
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.Digits == 0 {
		cfg.Digits = def.Digits
	}
	if cfg.SecretSize == 0 {
		cfg.SecretSize = def.SecretSize
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = def.PendingTTL
	}
	if cfg.RecoveryCodes <= 0 {
		cfg.RecoveryCodes = def.RecoveryCodes
	}
	if cfg.RecoveryCodeLength <= 0 {
		cfg.RecoveryCodeLength = def.RecoveryCodeLength
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = def.ChallengeTTL
	}
	if cfg.ChallengeAttempts <= 0 {
		cfg.ChallengeAttempts = def.ChallengeAttempts
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "as"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		kv:       store,
		accounts: accounts,
		hasher:   hasher,
		codes:    codes,
		cfg:      cfg,
		log:      cfg.Logger.Named("mfa"),
	}, nil
}

func (s *Service) pendingKey(id string) string {
	return kv.Key(s.cfg.Prefix, "mfa", "pending", id)
}

func (s *Service) usedKey(id, code string) string {
	return kv.Key(s.cfg.Prefix, "mfa", "used", id, code)
}

func (s *Service) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    s.cfg.Period,
		Skew:      s.cfg.Skew,
		Digits:    s.cfg.Digits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func (s *Service) loadAccount(ctx context.Context, id string) (*account.Account, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return a, nil
}

// BeginSetup generates a fresh secret and parks it as the pending setup,
// replacing any earlier pending secret.
func (s *Service) BeginSetup(ctx context.Context, accountID string) (Setup, error) {
	a, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return Setup{}, err
	}
	if a.MFA.Enabled() {
		return Setup{}, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: a.Email,
		Period:      s.cfg.Period,
		SecretSize:  s.cfg.SecretSize,
		Digits:      s.cfg.Digits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Setup{}, err
	}

	if err := s.kv.Set(ctx, s.pendingKey(accountID), []byte(key.Secret()), s.cfg.PendingTTL); err != nil {
		return Setup{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Setup{Secret: key.Secret(), URI: key.URL()}, nil
}

// ConfirmSetup enables MFA when code matches the pending secret. It returns
// the plaintext recovery codes; only their hashes are stored.
func (s *Service) ConfirmSetup(ctx context.Context, accountID, code string) ([]string, error) {
	raw, err := s.kv.Get(ctx, s.pendingKey(accountID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNoPendingSetup
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	code = strings.TrimSpace(code)
	ok, _ := totp.ValidateCustom(code, string(raw), s.cfg.Now(), s.validateOpts())
	if !ok {
		return nil, ErrInvalidCode
	}

	codes, hashes, err := s.newRecoveryCodes(accountID)
	if err != nil {
		return nil, err
	}

	// Concurrent confirmations race on the save; the loser sees MFA enabled.
	err = s.update(ctx, accountID, func(a *account.Account) error {
		if a.MFA.Enabled() {
			return ErrAlreadyEnabled
		}
		a.MFA = account.MFA{State: account.MFAEnabled, Secret: string(raw), RecoveryCodes: hashes}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The pending secret is consumed only once the account holds it.
	if _, err := s.kv.DeleteIfEquals(ctx, s.pendingKey(accountID), raw); err != nil {
		s.log.Warn("pending setup not cleared", zap.String("account_id", accountID), zap.Error(err))
	}

	// The confirming code must not also complete a login.
	_, _ = s.kv.SetNX(ctx, s.usedKey(accountID, code), []byte("1"), s.replayTTL())
	return codes, nil
}

// Verify checks a TOTP code against the enabled secret. A code accepted once
// is rejected for the rest of its validity window.
func (s *Service) Verify(ctx context.Context, accountID, code string) (bool, error) {
	a, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !a.MFA.Enabled() {
		return false, ErrNotEnabled
	}

	code = strings.TrimSpace(code)
	ok, _ := totp.ValidateCustom(code, a.MFA.Secret, s.cfg.Now(), s.validateOpts())
	if !ok {
		return false, nil
	}

	fresh, err := s.kv.SetNX(ctx, s.usedKey(accountID, code), []byte("1"), s.replayTTL())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fresh, nil
}

func (s *Service) replayTTL() time.Duration {
	return 3 * time.Duration(s.cfg.Period) * time.Second
}

// ConsumeRecoveryCode accepts each recovery code exactly once. Matching is
// exact and case-sensitive.
func (s *Service) ConsumeRecoveryCode(ctx context.Context, accountID, code string) (bool, error) {
	a, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !a.MFA.Enabled() {
		return false, ErrNotEnabled
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}
	ok, remaining, err := s.accounts.ConsumeRecoveryCode(ctx, accountID, s.codes.Hash(accountID, code))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok {
		s.log.Info("recovery code consumed",
			zap.String("account_id", accountID),
			zap.Int("remaining", remaining),
		)
	}
	return ok, nil
}

// Disable turns MFA off after re-verifying the account password.
func (s *Service) Disable(ctx context.Context, accountID, pw string) error {
	a, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !a.MFA.Enabled() {
		return ErrNotEnabled
	}
	ok, err := s.hasher.Verify(pw, a.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidPassword
	}

	err = s.update(ctx, accountID, func(a *account.Account) error {
		a.MFA = account.MFA{State: account.MFADisabled}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.kv.Del(ctx, s.pendingKey(accountID)); err != nil {
		s.log.Warn("pending setup not cleared", zap.String("account_id", accountID), zap.Error(err))
	}
	return nil
}

// RegenerateRecoveryCodes replaces every recovery code after a fresh TOTP check.
func (s *Service) RegenerateRecoveryCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
	ok, err := s.Verify(ctx, accountID, totpCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	codes, hashes, err := s.newRecoveryCodes(accountID)
	if err != nil {
		return nil, err
	}
	err = s.update(ctx, accountID, func(a *account.Account) error {
		if !a.MFA.Enabled() {
			return ErrNotEnabled
		}
		a.MFA.RecoveryCodes = hashes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (s *Service) newRecoveryCodes(accountID string) ([]string, []string, error) {
	codes := make([]string, 0, s.cfg.RecoveryCodes)
	hashes := make([]string, 0, s.cfg.RecoveryCodes)
	for i := 0; i < s.cfg.RecoveryCodes; i++ {
		c, err := secret.NewRecoveryCode(s.cfg.RecoveryCodeLength)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, c)
		hashes = append(hashes, s.codes.Hash(accountID, c))
	}
	return codes, hashes, nil
}

// update applies mutate to a fresh copy and saves it, retrying on revision
// conflicts.
func (s *Service) update(ctx context.Context, accountID string, mutate func(*account.Account) error) error {
	for i := 0; i < saveRetries; i++ {
		a, err := s.loadAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := mutate(a); err != nil {
			return err
		}
		err = s.accounts.Save(ctx, a)
		if errors.Is(err, account.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, account.ErrConflict)
}
