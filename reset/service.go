package reset

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/internal/secret"
	"github.com/MrEthical07/authsession/kv"
	"github.com/MrEthical07/authsession/notify"
	"github.com/MrEthical07/authsession/password"
	"go.uber.org/zap"
)

var (
	// ErrInvalidOrExpired covers unknown accounts, wrong, used and expired codes.
	ErrInvalidOrExpired = errors.New("reset: code invalid or expired")
	// ErrUnavailable is returned when a backing store cannot be reached.
	ErrUnavailable = errors.New("reset: store unavailable")
	// ErrRateLimited is returned when an email asked for too many codes
	// within RequestWindow. It is returned for unknown emails too.
	ErrRateLimited = errors.New("reset: too many requests")
)

// unknownOwner salts the hash computed for emails without an account.
const unknownOwner = "\x00unknown"

// Config holds code policy.
type Config struct {
	CodeDigits  int
	CodeTTL     time.Duration
	MaxAttempts int

	// RequestLimit caps codes issued per email within RequestWindow.
	RequestLimit  int
	RequestWindow time.Duration

	// RequestReset takes a random duration in [MinResponse, MaxResponse]
	// whatever the outcome.
	MinResponse time.Duration
	MaxResponse time.Duration

	// CodeKey keys the code digests. At least secret.MinKeyLength bytes.
	CodeKey []byte

	Prefix string
	Now    func() time.Time
	Logger *zap.Logger
}

// DefaultConfig returns 6-digit codes valid for 5 minutes and 5 attempts,
// with at most 3 requests per email per hour. CodeKey has no default.
func DefaultConfig() Config {
	return Config{
		CodeDigits:    6,
		CodeTTL:       5 * time.Minute,
		MaxAttempts:   5,
		RequestLimit:  3,
		RequestWindow: time.Hour,
		MinResponse:   20 * time.Millisecond,
		MaxResponse:   40 * time.Millisecond,
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	KV       kv.Store
	Accounts account.Store
	Hasher   password.Hasher
	Policy   password.Policy
	Sender   notify.Sender
}

// Service implements the password reset flow.
type Service struct {
	deps  Deps
	cfg   Config
	codes *secret.CodeHasher
	log   *zap.Logger
}

// NewService returns a Service with defaults applied to zero fields.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.KV == nil || deps.Accounts == nil || deps.Hasher == nil || deps.Sender == nil {
		return nil, errors.New("reset: kv, accounts, hasher and sender are required")
	}
	def := DefaultConfig()
	if cfg.CodeDigits == 0 {
		cfg.CodeDigits = def.CodeDigits
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = def.CodeTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = def.RequestLimit
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = def.RequestWindow
	}
	if cfg.MinResponse == 0 && cfg.MaxResponse == 0 {
		cfg.MinResponse, cfg.MaxResponse = def.MinResponse, def.MaxResponse
	}
	if cfg.MaxResponse < cfg.MinResponse {
		return nil, errors.New("reset: MaxResponse must not be below MinResponse")
	}
	codes, err := secret.NewCodeHasher(cfg.CodeKey)
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
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
	return &Service{deps: deps, cfg: cfg, codes: codes, log: cfg.Logger.Named("reset")}, nil
}

func (s *Service) codeKey(id string) string {
	return kv.Key(s.cfg.Prefix, "otc", string(notify.PurposePasswordReset), id)
}

func (s *Service) attemptsKey(id string) string {
	return kv.Key(s.cfg.Prefix, "otca", string(notify.PurposePasswordReset), id)
}

// requestsKey is derived from the email, not the account, so unknown emails
// are limited the same way. The email itself never appears in a key.
func (s *Service) requestsKey(email string) string {
	return kv.Key(s.cfg.Prefix, "otcr", string(notify.PurposePasswordReset), s.codes.Hash(unknownOwner, email))
}

// RequestReset issues a code for email. It returns nil whether or not the
// email belongs to an account; store and delivery failures are logged. Past
// RequestLimit within RequestWindow it returns ErrRateLimited for any email.
// Delivery goes through the Sender, which should not block on the transport;
// see notify.Dispatcher.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	defer s.pad(ctx, time.Now())

	email = account.NormalizeEmail(email)

	n, err := s.deps.KV.Incr(ctx, s.requestsKey(email), s.cfg.RequestWindow)
	if err != nil {
		s.log.Warn("reset request not counted", zap.Error(err))
		return nil
	}
	if n > int64(s.cfg.RequestLimit) {
		return ErrRateLimited
	}

	code, err := secret.NewOTP(s.cfg.CodeDigits)
	if err != nil {
		return err
	}

	a, lookupErr := s.deps.Accounts.FindByEmail(ctx, email)
	owner := unknownOwner
	if lookupErr == nil && a.IsActive {
		owner = a.ID
	}
	hash := s.codes.Hash(owner, code)

	switch {
	case errors.Is(lookupErr, account.ErrNotFound):
		return nil
	case lookupErr != nil:
		s.log.Warn("reset lookup failed", zap.Error(lookupErr))
		return nil
	case !a.IsActive:
		return nil
	}

	// The attempts counter is left alone: a fresh code does not reset the
	// wrong-guess budget.
	if err := s.deps.KV.Set(ctx, s.codeKey(a.ID), []byte(hash), s.cfg.CodeTTL); err != nil {
		s.log.Warn("reset code not stored", zap.String("account_id", a.ID), zap.Error(err))
		return nil
	}

	msg := notify.Code{Purpose: notify.PurposePasswordReset, Value: code, TTL: s.cfg.CodeTTL}
	if err := s.deps.Sender.Send(ctx, a.Email, msg); err != nil {
		s.log.Warn("reset code delivery failed", zap.String("account_id", a.ID), zap.Error(err))
	}
	return nil
}

// pad sleeps until a random point in [MinResponse, MaxResponse] after start.
func (s *Service) pad(ctx context.Context, start time.Time) {
	if s.cfg.MaxResponse <= 0 {
		return
	}
	target := s.cfg.MinResponse
	if span := s.cfg.MaxResponse - s.cfg.MinResponse; span > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
		if err == nil {
			target += time.Duration(n.Int64())
		}
	}
	wait := target - time.Since(start)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// VerifyCode reports whether code is the live reset code for email without
// consuming it. Wrong codes count toward MaxAttempts; reaching it deletes the
// code.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (bool, error) {
	a, stored, err := s.load(ctx, email)
	if errors.Is(err, ErrInvalidOrExpired) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if s.codes.Matches(a.ID, strings.TrimSpace(code), stored) {
		return true, nil
	}
	if err := s.countFailure(ctx, a.ID); err != nil {
		return false, err
	}
	return false, nil
}

// ResetPassword consumes code and sets newPassword. On success the account's
// token version is bumped, so all previously issued tokens stop validating.
// Policy violations are returned as is and leave the code in place.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	a, stored, err := s.load(ctx, email)
	if err != nil {
		return err
	}
	if !s.codes.Matches(a.ID, strings.TrimSpace(code), stored) {
		if err := s.countFailure(ctx, a.ID); err != nil {
			return err
		}
		return ErrInvalidOrExpired
	}

	if err := s.deps.Policy.Check(newPassword, a.Email); err != nil {
		return err
	}
	hash, err := s.deps.Hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", password.ErrPolicy, err)
	}

	consumed, err := s.deps.KV.DeleteIfEquals(ctx, s.codeKey(a.ID), stored)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !consumed {
		return ErrInvalidOrExpired
	}
	_ = s.deps.KV.Del(ctx, s.attemptsKey(a.ID))

	if _, err := s.deps.Accounts.UpdatePassword(ctx, a.ID, hash, s.cfg.Now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Info("password reset", zap.String("account_id", a.ID))
	return nil
}

// AccountID resolves the account behind email for callers that need to act on
// it after a successful reset.
func (s *Service) AccountID(ctx context.Context, email string) (string, error) {
	a, err := s.deps.Accounts.FindByEmail(ctx, account.NormalizeEmail(email))
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *Service) load(ctx context.Context, email string) (*account.Account, []byte, error) {
	a, err := s.deps.Accounts.FindByEmail(ctx, account.NormalizeEmail(email))
	if errors.Is(err, account.ErrNotFound) {
		return nil, nil, ErrInvalidOrExpired
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !a.IsActive {
		return nil, nil, ErrInvalidOrExpired
	}

	stored, err := s.deps.KV.Get(ctx, s.codeKey(a.ID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, ErrInvalidOrExpired
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	exhausted, err := s.exhausted(ctx, a.ID)
	if err != nil {
		return nil, nil, err
	}
	if exhausted {
		return nil, nil, ErrInvalidOrExpired
	}
	return a, stored, nil
}

func (s *Service) exhausted(ctx context.Context, accountID string) (bool, error) {
	raw, err := s.deps.KV.Get(ctx, s.attemptsKey(accountID))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n >= int64(s.cfg.MaxAttempts), nil
}

func (s *Service) countFailure(ctx context.Context, accountID string) error {
	n, err := s.deps.KV.Incr(ctx, s.attemptsKey(accountID), s.cfg.CodeTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n >= int64(s.cfg.MaxAttempts) {
		if err := s.deps.KV.Del(ctx, s.codeKey(accountID)); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}
