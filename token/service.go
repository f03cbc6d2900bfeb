package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/MrEthical07/authsession/jwt"
	"github.com/MrEthical07/authsession/kv"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalid covers every malformed, expired, revoked or stale token.
	ErrInvalid = errors.New("token: invalid")
	// ErrFamilyCompromised is returned once a refresh family saw a reused token.
	ErrFamilyCompromised = errors.New("token: refresh family compromised")
	// ErrUnavailable is returned when a backing store cannot be reached.
	ErrUnavailable = errors.New("token: store unavailable")
)

const familyRevokedValue = "revoked"

// Pair is the result of a successful issue or rotation.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	FamilyID         string
}

// Record is the server-side state of one outstanding refresh token.
type Record struct {
	AccountID    string `json:"accountId"`
	TokenVersion int64  `json:"tokenVersion"`
	FamilyID     string `json:"familyId"`
}

// Config wires a Service.
type Config struct {
	Signer   *jwt.Manager
	KV       kv.Store
	Accounts account.Store
	// Prefix namespaces every key. Defaults to "as".
	Prefix string
	Logger *zap.Logger
	Now    func() time.Time
}

// Service implements the token lifecycle. It holds no per-request state.
type Service struct {
	signer   *jwt.Manager
	kv       kv.Store
	accounts account.Store
	prefix   string
	log      *zap.Logger
	now      func() time.Time
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Signer == nil {
		return nil, errors.New("token: signer is required")
	}
	if cfg.KV == nil {
		return nil, errors.New("token: kv store is required")
	}
	if cfg.Accounts == nil {
		return nil, errors.New("token: account store is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "as"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		signer:   cfg.Signer,
		kv:       cfg.KV,
		accounts: cfg.Accounts,
		prefix:   cfg.Prefix,
		log:      cfg.Logger.Named("token"),
		now:      cfg.Now,
	}, nil
}

func (s *Service) refreshKey(jti string) string { return kv.Key(s.prefix, "refresh", jti) }
func (s *Service) familyKey(fam string) string  { return kv.Key(s.prefix, "family", fam) }
func (s *Service) revokedKey(jti string) string { return kv.Key(s.prefix, "revoked", jti) }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// Issue starts a new refresh family for a and returns the first pair.
func (s *Service) Issue(ctx context.Context, a *account.Account) (Pair, error) {
	if a == nil || a.ID == "" {
		return Pair{}, ErrInvalid
	}
	return s.issueInFamily(ctx, a, uuid.NewString())
}

func (s *Service) issueInFamily(ctx context.Context, a *account.Account, family string) (Pair, error) {
	access, accessClaims, err := s.signer.CreateAccess(jwt.AccessInput{
		Subject:      a.ID,
		JTI:          uuid.NewString(),
		TokenVersion: a.TokenVersion,
		Roles:        a.RoleStrings(),
	})
	if err != nil {
		return Pair{}, err
	}

	refreshJTI := uuid.NewString()
	refresh, refreshClaims, err := s.signer.CreateRefresh(a.ID, refreshJTI, family)
	if err != nil {
		return Pair{}, err
	}

	rec, err := json.Marshal(Record{AccountID: a.ID, TokenVersion: a.TokenVersion, FamilyID: family})
	if err != nil {
		return Pair{}, err
	}
	if err := s.kv.Set(ctx, s.refreshKey(refreshJTI), rec, s.signer.RefreshTTL()); err != nil {
		return Pair{}, unavailable("store refresh record", err)
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		FamilyID:         family,
	}, nil
}

// Rotate exchanges a refresh token for a new pair in the same family.
//
// The presented token's record is consumed atomically. When it is already
// gone the family is marked revoked and ErrFamilyCompromised is returned, for
// this call and for every later rotation of any token in the family.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (Pair, error) {
	claims, err := s.signer.ParseRefresh(refreshToken)
	if err != nil {
		return Pair{}, ErrInvalid
	}

	revoked, err := s.kv.Exists(ctx, s.familyKey(claims.Family))
	if err != nil {
		return Pair{}, unavailable("check family", err)
	}
	if revoked {
		return Pair{}, ErrFamilyCompromised
	}

	raw, err := s.kv.GetDel(ctx, s.refreshKey(claims.ID))
	if errors.Is(err, kv.ErrNotFound) {
		s.revokeFamily(ctx, claims.Subject, claims.Family)
		return Pair{}, ErrFamilyCompromised
	}
	if err != nil {
		return Pair{}, unavailable("consume refresh record", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Pair{}, ErrInvalid
	}
	if rec.AccountID != claims.Subject || rec.FamilyID != claims.Family {
		return Pair{}, ErrInvalid
	}

	a, err := s.liveAccount(ctx, rec.AccountID, rec.TokenVersion)
	if err != nil {
		return Pair{}, err
	}
	return s.issueInFamily(ctx, a, claims.Family)
}

func (s *Service) revokeFamily(ctx context.Context, accountID, family string) {
	err := s.kv.Set(ctx, s.familyKey(family), []byte(familyRevokedValue), s.signer.RefreshTTL())
	if err != nil {
		s.log.Warn("family revocation marker not written",
			zap.String("account_id", accountID),
			zap.String("family_id", family),
			zap.Error(err),
		)
		return
	}
	s.log.Warn("refresh token reuse detected, family revoked",
		zap.String("account_id", accountID),
		zap.String("family_id", family),
	)
}

// ValidateAccess verifies an access token and checks it against the
// revocation list and the account's current token version.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (*jwt.AccessClaims, error) {
	claims, err := s.signer.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrInvalid
	}

	revoked, err := s.kv.Exists(ctx, s.revokedKey(claims.ID))
	if err != nil {
		return nil, unavailable("check revocation", err)
	}
	if revoked {
		return nil, ErrInvalid
	}

	if _, err := s.liveAccount(ctx, claims.Subject, claims.TokenVersion); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) liveAccount(ctx context.Context, id string, tokenVersion int64) (*account.Account, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, account.ErrNotFound) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, unavailable("load account", err)
	}
	if !a.IsActive || a.TokenVersion != tokenVersion {
		return nil, ErrInvalid
	}
	return a, nil
}

// RevokeRefresh deletes the record behind refreshToken. Unparseable or
// expired tokens are a no-op.
func (s *Service) RevokeRefresh(ctx context.Context, refreshToken string) error {
	claims, err := s.signer.ParseRefresh(refreshToken)
	if err != nil {
		return nil
	}
	if err := s.kv.Del(ctx, s.refreshKey(claims.ID)); err != nil {
		return unavailable("delete refresh record", err)
	}
	return nil
}

// RevokeAccess adds accessToken to the revocation list until it expires.
// Unparseable or expired tokens are a no-op.
func (s *Service) RevokeAccess(ctx context.Context, accessToken string) error {
	claims, err := s.signer.ParseAccess(accessToken)
	if err != nil {
		return nil
	}
	return s.RevokeAccessID(ctx, claims.ID, claims.ExpiresAt.Time)
}

// RevokeAccessID revokes an access token by jti for its remaining lifetime.
func (s *Service) RevokeAccessID(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.kv.Set(ctx, s.revokedKey(jti), []byte("1"), ttl); err != nil {
		return unavailable("write revocation", err)
	}
	return nil
}

// RevokeAll bumps the account's token version, invalidating every access and
// refresh token issued before the call.
func (s *Service) RevokeAll(ctx context.Context, accountID string) (int64, error) {
	v, err := s.accounts.IncrementTokenVersion(ctx, accountID)
	if errors.Is(err, account.ErrNotFound) {
		return 0, ErrInvalid
	}
	if err != nil {
		return 0, unavailable("increment token version", err)
	}
	return v, nil
}
