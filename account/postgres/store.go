// Package postgres implements account.Store on PostgreSQL through pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authsession/account"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const selectColumns = `id::text, email, COALESCE(username_normalized, ''), password_hash,
	password_changed_at, is_active, roles, mfa_state, mfa_secret, recovery_codes,
	token_version, revision, created_at`

// Store is a pgxpool-backed account.Store.
type Store struct {
	pool *pgxpool.Pool
}

// PoolConfig tunes the connection pool. Zero values keep pgxpool defaults.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Open parses dsn, builds a pool and pings it.
func Open(ctx context.Context, dsn string, cfg PoolConfig) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", account.ErrUnavailable, err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close closes the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return account.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return account.ErrExists
	}
	return fmt.Errorf("%w: %v", account.ErrUnavailable, err)
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a     account.Account
		roles []string
		state int16
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.UsernameNormalized, &a.PasswordHash,
		&a.PasswordChangedAt, &a.IsActive, &roles, &state, &a.MFA.Secret, &a.MFA.RecoveryCodes,
		&a.TokenVersion, &a.Revision, &a.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	a.MFA.State = account.MFAState(state)
	a.Roles = make([]account.Role, len(roles))
	for i, r := range roles {
		a.Roles[i] = account.Role(r)
	}
	return &a, nil
}

// parseID turns an account id into the primary key type. Ids that are not
// UUIDs cannot exist in the table.
func parseID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, account.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*account.Account, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM accounts WHERE id = $1`, key))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM accounts WHERE email = $1`, account.NormalizeEmail(email)))
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM accounts WHERE username_normalized = $1`, account.NormalizeUsername(username)))
}

func (s *Store) Create(ctx context.Context, a *account.Account) error {
	key, err := uuid.Parse(a.ID)
	if err != nil {
		return fmt.Errorf("account id %q is not a uuid: %w", a.ID, err)
	}
	a.Email = account.NormalizeEmail(a.Email)
	a.UsernameNormalized = account.NormalizeUsername(a.UsernameNormalized)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.PasswordChangedAt.IsZero() {
		a.PasswordChangedAt = a.CreatedAt
	}

	const q = `INSERT INTO accounts
		(id, email, username_normalized, password_hash, password_changed_at, is_active, roles,
		 mfa_state, mfa_secret, recovery_codes, token_version, revision, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, 1, $12)`
	_, err = s.pool.Exec(ctx, q,
		key, a.Email, a.UsernameNormalized, a.PasswordHash, a.PasswordChangedAt, a.IsActive,
		a.RoleStrings(), int16(a.MFA.State), a.MFA.Secret, recoveryCodes(a), a.TokenVersion, a.CreatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	a.Revision = 1
	return nil
}

func (s *Store) Save(ctx context.Context, a *account.Account) error {
	key, err := parseID(a.ID)
	if err != nil {
		return err
	}
	a.Email = account.NormalizeEmail(a.Email)
	a.UsernameNormalized = account.NormalizeUsername(a.UsernameNormalized)

	const q = `UPDATE accounts SET
		email = $2, username_normalized = NULLIF($3, ''), password_hash = $4,
		password_changed_at = $5, is_active = $6, roles = $7, mfa_state = $8,
		mfa_secret = $9, recovery_codes = $10, revision = revision + 1
		WHERE id = $1 AND revision = $11
		RETURNING revision`
	var rev int64
	err = s.pool.QueryRow(ctx, q,
		key, a.Email, a.UsernameNormalized, a.PasswordHash, a.PasswordChangedAt, a.IsActive,
		a.RoleStrings(), int16(a.MFA.State), a.MFA.Secret, recoveryCodes(a), a.Revision,
	).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, lookupErr := s.GetByID(ctx, a.ID); lookupErr != nil {
			return lookupErr
		}
		return account.ErrConflict
	}
	if err != nil {
		return mapErr(err)
	}
	a.Revision = rev
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) (int64, error) {
	key, err := parseID(id)
	if err != nil {
		return 0, err
	}
	const q = `UPDATE accounts SET password_hash = $2, password_changed_at = $3,
		token_version = token_version + 1, revision = revision + 1
		WHERE id = $1 RETURNING token_version`
	var v int64
	if err := s.pool.QueryRow(ctx, q, key, hash, changedAt).Scan(&v); err != nil {
		return 0, mapErr(err)
	}
	return v, nil
}

func (s *Store) IncrementTokenVersion(ctx context.Context, id string) (int64, error) {
	key, err := parseID(id)
	if err != nil {
		return 0, err
	}
	const q = `UPDATE accounts SET token_version = token_version + 1, revision = revision + 1
		WHERE id = $1 RETURNING token_version`
	var v int64
	if err := s.pool.QueryRow(ctx, q, key).Scan(&v); err != nil {
		return 0, mapErr(err)
	}
	return v, nil
}

func (s *Store) ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (bool, int, error) {
	key, err := parseID(id)
	if err != nil {
		return false, 0, err
	}
	const q = `UPDATE accounts SET recovery_codes = array_remove(recovery_codes, $2),
		revision = revision + 1
		WHERE id = $1 AND $2 = ANY(recovery_codes)
		RETURNING cardinality(recovery_codes)`
	var remaining int32
	err = s.pool.QueryRow(ctx, q, key, codeHash).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, mapErr(err)
	}
	return true, int(remaining), nil
}

func recoveryCodes(a *account.Account) []string {
	if a.MFA.RecoveryCodes == nil {
		return []string{}
	}
	return a.MFA.RecoveryCodes
}

var _ account.Store = (*Store)(nil)
