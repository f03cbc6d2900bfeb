package account

import (
	"context"
	"time"
)

// Store is the CredentialStore contract.
//
// Lookups return ErrNotFound for unknown accounts. Create assigns Revision 1.
// Save writes the whole record only when the stored Revision equals
// a.Revision, then bumps a.Revision; otherwise it returns ErrConflict.
type Store interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	Save(ctx context.Context, a *Account) error

	// UpdatePassword replaces the hash, sets PasswordChangedAt and increments
	// TokenVersion in one write. It returns the new TokenVersion.
	UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) (int64, error)
	// IncrementTokenVersion invalidates every token issued so far.
	IncrementTokenVersion(ctx context.Context, id string) (int64, error)
	// ConsumeRecoveryCode removes codeHash if present and reports whether it
	// did, together with the number of codes left after the write.
	ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (ok bool, remaining int, err error)
}
