package account

import (
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account: not found")
	// ErrConflict is returned by Save when the stored revision moved on.
	ErrConflict = errors.New("account: revision conflict")
	// ErrExists is returned by Create when the email or username is taken.
	ErrExists = errors.New("account: already exists")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("account: store unavailable")
)

// Role is an opaque role tag embedded in access tokens.
type Role string

// MFAState is the persisted multi-factor state of an account. The pending
// setup state is ephemeral and lives in the key/value store.
type MFAState uint8

const (
	// MFADisabled means no second factor is required at login.
	MFADisabled MFAState = iota
	// MFAEnabled means a TOTP secret is persisted and required at login.
	MFAEnabled
)

func (s MFAState) String() string {
	switch s {
	case MFAEnabled:
		return "enabled"
	default:
		return "disabled"
	}
}

// MFA holds the second-factor material of an account. RecoveryCodes contains
// hashes only.
type MFA struct {
	State         MFAState
	Secret        string
	RecoveryCodes []string
}

// Enabled reports whether a second factor is required.
func (m MFA) Enabled() bool {
	return m.State == MFAEnabled && m.Secret != ""
}

// Account is the durable identity record.
type Account struct {
	ID                 string
	Email              string
	UsernameNormalized string
	PasswordHash       string
	PasswordChangedAt  time.Time
	IsActive           bool
	Roles              []Role
	MFA                MFA
	TokenVersion       int64
	Revision           int64
	CreatedAt          time.Time
}

// Clone returns a deep copy so callers can mutate slices without touching
// store-owned memory.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Roles = slices.Clone(a.Roles)
	out.MFA.RecoveryCodes = slices.Clone(a.MFA.RecoveryCodes)
	return &out
}

// RoleStrings returns the role tags as plain strings.
func (a *Account) RoleStrings() []string {
	out := make([]string, len(a.Roles))
	for i, r := range a.Roles {
		out[i] = string(r)
	}
	return out
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
