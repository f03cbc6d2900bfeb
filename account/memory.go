package account

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-process [Store].
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*Account
	byEmail    map[string]string
	byUsername map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*Account),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.Email = NormalizeEmail(a.Email)
	a.UsernameNormalized = NormalizeUsername(a.UsernameNormalized)
	if _, ok := s.byID[a.ID]; ok {
		return ErrExists
	}
	if _, ok := s.byEmail[a.Email]; ok {
		return ErrExists
	}
	if a.UsernameNormalized != "" {
		if _, ok := s.byUsername[a.UsernameNormalized]; ok {
			return ErrExists
		}
	}

	a.Revision = 1
	stored := a.Clone()
	s.byID[a.ID] = stored
	s.byEmail[a.Email] = a.ID
	if a.UsernameNormalized != "" {
		s.byUsername[a.UsernameNormalized] = a.ID
	}
	return nil
}

func (s *MemoryStore) Save(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[a.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Revision != a.Revision {
		return ErrConflict
	}

	a.Email = NormalizeEmail(a.Email)
	a.UsernameNormalized = NormalizeUsername(a.UsernameNormalized)
	if a.Email != current.Email {
		if _, taken := s.byEmail[a.Email]; taken {
			return ErrExists
		}
	}
	if a.UsernameNormalized != current.UsernameNormalized && a.UsernameNormalized != "" {
		if _, taken := s.byUsername[a.UsernameNormalized]; taken {
			return ErrExists
		}
	}

	delete(s.byEmail, current.Email)
	delete(s.byUsername, current.UsernameNormalized)
	a.Revision++
	s.byID[a.ID] = a.Clone()
	s.byEmail[a.Email] = a.ID
	if a.UsernameNormalized != "" {
		s.byUsername[a.UsernameNormalized] = a.ID
	}
	return nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id, hash string, changedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	a.PasswordHash = hash
	a.PasswordChangedAt = changedAt
	a.TokenVersion++
	a.Revision++
	return a.TokenVersion, nil
}

func (s *MemoryStore) IncrementTokenVersion(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	a.TokenVersion++
	a.Revision++
	return a.TokenVersion, nil
}

func (s *MemoryStore) ConsumeRecoveryCode(_ context.Context, id, codeHash string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return false, 0, ErrNotFound
	}
	idx := slices.Index(a.MFA.RecoveryCodes, codeHash)
	if idx < 0 {
		return false, len(a.MFA.RecoveryCodes), nil
	}
	a.MFA.RecoveryCodes = slices.Delete(a.MFA.RecoveryCodes, idx, idx+1)
	a.Revision++
	return true, len(a.MFA.RecoveryCodes), nil
}
