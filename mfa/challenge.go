package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrEthical07/authsession/kv"
	"github.com/google/uuid"
)

var (
	// ErrChallengeNotFound covers unknown, expired and exhausted challenges.
	ErrChallengeNotFound = errors.New("mfa: challenge not found")
)

// Challenge is the pending second step of a login.
type Challenge struct {
	AccountID string `json:"accountId"`
}

func (s *Service) challengeKey(id string) string {
	return kv.Key(s.cfg.Prefix, "mfa", "login", id)
}

func (s *Service) challengeAttemptsKey(id string) string {
	return kv.Key(s.cfg.Prefix, "mfa", "login", "attempts", id)
}

// BeginChallenge records that accountID passed password verification and
// returns the pending id the client must present with its code.
func (s *Service) BeginChallenge(ctx context.Context, accountID string) (string, error) {
	id := uuid.NewString()
	raw, err := json.Marshal(Challenge{AccountID: accountID})
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, s.challengeKey(id), raw, s.cfg.ChallengeTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, nil
}

// PeekChallenge returns the challenge without consuming it.
func (s *Service) PeekChallenge(ctx context.Context, id string) (Challenge, error) {
	if id == "" {
		return Challenge{}, ErrChallengeNotFound
	}
	raw, err := s.kv.Get(ctx, s.challengeKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var c Challenge
	if err := json.Unmarshal(raw, &c); err != nil || c.AccountID == "" {
		return Challenge{}, ErrChallengeNotFound
	}
	return c, nil
}

// CompleteChallenge consumes the challenge. Only one caller can complete a
// given challenge.
func (s *Service) CompleteChallenge(ctx context.Context, id string) (Challenge, error) {
	raw, err := s.kv.GetDel(ctx, s.challengeKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Challenge{}, ErrChallengeNotFound
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = s.kv.Del(ctx, s.challengeAttemptsKey(id))

	var c Challenge
	if err := json.Unmarshal(raw, &c); err != nil || c.AccountID == "" {
		return Challenge{}, ErrChallengeNotFound
	}
	return c, nil
}

// FailChallenge counts a wrong code. When the attempt budget is spent the
// challenge is deleted and true is returned.
func (s *Service) FailChallenge(ctx context.Context, id string) (bool, error) {
	n, err := s.kv.Incr(ctx, s.challengeAttemptsKey(id), s.cfg.ChallengeTTL)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n < int64(s.cfg.ChallengeAttempts) {
		return false, nil
	}
	if err := s.kv.Del(ctx, s.challengeKey(id), s.challengeAttemptsKey(id)); err != nil {
		return true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}
