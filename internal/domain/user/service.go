package user

import (
	"context"
	"fmt"
	"log"
	"time"
)

// TokenRefresher exchanges a refresh token for a new ledger credential.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// Service contains the token lifecycle logic for board users
type Service struct {
	repo      Repository
	refresher TokenRefresher
	now       func() time.Time
}

// NewService creates a new user service
func NewService(repo Repository, refresher TokenRefresher) *Service {
	return &Service{repo: repo, refresher: refresher, now: time.Now}
}

// SetTokens stores ledger credentials for a board user, creating the row on
// first authorization.
func (s *Service) SetTokens(ctx context.Context, params SetTokensParams) (*User, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Upsert(ctx, params)
}

// ListExpiring returns users whose tokens expire within window.
func (s *Service) ListExpiring(ctx context.Context, window time.Duration) ([]*User, error) {
	return s.repo.ListExpiring(ctx, s.now().Add(window))
}

// Refresh renews one user's ledger token and persists the result.
func (s *Service) Refresh(ctx context.Context, u *User) error {
	if u.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	token, err := s.refresher.Refresh(ctx, u.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh token for user %s/%s: %w", u.AccountID, u.UserID, err)
	}

	if err := s.repo.UpdateTokens(ctx, u.ID, *token); err != nil {
		return fmt.Errorf("failed to store refreshed token: %w", err)
	}

	log.Printf("Refreshed ledger token for user %s (account %s), expires %s", u.UserID, u.AccountID, token.ExpiresAt.Format(time.RFC3339))
	return nil
}

// RefreshExpiring refreshes every user expiring within window. A failure for
// one user is logged and does not stop the others.
func (s *Service) RefreshExpiring(ctx context.Context, window time.Duration) (refreshed, failed int, err error) {
	users, err := s.ListExpiring(ctx, window)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list expiring users: %w", err)
	}

	for _, u := range users {
		if err := s.Refresh(ctx, u); err != nil {
			log.Printf("Token refresh failed: %v", err)
			failed++
			continue
		}
		refreshed++
	}
	return refreshed, failed, nil
}
