package subscription

import (
	"context"
	"fmt"
	"log"
)

// Service manages webhook subscriptions
type Service struct {
	repo    Repository
	revoked *Revocations
}

func NewService(repo Repository, revoked *Revocations) *Service {
	return &Service{repo: repo, revoked: revoked}
}

// Subscribe registers a webhook. Duplicate registrations are kept; each one
// receives deliveries.
func (s *Service) Subscribe(ctx context.Context, params CreateParams) (*Subscription, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	log.Printf("Subscription %s created: account=%s event=%s", sub.ID, sub.AccountID, sub.WebhookEvent)
	return sub, nil
}

// Unsubscribe hard-deletes the subscription and revokes it locally so a
// cycle already in flight stops delivering to it.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if s.revoked != nil {
		s.revoked.Revoke(id)
	}

	log.Printf("Subscription %s deleted", id)
	return nil
}

func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]*Subscription, error) {
	return s.repo.ListByAccount(ctx, accountID)
}

// ListTargets loads the deliverable subscriptions of one event family.
func (s *Service) ListTargets(ctx context.Context, family Family) ([]*Target, error) {
	events := family.Events()
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	targets, err := s.repo.ListTargets(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for %s: %w", family, err)
	}
	return targets, nil
}

func (s *Service) Revocations() *Revocations {
	return s.revoked
}
