package subscription

import "context"

// Repository defines the interface for subscription data access
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Subscription, error)
	Delete(ctx context.Context, id string) error
	ListByAccount(ctx context.Context, accountID string) ([]*Subscription, error)
	// ListTargets returns subscriptions for the given events whose owner is
	// still active, with the owner's ledger token.
	ListTargets(ctx context.Context, events []EventType) ([]*Target, error)
}
