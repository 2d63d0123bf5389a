package postgres

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/infrastructure/crypto"
)

const subscriptionColumns = `
	s.id, s.user_id, s.account_id, s.webhook_url,
	COALESCE(s.subscription_id, '') AS subscription_id,
	s.webhook_event,
	COALESCE(s.context::text, '') AS context,
	COALESCE(s.recipe_id, '') AS recipe_id,
	COALESCE(s.integration_id, '') AS integration_id,
	s.created_at
`

type SubscriptionRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

var _ subscription.Repository = (*SubscriptionRepository)(nil)

func NewSubscriptionRepository(db *DB, encryptor *crypto.Encryptor) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, encryptor: encryptor}
}

func (r *SubscriptionRepository) Create(ctx context.Context, params subscription.CreateParams) (*subscription.Subscription, error) {
	query := `
		INSERT INTO monday_subscriptions AS s
			(id, user_id, account_id, webhook_url, subscription_id, webhook_event, context, recipe_id, integration_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7::jsonb, NULLIF($8, ''), NULLIF($9, ''))
		RETURNING ` + subscriptionColumns

	filter := string(params.Context)
	if filter == "" {
		filter = "null"
	}

	var s subscription.Subscription
	err := r.db.GetContext(ctx, &s, query,
		uuid.NewString(), params.UserID, params.AccountID, params.WebhookURL, params.SubscriptionID,
		string(params.Event), filter, params.RecipeID, params.IntegrationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return &s, nil
}

// Delete removes the row. The table trigger raises subscription_deleted so
// running cycles can drop the target.
func (r *SubscriptionRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid subscription id %q: %w", id, err)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM monday_subscriptions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) ListByAccount(ctx context.Context, accountID string) ([]*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM monday_subscriptions s
		WHERE s.account_id = $1
		ORDER BY s.created_at ASC
	`

	var subs []*subscription.Subscription
	if err := r.db.SelectContext(ctx, &subs, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (r *SubscriptionRepository) ListTargets(ctx context.Context, events []subscription.EventType) ([]*subscription.Target, error) {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = string(ev)
	}

	query := `
		SELECT ` + subscriptionColumns + `,
		       u.id AS owner_id,
		       u.access_token
		FROM monday_subscriptions s
		JOIN users u ON u.user_id = s.user_id AND u.account_id = s.account_id AND u.deleted_at IS NULL
		WHERE s.webhook_event = ANY($1)
		ORDER BY u.id, s.created_at ASC
	`

	var targets []*subscription.Target
	if err := r.db.SelectContext(ctx, &targets, query, pq.Array(names)); err != nil {
		return nil, fmt.Errorf("failed to list subscription targets: %w", err)
	}

	return decryptTargets(targets, r.encryptor.Decrypt), nil
}

// decryptTargets replaces each owner token with plaintext. A target whose
// token cannot be decrypted is logged and left out so the other owners
// still get their cycle.
func decryptTargets(targets []*subscription.Target, decrypt func(string) (string, error)) []*subscription.Target {
	out := targets[:0]
	for _, t := range targets {
		token, err := decrypt(t.AccessToken)
		if err != nil {
			log.Printf("Account %s: skipping subscription %s, failed to decrypt owner token: %v", t.AccountID, t.ID, err)
			continue
		}
		t.AccessToken = token
		out = append(out, t)
	}
	return out
}
