package user

import (
	"context"
	"time"
)

// Repository defines the interface for user data access
type Repository interface {
	GetByBoardUser(ctx context.Context, accountID, userID string) (*User, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*User, error)
	Upsert(ctx context.Context, params SetTokensParams) (*User, error)
	UpdateTokens(ctx context.Context, id string, token Token) error
	Delete(ctx context.Context, id string) error
}
