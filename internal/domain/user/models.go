package user

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrNoRefreshToken  = errors.New("user has no refresh token")
	ErrMissingIdentity = errors.New("user id and account id are required")
)

// User is one board user within one board account, holding the ledger
// OAuth2 credentials. Tokens are plaintext here; the repository encrypts
// them at rest.
type User struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	AccountID    string    `db:"account_id"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type SetTokensParams struct {
	UserID       string
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (p *SetTokensParams) Validate() error {
	if p.UserID == "" || p.AccountID == "" {
		return ErrMissingIdentity
	}
	if p.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}

// Token is a freshly issued ledger credential.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
