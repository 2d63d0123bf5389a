package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"harvestsync/internal/domain/user"
	"harvestsync/internal/infrastructure/crypto"
)

const userColumns = `id, user_id, account_id, access_token, COALESCE(refresh_token, '') AS refresh_token, expires_at, created_at, updated_at`

type UserRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

var _ user.Repository = (*UserRepository)(nil)

func NewUserRepository(db *DB, encryptor *crypto.Encryptor) *UserRepository {
	return &UserRepository{db: db, encryptor: encryptor}
}

// decryptTokens replaces the stored ciphertexts with plaintext.
func (r *UserRepository) decryptTokens(u *user.User) error {
	access, err := r.encryptor.Decrypt(u.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := r.encryptor.Decrypt(u.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	u.AccessToken, u.RefreshToken = access, refresh
	return nil
}

func (r *UserRepository) encryptTokens(access, refresh string) (string, string, error) {
	encAccess, err := r.encryptor.Encrypt(access)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := r.encryptor.Encrypt(refresh)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return encAccess, encRefresh, nil
}

func (r *UserRepository) GetByBoardUser(ctx context.Context, accountID, userID string) (*user.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE account_id = $1 AND user_id = $2 AND deleted_at IS NULL
	`

	var u user.User
	err := r.db.GetContext(ctx, &u, query, accountID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := r.decryptTokens(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) ListExpiring(ctx context.Context, before time.Time) ([]*user.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE deleted_at IS NULL
		  AND refresh_token IS NOT NULL AND refresh_token <> ''
		  AND expires_at < $1
		ORDER BY expires_at ASC
	`

	var users []*user.User
	if err := r.db.SelectContext(ctx, &users, query, before); err != nil {
		return nil, fmt.Errorf("failed to list expiring users: %w", err)
	}

	for _, u := range users {
		if err := r.decryptTokens(u); err != nil {
			return nil, fmt.Errorf("user %s: %w", u.ID, err)
		}
	}
	return users, nil
}

// Upsert stores tokens for the (user, account) pair, creating the row when
// it does not exist.
func (r *UserRepository) Upsert(ctx context.Context, params user.SetTokensParams) (*user.User, error) {
	access, refresh, err := r.encryptTokens(params.AccessToken, params.RefreshToken)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (id, user_id, account_id, access_token, refresh_token, expires_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (user_id, account_id) WHERE deleted_at IS NULL
		DO UPDATE SET access_token = EXCLUDED.access_token,
		              refresh_token = EXCLUDED.refresh_token,
		              expires_at = EXCLUDED.expires_at,
		              updated_at = CURRENT_TIMESTAMP
		RETURNING ` + userColumns

	var u user.User
	err = r.db.GetContext(ctx, &u, query,
		uuid.NewString(), params.UserID, params.AccountID, access, refresh, params.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	if err := r.decryptTokens(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) UpdateTokens(ctx context.Context, id string, token user.Token) error {
	access, refresh, err := r.encryptTokens(token.AccessToken, token.RefreshToken)
	if err != nil {
		return err
	}

	query := `
		UPDATE users
		SET access_token = $1,
		    refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
		    expires_at = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, access, refresh, token.ExpiresAt, id)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return user.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return user.ErrUserNotFound
	}
	return nil
}
