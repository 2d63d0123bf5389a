package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"harvestsync/internal/domain/mapping"
)

var linkTables = map[mapping.Kind]string{
	mapping.KindClient:    "client_items",
	mapping.KindProject:   "project_items",
	mapping.KindExpense:   "expense_items",
	mapping.KindTimesheet: "timesheet_items",
}

const linkColumns = `id, account_id, board_id, item_id, ledger_id, created_at, updated_at`

type LinkRepository struct {
	db *DB
}

var _ mapping.LinkRepository = (*LinkRepository)(nil)

func NewLinkRepository(db *DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func linkTable(kind mapping.Kind) (string, error) {
	table, ok := linkTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", mapping.ErrInvalidKind, kind)
	}
	return table, nil
}

// getLink runs a single-row link query and maps no rows to nil, nil.
func (r *LinkRepository) getLink(ctx context.Context, kind mapping.Kind, query string, args ...any) (*mapping.Link, error) {
	var l mapping.Link
	err := r.db.GetContext(ctx, &l, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Kind = kind
	return &l, nil
}

func (r *LinkRepository) FindLink(ctx context.Context, kind mapping.Kind, accountID, boardID, itemID string) (*mapping.Link, error) {
	table, err := linkTable(kind)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + linkColumns + `
		FROM ` + table + `
		WHERE account_id = $1 AND board_id = $2 AND item_id = $3 AND deleted_at IS NULL
		LIMIT 1
	`

	link, err := r.getLink(ctx, kind, query, accountID, boardID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s link: %w", kind, err)
	}
	return link, nil
}

func (r *LinkRepository) FindLinkByItem(ctx context.Context, kind mapping.Kind, accountID, itemID string) (*mapping.Link, error) {
	table, err := linkTable(kind)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + linkColumns + `
		FROM ` + table + `
		WHERE account_id = $1 AND item_id = $2 AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`

	link, err := r.getLink(ctx, kind, query, accountID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s link by item: %w", kind, err)
	}
	return link, nil
}

func (r *LinkRepository) FindLinkByCounterpart(ctx context.Context, kind mapping.Kind, accountID, boardID, ledgerID string) (*mapping.Link, error) {
	table, err := linkTable(kind)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + linkColumns + `
		FROM ` + table + `
		WHERE account_id = $1 AND ledger_id = $2 AND ($3 = '' OR board_id = $3) AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`

	link, err := r.getLink(ctx, kind, query, accountID, ledgerID, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s link by ledger id: %w", kind, err)
	}
	return link, nil
}

// CreateLink inserts a link. A concurrent insert of the same item is
// resolved by returning the row that won.
func (r *LinkRepository) CreateLink(ctx context.Context, kind mapping.Kind, params mapping.CreateLinkParams) (*mapping.Link, error) {
	table, err := linkTable(kind)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO ` + table + ` (id, account_id, board_id, item_id, ledger_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + linkColumns

	var l mapping.Link
	err = r.db.GetContext(ctx, &l, query,
		uuid.NewString(), params.AccountID, params.BoardID, params.ItemID, params.LedgerID,
	)
	if isUniqueViolation(err) {
		existing, findErr := r.FindLink(ctx, kind, params.AccountID, params.BoardID, params.ItemID)
		if findErr == nil && existing == nil {
			existing, findErr = r.FindLinkByCounterpart(ctx, kind, params.AccountID, params.BoardID, params.LedgerID)
		}
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s link: %w", kind, err)
	}

	l.Kind = kind
	return &l, nil
}

// UpdateLink replaces the board and ledger ids of an existing link in a
// single statement.
func (r *LinkRepository) UpdateLink(ctx context.Context, link *mapping.Link) (*mapping.Link, error) {
	table, err := linkTable(link.Kind)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE ` + table + `
		SET board_id = $1,
		    item_id = $2,
		    ledger_id = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND account_id = $5 AND deleted_at IS NULL
		RETURNING ` + linkColumns

	var l mapping.Link
	err = r.db.GetContext(ctx, &l, query, link.BoardID, link.ItemID, link.LedgerID, link.ID, link.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mapping.ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s link: %w", link.Kind, err)
	}

	l.Kind = link.Kind
	return &l, nil
}

func (r *LinkRepository) DeleteLink(ctx context.Context, link *mapping.Link) error {
	table, err := linkTable(link.Kind)
	if err != nil {
		return err
	}

	query := `
		UPDATE ` + table + `
		SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, link.ID, link.AccountID)
	if err != nil {
		return fmt.Errorf("failed to delete %s link: %w", link.Kind, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return mapping.ErrLinkNotFound
	}
	return nil
}
