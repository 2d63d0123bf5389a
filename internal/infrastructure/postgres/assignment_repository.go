package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"harvestsync/internal/domain/mapping"
)

// taskAssignmentSelect joins the cached task and the owning project link so
// callers see ledger ids directly.
const taskAssignmentSelect = `
	SELECT a.id, a.project_item_id, a.task_row_id, a.account_id, a.board_id, a.item_id,
	       COALESCE(a.task_assignment_id, '') AS task_assignment_id,
	       t.task_id AS ledger_task_id,
	       p.ledger_id AS ledger_project_id,
	       t.task_name
	FROM project_task_assignments a
	JOIN tasks t ON t.id = a.task_row_id
	JOIN project_items p ON p.id = a.project_item_id
`

type AssignmentRepository struct {
	db *DB
}

var _ mapping.AssignmentRepository = (*AssignmentRepository)(nil)

func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) ListTaskAssignments(ctx context.Context, projectItemID string) ([]*mapping.TaskAssignment, error) {
	query := taskAssignmentSelect + `
		WHERE a.project_item_id = $1 AND a.deleted_at IS NULL
		ORDER BY a.created_at ASC
	`

	var assignments []*mapping.TaskAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, projectItemID); err != nil {
		return nil, fmt.Errorf("failed to list task assignments: %w", err)
	}
	return assignments, nil
}

func (r *AssignmentRepository) getTaskAssignment(ctx context.Context, where string, args ...any) (*mapping.TaskAssignment, error) {
	var a mapping.TaskAssignment
	err := r.db.GetContext(ctx, &a, taskAssignmentSelect+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateTaskAssignment links a board item to a task on a project. If the
// item is already assigned on that project the existing row is returned.
func (r *AssignmentRepository) CreateTaskAssignment(ctx context.Context, params mapping.CreateTaskAssignmentParams) (*mapping.TaskAssignment, error) {
	query := `
		INSERT INTO project_task_assignments
			(id, project_item_id, task_row_id, account_id, board_id, item_id, task_assignment_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		uuid.NewString(), params.ProjectItemID, params.TaskRowID, params.AccountID,
		params.BoardID, params.ItemID, params.TaskAssignmentID,
	).Scan(&id)

	if isUniqueViolation(err) {
		existing, findErr := r.getTaskAssignment(ctx,
			`WHERE a.project_item_id = $1 AND a.board_id = $2 AND a.item_id = $3 AND a.deleted_at IS NULL`,
			params.ProjectItemID, params.BoardID, params.ItemID,
		)
		if findErr != nil {
			return nil, fmt.Errorf("failed to re-fetch task assignment: %w", findErr)
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create task assignment: %w", err)
	}

	a, err := r.getTaskAssignment(ctx, `WHERE a.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load task assignment: %w", err)
	}
	return a, nil
}

func (r *AssignmentRepository) UpdateTaskAssignment(ctx context.Context, assignment *mapping.TaskAssignment) error {
	query := `
		UPDATE project_task_assignments
		SET task_row_id = $1,
		    board_id = $2,
		    item_id = $3,
		    task_assignment_id = NULLIF($4, ''),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $5 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		assignment.TaskRowID, assignment.BoardID, assignment.ItemID, assignment.TaskAssignmentID, assignment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task assignment: %w", err)
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

func (r *AssignmentRepository) DeleteTaskAssignment(ctx context.Context, id string) error {
	query := `
		UPDATE project_task_assignments
		SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND deleted_at IS NULL
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete task assignment: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) FindTaskAssignmentsByLedgerIDs(ctx context.Context, accountID, ledgerProjectID, ledgerTaskID string) ([]*mapping.TaskAssignment, error) {
	query := taskAssignmentSelect + `
		WHERE a.account_id = $1 AND p.ledger_id = $2 AND t.task_id = $3
		  AND a.deleted_at IS NULL AND p.deleted_at IS NULL
		ORDER BY a.created_at ASC
	`

	var assignments []*mapping.TaskAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, accountID, ledgerProjectID, ledgerTaskID); err != nil {
		return nil, fmt.Errorf("failed to find task assignments: %w", err)
	}
	return assignments, nil
}

func (r *AssignmentRepository) ListTaskAssignmentsOnBoards(ctx context.Context, accountID, ledgerTaskID string, boardIDs []string) ([]*mapping.TaskAssignment, error) {
	if len(boardIDs) == 0 {
		return nil, nil
	}

	query := taskAssignmentSelect + `
		WHERE a.account_id = $1 AND t.task_id = $2 AND a.board_id = ANY($3)
		  AND a.deleted_at IS NULL AND p.deleted_at IS NULL
		ORDER BY a.created_at ASC
	`

	var assignments []*mapping.TaskAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, accountID, ledgerTaskID, pq.Array(boardIDs)); err != nil {
		return nil, fmt.Errorf("failed to list task assignments on boards: %w", err)
	}
	return assignments, nil
}

func (r *AssignmentRepository) ListUserAssignments(ctx context.Context, projectItemID string) ([]*mapping.UserAssignment, error) {
	query := `
		SELECT id, project_item_id, ledger_user_id, COALESCE(user_assignment_id, '') AS user_assignment_id, created_at
		FROM project_user_assignments
		WHERE project_item_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`

	var assignments []*mapping.UserAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, projectItemID); err != nil {
		return nil, fmt.Errorf("failed to list user assignments: %w", err)
	}
	return assignments, nil
}

func (r *AssignmentRepository) CreateUserAssignment(ctx context.Context, projectItemID, ledgerUserID, userAssignmentID string) (*mapping.UserAssignment, error) {
	query := `
		INSERT INTO project_user_assignments (id, project_item_id, ledger_user_id, user_assignment_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, project_item_id, ledger_user_id, COALESCE(user_assignment_id, '') AS user_assignment_id, created_at
	`

	var a mapping.UserAssignment
	if err := r.db.GetContext(ctx, &a, query, uuid.NewString(), projectItemID, ledgerUserID, userAssignmentID); err != nil {
		return nil, fmt.Errorf("failed to create user assignment: %w", err)
	}
	return &a, nil
}

func (r *AssignmentRepository) DeleteUserAssignment(ctx context.Context, id string) error {
	query := `
		UPDATE project_user_assignments
		SET deleted_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND deleted_at IS NULL
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete user assignment: %w", err)
	}
	return nil
}
