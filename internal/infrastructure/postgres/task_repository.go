package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"harvestsync/internal/domain/mapping"
)

type TaskRepository struct {
	db *DB
}

var _ mapping.TaskRepository = (*TaskRepository)(nil)

func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) ListTasks(ctx context.Context, accountID string) ([]*mapping.Task, error) {
	query := `
		SELECT id, account_id, task_id, task_name, created_at, updated_at
		FROM tasks
		WHERE account_id = $1
		ORDER BY created_at ASC
	`

	var tasks []*mapping.Task
	if err := r.db.SelectContext(ctx, &tasks, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// CreateTask caches a ledger task for the account. The ledger id is unique
// per account, so a second insert refreshes the cached name instead.
func (r *TaskRepository) CreateTask(ctx context.Context, accountID, ledgerTaskID, name string) (*mapping.Task, error) {
	query := `
		INSERT INTO tasks (id, account_id, task_id, task_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, task_id)
		DO UPDATE SET task_name = EXCLUDED.task_name, updated_at = CURRENT_TIMESTAMP
		RETURNING id, account_id, task_id, task_name, created_at, updated_at
	`

	var t mapping.Task
	if err := r.db.GetContext(ctx, &t, query, uuid.NewString(), accountID, ledgerTaskID, name); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return &t, nil
}

func (r *TaskRepository) UpdateTaskName(ctx context.Context, id, name string) error {
	query := `
		UPDATE tasks
		SET task_name = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, name, id)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return mapping.ErrTaskNotFound
	}
	return nil
}
