package mapping

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidKind  = errors.New("invalid link kind")
	ErrLinkNotFound = errors.New("link not found")
	ErrTaskNotFound = errors.New("task not found")
)

// Kind names one family of board item to ledger entity links.
type Kind string

const (
	KindClient    Kind = "client"
	KindProject   Kind = "project"
	KindExpense   Kind = "expense"
	KindTimesheet Kind = "timesheet"
)

var kinds = []Kind{KindClient, KindProject, KindExpense, KindTimesheet}

func Kinds() []Kind { return kinds }

func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Link maps one board item to one ledger entity within one account.
type Link struct {
	ID        string    `db:"id"`
	Kind      Kind      `db:"-"`
	AccountID string    `db:"account_id"`
	BoardID   string    `db:"board_id"`
	ItemID    string    `db:"item_id"`
	LedgerID  string    `db:"ledger_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type CreateLinkParams struct {
	AccountID string
	BoardID   string
	ItemID    string
	LedgerID  string
}

func (p *CreateLinkParams) Validate() error {
	if p.AccountID == "" {
		return errors.New("account id is required")
	}
	if p.ItemID == "" {
		return errors.New("item id is required")
	}
	if p.LedgerID == "" {
		return errors.New("ledger id is required")
	}
	return nil
}

// Task is a ledger task cached per account.
type Task struct {
	ID        string    `db:"id"`
	AccountID string    `db:"account_id"`
	TaskID    string    `db:"task_id"`
	TaskName  string    `db:"task_name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TaskAssignment ties a project link to a cached task and the board item
// representing the task. LedgerTaskID and TaskName are joined from the task
// row on reads.
type TaskAssignment struct {
	ID               string `db:"id"`
	ProjectItemID    string `db:"project_item_id"`
	TaskRowID        string `db:"task_row_id"`
	AccountID        string `db:"account_id"`
	BoardID          string `db:"board_id"`
	ItemID           string `db:"item_id"`
	TaskAssignmentID string `db:"task_assignment_id"`
	LedgerTaskID     string `db:"ledger_task_id"`
	LedgerProjectID  string `db:"ledger_project_id"`
	TaskName         string `db:"task_name"`
}

// Key identifies the board item behind the assignment.
func (a *TaskAssignment) Key() string {
	return ItemKey(a.BoardID, a.ItemID)
}

func ItemKey(boardID, itemID string) string {
	return boardID + ":" + itemID
}

type CreateTaskAssignmentParams struct {
	ProjectItemID    string
	TaskRowID        string
	AccountID        string
	BoardID          string
	ItemID           string
	TaskAssignmentID string
}

// UserAssignment ties a project link to a ledger user.
type UserAssignment struct {
	ID               string    `db:"id"`
	ProjectItemID    string    `db:"project_item_id"`
	LedgerUserID     string    `db:"ledger_user_id"`
	UserAssignmentID string    `db:"user_assignment_id"`
	CreatedAt        time.Time `db:"created_at"`
}
