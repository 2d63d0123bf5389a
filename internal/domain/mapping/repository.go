package mapping

import "context"

// LinkRepository stores board item to ledger entity links. Every method is
// scoped by account. Find methods return nil, nil when nothing matches.
type LinkRepository interface {
	FindLink(ctx context.Context, kind Kind, accountID, boardID, itemID string) (*Link, error)
	// FindLinkByItem searches every board of the account.
	FindLinkByItem(ctx context.Context, kind Kind, accountID, itemID string) (*Link, error)
	// FindLinkByCounterpart matches on the ledger id; an empty boardID matches any board.
	FindLinkByCounterpart(ctx context.Context, kind Kind, accountID, boardID, ledgerID string) (*Link, error)
	CreateLink(ctx context.Context, kind Kind, params CreateLinkParams) (*Link, error)
	UpdateLink(ctx context.Context, link *Link) (*Link, error)
	DeleteLink(ctx context.Context, link *Link) error
}

type TaskRepository interface {
	ListTasks(ctx context.Context, accountID string) ([]*Task, error)
	CreateTask(ctx context.Context, accountID, ledgerTaskID, name string) (*Task, error)
	UpdateTaskName(ctx context.Context, id, name string) error
}

type AssignmentRepository interface {
	ListTaskAssignments(ctx context.Context, projectItemID string) ([]*TaskAssignment, error)
	CreateTaskAssignment(ctx context.Context, params CreateTaskAssignmentParams) (*TaskAssignment, error)
	UpdateTaskAssignment(ctx context.Context, assignment *TaskAssignment) error
	DeleteTaskAssignment(ctx context.Context, id string) error
	FindTaskAssignmentsByLedgerIDs(ctx context.Context, accountID, ledgerProjectID, ledgerTaskID string) ([]*TaskAssignment, error)
	ListTaskAssignmentsOnBoards(ctx context.Context, accountID, ledgerTaskID string, boardIDs []string) ([]*TaskAssignment, error)

	ListUserAssignments(ctx context.Context, projectItemID string) ([]*UserAssignment, error)
	CreateUserAssignment(ctx context.Context, projectItemID, ledgerUserID, userAssignmentID string) (*UserAssignment, error)
	DeleteUserAssignment(ctx context.Context, id string) error
}
