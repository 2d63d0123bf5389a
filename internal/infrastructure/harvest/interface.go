package harvest

import (
	"context"
	"net/url"
)

// ClientInterface defines the methods required from the Harvest API client.
// List methods take the previous page's cursor; an empty cursor starts at the
// first page.
type ClientInterface interface {
	ListClients(ctx context.Context, token, cursor string) (*Page[Client], error)
	CreateClient(ctx context.Context, token string, payload map[string]any) (*Client, error)
	UpdateClient(ctx context.Context, token, id string, payload map[string]any) (*Client, error)

	ListProjects(ctx context.Context, token, cursor string, filter url.Values) (*Page[Project], error)
	CreateProject(ctx context.Context, token string, payload map[string]any) (*Project, error)
	UpdateProject(ctx context.Context, token, id string, payload map[string]any) (*Project, error)

	ListUsers(ctx context.Context, token, cursor string) (*Page[User], error)
	GetUser(ctx context.Context, token, id string) (*User, error)
	AssignUser(ctx context.Context, token, projectID, userID string) (*UserAssignment, error)
	RemoveUserAssignment(ctx context.Context, token, projectID, assignmentID string) error

	ListTasks(ctx context.Context, token, cursor string) (*Page[Task], error)
	CreateTask(ctx context.Context, token string, payload map[string]any) (*Task, error)
	UpdateTask(ctx context.Context, token, id string, payload map[string]any) (*Task, error)

	ListTaskAssignments(ctx context.Context, token, projectID, cursor string) (*Page[TaskAssignment], error)
	AssignTask(ctx context.Context, token, projectID, taskID string, options map[string]any) (*TaskAssignment, error)
	UpdateTaskAssignment(ctx context.Context, token, projectID, assignmentID string, options map[string]any) (*TaskAssignment, error)
	RemoveTaskAssignment(ctx context.Context, token, projectID, assignmentID string) error

	ListTimeEntries(ctx context.Context, token, cursor string, filter url.Values) (*Page[TimeEntry], error)

	ListExpenses(ctx context.Context, token, cursor string, filter url.Values) (*Page[Expense], error)
	CreateExpense(ctx context.Context, token string, payload map[string]any) (*Expense, error)
	UpdateExpense(ctx context.Context, token, id string, payload map[string]any) (*Expense, error)
	ListExpenseCategories(ctx context.Context, token, cursor string) (*Page[ExpenseCategory], error)

	DownloadReceipt(ctx context.Context, token, receiptURL string) ([]byte, error)
}
