package reconcile

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/infrastructure/monday"
	"harvestsync/internal/shared/flexid"
)

// memLinks is an in-memory mapping.LinkRepository.
type memLinks struct {
	links   []*mapping.Link
	creates int
}

func (m *memLinks) FindLink(ctx context.Context, kind mapping.Kind, accountID, boardID, itemID string) (*mapping.Link, error) {
	for _, l := range m.links {
		if l.Kind == kind && l.AccountID == accountID && l.BoardID == boardID && l.ItemID == itemID {
			return l, nil
		}
	}
	return nil, nil
}

func (m *memLinks) FindLinkByItem(ctx context.Context, kind mapping.Kind, accountID, itemID string) (*mapping.Link, error) {
	for _, l := range m.links {
		if l.Kind == kind && l.AccountID == accountID && l.ItemID == itemID {
			return l, nil
		}
	}
	return nil, nil
}

func (m *memLinks) FindLinkByCounterpart(ctx context.Context, kind mapping.Kind, accountID, boardID, ledgerID string) (*mapping.Link, error) {
	for _, l := range m.links {
		if l.Kind == kind && l.AccountID == accountID && l.LedgerID == ledgerID && (boardID == "" || l.BoardID == boardID) {
			return l, nil
		}
	}
	return nil, nil
}

func (m *memLinks) CreateLink(ctx context.Context, kind mapping.Kind, params mapping.CreateLinkParams) (*mapping.Link, error) {
	if existing, _ := m.FindLink(ctx, kind, params.AccountID, params.BoardID, params.ItemID); existing != nil {
		return existing, nil
	}
	m.creates++
	l := &mapping.Link{
		ID:        "link-" + strconv.Itoa(len(m.links)+1),
		Kind:      kind,
		AccountID: params.AccountID,
		BoardID:   params.BoardID,
		ItemID:    params.ItemID,
		LedgerID:  params.LedgerID,
	}
	m.links = append(m.links, l)
	return l, nil
}

func (m *memLinks) UpdateLink(ctx context.Context, link *mapping.Link) (*mapping.Link, error) {
	return link, nil
}

func (m *memLinks) DeleteLink(ctx context.Context, link *mapping.Link) error {
	return nil
}

func (m *memLinks) count(kind mapping.Kind) int {
	n := 0
	for _, l := range m.links {
		if l.Kind == kind {
			n++
		}
	}
	return n
}

// memTasks is an in-memory mapping.TaskRepository.
type memTasks struct {
	tasks []*mapping.Task
}

func (m *memTasks) ListTasks(ctx context.Context, accountID string) ([]*mapping.Task, error) {
	var out []*mapping.Task
	for _, t := range m.tasks {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTasks) CreateTask(ctx context.Context, accountID, ledgerTaskID, name string) (*mapping.Task, error) {
	t := &mapping.Task{ID: "task-row-" + strconv.Itoa(len(m.tasks)+1), AccountID: accountID, TaskID: ledgerTaskID, TaskName: name}
	m.tasks = append(m.tasks, t)
	return t, nil
}

func (m *memTasks) UpdateTaskName(ctx context.Context, id, name string) error {
	for _, t := range m.tasks {
		if t.ID == id {
			t.TaskName = name
		}
	}
	return nil
}

// memAssignments is an in-memory mapping.AssignmentRepository.
type memAssignments struct {
	tasks []*mapping.TaskAssignment
	users []*mapping.UserAssignment

	updatedTasks []*mapping.TaskAssignment
}

func (m *memAssignments) ListTaskAssignments(ctx context.Context, projectItemID string) ([]*mapping.TaskAssignment, error) {
	var out []*mapping.TaskAssignment
	for _, a := range m.tasks {
		if a.ProjectItemID == projectItemID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAssignments) CreateTaskAssignment(ctx context.Context, params mapping.CreateTaskAssignmentParams) (*mapping.TaskAssignment, error) {
	a := &mapping.TaskAssignment{
		ID:               "ta-" + strconv.Itoa(len(m.tasks)+1),
		ProjectItemID:    params.ProjectItemID,
		TaskRowID:        params.TaskRowID,
		AccountID:        params.AccountID,
		BoardID:          params.BoardID,
		ItemID:           params.ItemID,
		TaskAssignmentID: params.TaskAssignmentID,
	}
	m.tasks = append(m.tasks, a)
	return a, nil
}

func (m *memAssignments) UpdateTaskAssignment(ctx context.Context, assignment *mapping.TaskAssignment) error {
	m.updatedTasks = append(m.updatedTasks, assignment)
	return nil
}

func (m *memAssignments) DeleteTaskAssignment(ctx context.Context, id string) error {
	for i, a := range m.tasks {
		if a.ID == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memAssignments) FindTaskAssignmentsByLedgerIDs(ctx context.Context, accountID, ledgerProjectID, ledgerTaskID string) ([]*mapping.TaskAssignment, error) {
	return nil, nil
}

func (m *memAssignments) ListTaskAssignmentsOnBoards(ctx context.Context, accountID, ledgerTaskID string, boardIDs []string) ([]*mapping.TaskAssignment, error) {
	var out []*mapping.TaskAssignment
	for _, a := range m.tasks {
		if a.LedgerTaskID != ledgerTaskID {
			continue
		}
		for _, b := range boardIDs {
			if a.BoardID == b {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (m *memAssignments) ListUserAssignments(ctx context.Context, projectItemID string) ([]*mapping.UserAssignment, error) {
	var out []*mapping.UserAssignment
	for _, a := range m.users {
		if a.ProjectItemID == projectItemID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAssignments) CreateUserAssignment(ctx context.Context, projectItemID, ledgerUserID, userAssignmentID string) (*mapping.UserAssignment, error) {
	a := &mapping.UserAssignment{
		ID:               "ua-row-" + strconv.Itoa(len(m.users)+1),
		ProjectItemID:    projectItemID,
		LedgerUserID:     ledgerUserID,
		UserAssignmentID: userAssignmentID,
	}
	m.users = append(m.users, a)
	return a, nil
}

func (m *memAssignments) DeleteUserAssignment(ctx context.Context, id string) error {
	for i, a := range m.users {
		if a.ID == id {
			m.users = append(m.users[:i], m.users[i+1:]...)
			return nil
		}
	}
	return nil
}

// MockLedger implements harvest.ClientInterface. Unset list funcs return an
// empty last page.
type MockLedger struct {
	ListClientsFunc           func(ctx context.Context, token, cursor string) (*harvest.Page[harvest.Client], error)
	CreateClientFunc          func(ctx context.Context, token string, payload map[string]any) (*harvest.Client, error)
	UpdateClientFunc          func(ctx context.Context, token, id string, payload map[string]any) (*harvest.Client, error)
	ListProjectsFunc          func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.Project], error)
	CreateProjectFunc         func(ctx context.Context, token string, payload map[string]any) (*harvest.Project, error)
	UpdateProjectFunc         func(ctx context.Context, token, id string, payload map[string]any) (*harvest.Project, error)
	ListUsersFunc             func(ctx context.Context, token, cursor string) (*harvest.Page[harvest.User], error)
	GetUserFunc               func(ctx context.Context, token, id string) (*harvest.User, error)
	AssignUserFunc            func(ctx context.Context, token, projectID, userID string) (*harvest.UserAssignment, error)
	RemoveUserAssignmentFunc  func(ctx context.Context, token, projectID, assignmentID string) error
	ListTasksFunc             func(ctx context.Context, token, cursor string) (*harvest.Page[harvest.Task], error)
	CreateTaskFunc            func(ctx context.Context, token string, payload map[string]any) (*harvest.Task, error)
	UpdateTaskFunc            func(ctx context.Context, token, id string, payload map[string]any) (*harvest.Task, error)
	ListTaskAssignmentsFunc   func(ctx context.Context, token, projectID, cursor string) (*harvest.Page[harvest.TaskAssignment], error)
	AssignTaskFunc            func(ctx context.Context, token, projectID, taskID string, options map[string]any) (*harvest.TaskAssignment, error)
	UpdateTaskAssignmentFunc  func(ctx context.Context, token, projectID, assignmentID string, options map[string]any) (*harvest.TaskAssignment, error)
	RemoveTaskAssignmentFunc  func(ctx context.Context, token, projectID, assignmentID string) error
	ListTimeEntriesFunc       func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.TimeEntry], error)
	ListExpensesFunc          func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.Expense], error)
	CreateExpenseFunc         func(ctx context.Context, token string, payload map[string]any) (*harvest.Expense, error)
	UpdateExpenseFunc         func(ctx context.Context, token, id string, payload map[string]any) (*harvest.Expense, error)
	ListExpenseCategoriesFunc func(ctx context.Context, token, cursor string) (*harvest.Page[harvest.ExpenseCategory], error)
	DownloadReceiptFunc       func(ctx context.Context, token, receiptURL string) ([]byte, error)
}

var _ harvest.ClientInterface = (*MockLedger)(nil)

func (m *MockLedger) ListClients(ctx context.Context, token, cursor string) (*harvest.Page[harvest.Client], error) {
	if m.ListClientsFunc != nil {
		return m.ListClientsFunc(ctx, token, cursor)
	}
	return &harvest.Page[harvest.Client]{}, nil
}

func (m *MockLedger) CreateClient(ctx context.Context, token string, payload map[string]any) (*harvest.Client, error) {
	if m.CreateClientFunc != nil {
		return m.CreateClientFunc(ctx, token, payload)
	}
	return &harvest.Client{ID: "1"}, nil
}

func (m *MockLedger) UpdateClient(ctx context.Context, token, id string, payload map[string]any) (*harvest.Client, error) {
	if m.UpdateClientFunc != nil {
		return m.UpdateClientFunc(ctx, token, id, payload)
	}
	return &harvest.Client{}, nil
}

func (m *MockLedger) ListProjects(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.Project], error) {
	if m.ListProjectsFunc != nil {
		return m.ListProjectsFunc(ctx, token, cursor, filter)
	}
	return &harvest.Page[harvest.Project]{}, nil
}

func (m *MockLedger) CreateProject(ctx context.Context, token string, payload map[string]any) (*harvest.Project, error) {
	if m.CreateProjectFunc != nil {
		return m.CreateProjectFunc(ctx, token, payload)
	}
	return &harvest.Project{ID: "1"}, nil
}

func (m *MockLedger) UpdateProject(ctx context.Context, token, id string, payload map[string]any) (*harvest.Project, error) {
	if m.UpdateProjectFunc != nil {
		return m.UpdateProjectFunc(ctx, token, id, payload)
	}
	return &harvest.Project{}, nil
}

func (m *MockLedger) ListUsers(ctx context.Context, token, cursor string) (*harvest.Page[harvest.User], error) {
	if m.ListUsersFunc != nil {
		return m.ListUsersFunc(ctx, token, cursor)
	}
	return &harvest.Page[harvest.User]{}, nil
}

func (m *MockLedger) GetUser(ctx context.Context, token, id string) (*harvest.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, token, id)
	}
	return &harvest.User{}, nil
}

func (m *MockLedger) AssignUser(ctx context.Context, token, projectID, userID string) (*harvest.UserAssignment, error) {
	if m.AssignUserFunc != nil {
		return m.AssignUserFunc(ctx, token, projectID, userID)
	}
	return &harvest.UserAssignment{}, nil
}

func (m *MockLedger) RemoveUserAssignment(ctx context.Context, token, projectID, assignmentID string) error {
	if m.RemoveUserAssignmentFunc != nil {
		return m.RemoveUserAssignmentFunc(ctx, token, projectID, assignmentID)
	}
	return nil
}

func (m *MockLedger) ListTasks(ctx context.Context, token, cursor string) (*harvest.Page[harvest.Task], error) {
	if m.ListTasksFunc != nil {
		return m.ListTasksFunc(ctx, token, cursor)
	}
	return &harvest.Page[harvest.Task]{}, nil
}

func (m *MockLedger) CreateTask(ctx context.Context, token string, payload map[string]any) (*harvest.Task, error) {
	if m.CreateTaskFunc != nil {
		return m.CreateTaskFunc(ctx, token, payload)
	}
	return &harvest.Task{ID: "1"}, nil
}

func (m *MockLedger) UpdateTask(ctx context.Context, token, id string, payload map[string]any) (*harvest.Task, error) {
	if m.UpdateTaskFunc != nil {
		return m.UpdateTaskFunc(ctx, token, id, payload)
	}
	return &harvest.Task{}, nil
}

func (m *MockLedger) ListTaskAssignments(ctx context.Context, token, projectID, cursor string) (*harvest.Page[harvest.TaskAssignment], error) {
	if m.ListTaskAssignmentsFunc != nil {
		return m.ListTaskAssignmentsFunc(ctx, token, projectID, cursor)
	}
	return &harvest.Page[harvest.TaskAssignment]{}, nil
}

func (m *MockLedger) AssignTask(ctx context.Context, token, projectID, taskID string, options map[string]any) (*harvest.TaskAssignment, error) {
	if m.AssignTaskFunc != nil {
		return m.AssignTaskFunc(ctx, token, projectID, taskID, options)
	}
	return &harvest.TaskAssignment{ID: "1"}, nil
}

func (m *MockLedger) UpdateTaskAssignment(ctx context.Context, token, projectID, assignmentID string, options map[string]any) (*harvest.TaskAssignment, error) {
	if m.UpdateTaskAssignmentFunc != nil {
		return m.UpdateTaskAssignmentFunc(ctx, token, projectID, assignmentID, options)
	}
	return &harvest.TaskAssignment{}, nil
}

func (m *MockLedger) RemoveTaskAssignment(ctx context.Context, token, projectID, assignmentID string) error {
	if m.RemoveTaskAssignmentFunc != nil {
		return m.RemoveTaskAssignmentFunc(ctx, token, projectID, assignmentID)
	}
	return nil
}

func (m *MockLedger) ListTimeEntries(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.TimeEntry], error) {
	if m.ListTimeEntriesFunc != nil {
		return m.ListTimeEntriesFunc(ctx, token, cursor, filter)
	}
	return &harvest.Page[harvest.TimeEntry]{}, nil
}

func (m *MockLedger) ListExpenses(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.Expense], error) {
	if m.ListExpensesFunc != nil {
		return m.ListExpensesFunc(ctx, token, cursor, filter)
	}
	return &harvest.Page[harvest.Expense]{}, nil
}

func (m *MockLedger) CreateExpense(ctx context.Context, token string, payload map[string]any) (*harvest.Expense, error) {
	if m.CreateExpenseFunc != nil {
		return m.CreateExpenseFunc(ctx, token, payload)
	}
	return &harvest.Expense{ID: "1"}, nil
}

func (m *MockLedger) UpdateExpense(ctx context.Context, token, id string, payload map[string]any) (*harvest.Expense, error) {
	if m.UpdateExpenseFunc != nil {
		return m.UpdateExpenseFunc(ctx, token, id, payload)
	}
	return &harvest.Expense{}, nil
}

func (m *MockLedger) ListExpenseCategories(ctx context.Context, token, cursor string) (*harvest.Page[harvest.ExpenseCategory], error) {
	if m.ListExpenseCategoriesFunc != nil {
		return m.ListExpenseCategoriesFunc(ctx, token, cursor)
	}
	return &harvest.Page[harvest.ExpenseCategory]{}, nil
}

func (m *MockLedger) DownloadReceipt(ctx context.Context, token, receiptURL string) ([]byte, error) {
	if m.DownloadReceiptFunc != nil {
		return m.DownloadReceiptFunc(ctx, token, receiptURL)
	}
	return nil, nil
}

// MockBoard implements monday.ClientInterface.
type MockBoard struct {
	ExecuteFunc            func(ctx context.Context, token, query string, variables map[string]any) (json.RawMessage, error)
	ItemColumnValuesFunc   func(ctx context.Context, token, itemID string, columnIDs ...string) (*monday.Item, error)
	UsersFunc              func(ctx context.Context, token string) ([]monday.User, error)
	BoardColumnsFunc       func(ctx context.Context, token, boardID string) ([]monday.Column, error)
	ColumnFunc             func(ctx context.Context, token, boardID, columnID string) (*monday.Column, error)
	CreateItemFunc         func(ctx context.Context, token, boardID, groupID, name string, columnValues map[string]any) (string, error)
	ChangeColumnValuesFunc func(ctx context.Context, token, boardID, itemID string, columnValues map[string]any) error
	UploadFileFunc         func(ctx context.Context, token, itemID, columnID, fileName string, content []byte) error
}

var _ monday.ClientInterface = (*MockBoard)(nil)

func (m *MockBoard) Execute(ctx context.Context, token, query string, variables map[string]any) (json.RawMessage, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, token, query, variables)
	}
	return nil, nil
}

func (m *MockBoard) ItemColumnValues(ctx context.Context, token, itemID string, columnIDs ...string) (*monday.Item, error) {
	if m.ItemColumnValuesFunc != nil {
		return m.ItemColumnValuesFunc(ctx, token, itemID, columnIDs...)
	}
	return nil, nil
}

func (m *MockBoard) Users(ctx context.Context, token string) ([]monday.User, error) {
	if m.UsersFunc != nil {
		return m.UsersFunc(ctx, token)
	}
	return nil, nil
}

func (m *MockBoard) BoardColumns(ctx context.Context, token, boardID string) ([]monday.Column, error) {
	if m.BoardColumnsFunc != nil {
		return m.BoardColumnsFunc(ctx, token, boardID)
	}
	return nil, nil
}

func (m *MockBoard) Column(ctx context.Context, token, boardID, columnID string) (*monday.Column, error) {
	if m.ColumnFunc != nil {
		return m.ColumnFunc(ctx, token, boardID, columnID)
	}
	return nil, nil
}

func (m *MockBoard) CreateItem(ctx context.Context, token, boardID, groupID, name string, columnValues map[string]any) (string, error) {
	if m.CreateItemFunc != nil {
		return m.CreateItemFunc(ctx, token, boardID, groupID, name, columnValues)
	}
	return "1", nil
}

func (m *MockBoard) ChangeColumnValues(ctx context.Context, token, boardID, itemID string, columnValues map[string]any) error {
	if m.ChangeColumnValuesFunc != nil {
		return m.ChangeColumnValuesFunc(ctx, token, boardID, itemID, columnValues)
	}
	return nil
}

func (m *MockBoard) UploadFile(ctx context.Context, token, itemID, columnID, fileName string, content []byte) error {
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, token, itemID, columnID, fileName, content)
	}
	return nil
}

type fixture struct {
	links       *memLinks
	tasks       *memTasks
	assignments *memAssignments
	ledger      *MockLedger
	board       *MockBoard
	svc         *Service
}

func newFixture() *fixture {
	f := &fixture{
		links:       &memLinks{},
		tasks:       &memTasks{},
		assignments: &memAssignments{},
		ledger:      &MockLedger{},
		board:       &MockBoard{},
	}
	f.svc = NewService(f.links, f.tasks, f.assignments, f.ledger, f.board, nil)
	return f
}

var caller = Caller{AccountID: "acc-1", UserID: "u-1", BoardToken: "board-tok", LedgerToken: "ledger-tok"}

func flexidOf(n int) flexid.ID {
	return flexid.FromInt64(int64(n))
}

func flexidFrom(s string) flexid.ID {
	return flexid.ID(s)
}
