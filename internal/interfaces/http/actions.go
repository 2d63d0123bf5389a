package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"harvestsync/internal/domain/reconcile"
	"harvestsync/internal/shared/messages"
	"harvestsync/internal/shared/middleware"
)

// ActionService is the set of board actions the handler exposes.
type ActionService interface {
	ReconcileClient(ctx context.Context, c reconcile.Caller, in reconcile.ClientInput) (*reconcile.Outcome, error)
	ReconcileProjectConnectedClient(ctx context.Context, c reconcile.Caller, in reconcile.ProjectInput) (*reconcile.Outcome, error)
	ReconcileProjectConnectedClientSubitemTasks(ctx context.Context, c reconcile.Caller, in reconcile.ProjectInput) (*reconcile.Outcome, error)
	ReconcileProjectMappedClient(ctx context.Context, c reconcile.Caller, in reconcile.ProjectInput) (*reconcile.Outcome, error)
	ReconcileTaskConnectedProject(ctx context.Context, c reconcile.Caller, in reconcile.TaskInput) (*reconcile.Outcome, error)
	ReconcileExpense(ctx context.Context, c reconcile.Caller, in reconcile.ExpenseInput) (*reconcile.Outcome, error)
	SyncTimesheetItem(ctx context.Context, c reconcile.Caller, in reconcile.TimesheetItemInput) (*reconcile.Outcome, error)
	SyncTimesheetItemConnectTask(ctx context.Context, c reconcile.Caller, in reconcile.TimesheetItemInput) (*reconcile.Outcome, error)
	UpdateTaskReportedTime(ctx context.Context, c reconcile.Caller, in reconcile.ReportedTimeInput) (*reconcile.Outcome, error)
	UpdateSubitemReportedTime(ctx context.Context, c reconcile.Caller, in reconcile.SubitemReportedTimeInput) (*reconcile.Outcome, error)
	SyncExpenseItem(ctx context.Context, c reconcile.Caller, in reconcile.ExpenseItemInput) (*reconcile.Outcome, error)
	SyncExpenseItemWithFile(ctx context.Context, c reconcile.Caller, in reconcile.ExpenseItemInput) (*reconcile.Outcome, error)
}

var _ ActionService = (*reconcile.Service)(nil)

type ActionHandler struct {
	svc             ActionService
	msgs            *messages.Messages
	ledgerAccountID string
	timeout         time.Duration
}

func NewActionHandler(svc ActionService, msgs *messages.Messages, ledgerAccountID string, timeout time.Duration) *ActionHandler {
	if msgs == nil {
		msgs = messages.Default()
	}
	return &ActionHandler{svc: svc, msgs: msgs, ledgerAccountID: ledgerAccountID, timeout: timeout}
}

// actionRequest is the envelope the board posts to every action.
type actionRequest[T any] struct {
	Payload struct {
		InboundFieldValues T `json:"inboundFieldValues"`
	} `json:"payload"`
}

type actionFunc[T any] func(ctx context.Context, c reconcile.Caller, in T) (*reconcile.Outcome, error)

// serveAction decodes the inbound field values, runs fn for the session's
// caller under the action deadline and writes the board response.
func serveAction[T any](h *ActionHandler, w http.ResponseWriter, r *http.Request, name string, fn actionFunc[T]) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req actionRequest[T]
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding %s request: %v", name, err)
		writeActionError(w, h.msgs, fmt.Errorf("invalid request body: %w", err))
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	out, err := fn(ctx, h.caller(session), req.Payload.InboundFieldValues)
	if err != nil {
		log.Printf("Account %s: %s failed for user %s: %v", session.AccountID, name, session.UserID, err)
		writeActionError(w, h.msgs, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: out.Message})
}

func (h *ActionHandler) caller(s *middleware.Session) reconcile.Caller {
	c := reconcile.Caller{
		AccountID:       s.AccountID,
		UserID:          s.UserID,
		BoardToken:      s.ShortLivedToken,
		LedgerAccountID: h.ledgerAccountID,
	}
	if s.User != nil {
		c.LedgerToken = s.User.AccessToken
	}
	return c
}

func (h *ActionHandler) HandleCreateClient(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-client", h.svc.ReconcileClient)
}

func (h *ActionHandler) HandleCreateProjectConnectedClient(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-project-connected-client", h.svc.ReconcileProjectConnectedClient)
}

func (h *ActionHandler) HandleCreateProjectConnectedClientSubitemTasks(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-project-connected-client-subitem-tasks", h.svc.ReconcileProjectConnectedClientSubitemTasks)
}

func (h *ActionHandler) HandleCreateProjectMappedClient(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-project-client-mapped", h.svc.ReconcileProjectMappedClient)
}

func (h *ActionHandler) HandleCreateTaskConnectedProject(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-task-connected-project", h.svc.ReconcileTaskConnectedProject)
}

func (h *ActionHandler) HandleCreateExpense(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-expense", h.svc.ReconcileExpense)
}

func (h *ActionHandler) HandleCreateTimesheetItem(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-timesheet-item", h.svc.SyncTimesheetItem)
}

func (h *ActionHandler) HandleCreateTimesheetItemConnectTask(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-timesheet-item-connect-task", h.svc.SyncTimesheetItemConnectTask)
}

func (h *ActionHandler) HandleUpdateTaskReportedTime(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "update-task-reported-time", h.svc.UpdateTaskReportedTime)
}

func (h *ActionHandler) HandleUpdateSubitemReportedTime(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "update-subitem-reported-time", h.svc.UpdateSubitemReportedTime)
}

func (h *ActionHandler) HandleCreateExpenseItem(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-expense-item", h.svc.SyncExpenseItem)
}

func (h *ActionHandler) HandleCreateExpenseItemFiles(w http.ResponseWriter, r *http.Request) {
	serveAction(h, w, r, "create-expense-item-files", h.svc.SyncExpenseItemWithFile)
}

// Routes lists the action endpoints by path.
func (h *ActionHandler) Routes() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/actions/create-client":                                 h.HandleCreateClient,
		"/actions/create-project-connected-client":               h.HandleCreateProjectConnectedClient,
		"/actions/create-project-connected-client-subitem-tasks": h.HandleCreateProjectConnectedClientSubitemTasks,
		"/actions/create-project-client-mapped":                  h.HandleCreateProjectMappedClient,
		"/actions/create-task-connected-project":                 h.HandleCreateTaskConnectedProject,
		"/actions/create-expense":                                h.HandleCreateExpense,
		"/actions/create-timesheet-item":                         h.HandleCreateTimesheetItem,
		"/actions/create-timesheet-item-connect-task":            h.HandleCreateTimesheetItemConnectTask,
		"/actions/update-task-reported-time":                     h.HandleUpdateTaskReportedTime,
		"/actions/update-subitem-reported-time":                  h.HandleUpdateSubitemReportedTime,
		"/actions/create-expense-item":                           h.HandleCreateExpenseItem,
		"/actions/create-expense-item-files":                     h.HandleCreateExpenseItemFiles,
	}
}
