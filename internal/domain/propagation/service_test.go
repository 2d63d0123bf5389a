package propagation

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/infrastructure/webhook"
)

type mockTargets struct {
	targets []*subscription.Target
}

func (m *mockTargets) ListTargets(ctx context.Context, family subscription.Family) ([]*subscription.Target, error) {
	return m.targets, nil
}

// mockLedger implements the ledger calls propagation makes; any other call
// panics through the nil embedded interface.
type mockLedger struct {
	harvest.ClientInterface
	ListTimeEntriesFunc func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.TimeEntry], error)
	ListExpensesFunc    func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.Expense], error)
	GetUserFunc         func(ctx context.Context, token, id string) (*harvest.User, error)
}

func (m *mockLedger) ListTimeEntries(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.TimeEntry], error) {
	return m.ListTimeEntriesFunc(ctx, token, cursor, filter)
}

func (m *mockLedger) ListExpenses(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.Expense], error) {
	return m.ListExpensesFunc(ctx, token, cursor, filter)
}

func (m *mockLedger) GetUser(ctx context.Context, token, id string) (*harvest.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, token, id)
	}
	return &harvest.User{ID: "9", Email: "worker@example.com"}, nil
}

type mockLinks struct {
	mapping.LinkRepository
	FindLinkByCounterpartFunc func(ctx context.Context, kind mapping.Kind, accountID, boardID, ledgerID string) (*mapping.Link, error)
}

func (m *mockLinks) FindLinkByCounterpart(ctx context.Context, kind mapping.Kind, accountID, boardID, ledgerID string) (*mapping.Link, error) {
	return m.FindLinkByCounterpartFunc(ctx, kind, accountID, boardID, ledgerID)
}

type mockAssignments struct {
	mapping.AssignmentRepository
	FindTaskAssignmentsByLedgerIDsFunc func(ctx context.Context, accountID, projectID, taskID string) ([]*mapping.TaskAssignment, error)
}

func (m *mockAssignments) FindTaskAssignmentsByLedgerIDs(ctx context.Context, accountID, projectID, taskID string) ([]*mapping.TaskAssignment, error) {
	return m.FindTaskAssignmentsByLedgerIDsFunc(ctx, accountID, projectID, taskID)
}

type sent struct {
	url    string
	fields map[string]any
}

// recorder is a concurrency-safe Deliverer.
type recorder struct {
	mu   sync.Mutex
	sent []sent
	fail map[string]error
}

func (r *recorder) Deliver(ctx context.Context, url string, outputFields any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[url]; err != nil {
		return err
	}
	r.sent = append(r.sent, sent{url: url, fields: outputFields.(map[string]any)})
	return nil
}

func (r *recorder) urls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		out = append(out, s.url)
	}
	sort.Strings(out)
	return out
}

func target(id, owner string, event subscription.EventType, ctxJSON string) *subscription.Target {
	return &subscription.Target{
		Subscription: subscription.Subscription{
			ID:           id,
			AccountID:    "acc-1",
			WebhookURL:   "https://hooks.example.com/" + id,
			WebhookEvent: event,
			Context:      ctxJSON,
		},
		OwnerID:     owner,
		AccessToken: "token-" + owner,
	}
}

func decodeEntries(t *testing.T, raw string) []harvest.TimeEntry {
	t.Helper()
	var entries []harvest.TimeEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		t.Fatalf("failed to decode entries: %v", err)
	}
	return entries
}

const entriesJSON = `[
	{"id": 1, "spent_date": "2024-05-01", "hours": 1.5, "notes": "a",
	 "user": {"id": 9, "name": "Wes Worker"}, "client": {"id": 2, "name": "Acme"},
	 "project": {"id": 7, "name": "Website", "code": "WEB"}, "task": {"id": 3, "name": "Design"},
	 "user_assignment": {"id": 1}, "task_assignment": {"id": 2}},
	{"id": 2, "spent_date": "2024-05-02", "hours": 2, "notes": "b",
	 "user": {"id": 9, "name": "Wes Worker"}, "client": {"id": 2, "name": "Acme"},
	 "project": {"id": 7, "name": "Website", "code": "WEB"}, "task": {"id": 3, "name": "Design"}}
]`

func newTestService(targets []*subscription.Target, ledger *mockLedger, deliverer Deliverer) *Service {
	links := &mockLinks{FindLinkByCounterpartFunc: func(ctx context.Context, kind mapping.Kind, accountID, boardID, ledgerID string) (*mapping.Link, error) {
		if kind == mapping.KindProject && boardID == "50" && ledgerID == "7" {
			return &mapping.Link{ID: "l1", BoardID: boardID, LedgerID: ledgerID}, nil
		}
		return nil, nil
	}}
	cfg := Config{Overlap: time.Hour, Parallelism: 2}
	return NewService(&mockTargets{targets: targets}, links, &mockAssignments{}, ledger, deliverer, nil, cfg)
}

func TestRun_TimeEntries(t *testing.T) {
	entries := decodeEntries(t, entriesJSON)
	var filters []url.Values
	userCalls := 0
	ledger := &mockLedger{
		ListTimeEntriesFunc: func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.TimeEntry], error) {
			filters = append(filters, filter)
			if cursor == "" {
				return &harvest.Page[harvest.TimeEntry]{Items: entries[:1], NextPage: "p2"}, nil
			}
			return &harvest.Page[harvest.TimeEntry]{Items: entries[1:]}, nil
		},
		GetUserFunc: func(ctx context.Context, token, id string) (*harvest.User, error) {
			userCalls++
			return &harvest.User{ID: "9", Email: "wes@example.com"}, nil
		},
	}
	rec := &recorder{}
	targets := []*subscription.Target{
		target("s1", "o1", subscription.EventTimeEntryUpdated, ""),
		target("s2", "o1", subscription.EventTimeEntryUpdatedProjectBoard, `{"projectBoardId": 50}`),
		target("s3", "o1", subscription.EventTimeEntryUpdatedProjectBoard, `{"projectBoardId": "60"}`),
		target("s4", "o1", subscription.EventTimeEntryUpdatedProjectBoard, ``),
	}
	s := newTestService(targets, ledger, rec)
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	result, err := s.Run(context.Background(), subscription.FamilyTimeEntry)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(filters) != 2 || filters[0].Get("updated_since") != "2024-05-02T11:00:00Z" {
		t.Errorf("filters = %v", filters)
	}
	if result.Records != 2 || result.Delivered != 4 || result.Skipped != 4 || result.Users != 1 {
		t.Errorf("result = %s", result)
	}
	if userCalls != 1 {
		t.Errorf("GetUser calls = %d, want 1", userCalls)
	}

	got := rec.urls()
	want := []string{
		"https://hooks.example.com/s1", "https://hooks.example.com/s1",
		"https://hooks.example.com/s2", "https://hooks.example.com/s2",
	}
	if len(got) != len(want) {
		t.Fatalf("deliveries = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("deliveries = %v, want %v", got, want)
			break
		}
	}

	te := rec.sent[0].fields["timeEntry"].(map[string]any)
	for k, v := range map[string]any{"client": "Acme", "project": "Website", "project_code": "WEB", "task": "Design", "user_name": "Wes Worker"} {
		if te[k] != v {
			t.Errorf("timeEntry[%q] = %v, want %v", k, te[k], v)
		}
	}
	for _, k := range []string{"user", "user_assignment", "task_assignment"} {
		if _, ok := te[k]; ok {
			t.Errorf("timeEntry still carries %q", k)
		}
	}
	emails, ok := te["user_emails"].(map[string]any)
	if !ok || emails["identifierType"] != "email" {
		t.Errorf("user_emails = %v", te["user_emails"])
	}
	if rec.sent[0].fields["taskId"] == nil {
		t.Error("taskId missing")
	}
}

func TestRun_IsolatesFailures(t *testing.T) {
	entries := decodeEntries(t, entriesJSON)[:1]
	tokens := make(map[string]bool)
	var mu sync.Mutex
	ledger := &mockLedger{
		ListTimeEntriesFunc: func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.TimeEntry], error) {
			mu.Lock()
			tokens[token] = true
			mu.Unlock()
			if token == "token-o2" {
				return nil, &harvest.Error{Kind: harvest.Unreachable, Op: "list", Err: errors.New("connection reset")}
			}
			return &harvest.Page[harvest.TimeEntry]{Items: entries}, nil
		},
	}
	rec := &recorder{fail: map[string]error{
		"https://hooks.example.com/s1": &webhook.StatusError{Status: 500},
	}}
	targets := []*subscription.Target{
		target("s1", "o1", subscription.EventTimeEntryUpdated, ""),
		target("s2", "o1", subscription.EventTimeEntryUpdated, ""),
		target("s3", "o2", subscription.EventTimeEntryUpdated, ""),
		target("s4", "o3", subscription.EventTimeEntryUpdated, ""),
		target("s5", "o3", subscription.EventTimeEntryUpdated, ""),
	}
	s := newTestService(targets, ledger, rec)
	s.revoked.Revoke("s5")

	result, err := s.Run(context.Background(), subscription.FamilyTimeEntry)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tokens) != 3 {
		t.Errorf("polled owners = %v, want 3", tokens)
	}
	if result.Users != 3 || result.PollErrs != 1 || result.Failed != 1 || result.Delivered != 2 || result.Skipped != 1 {
		t.Errorf("result = %s", result)
	}
	got := rec.urls()
	if len(got) != 2 || got[0] != "https://hooks.example.com/s2" || got[1] != "https://hooks.example.com/s4" {
		t.Errorf("deliveries = %v", got)
	}
}

func TestRun_TaskTime(t *testing.T) {
	recent := decodeEntries(t, `[
		{"id": 1, "spent_date": "2024-05-03", "hours": 1, "project": {"id": 7}, "task": {"id": 3}},
		{"id": 2, "spent_date": "2024-05-03", "hours": 1, "project": {"id": 7}, "task": {"id": 3}},
		{"id": 3, "spent_date": "2024-05-03", "hours": 1, "project": {"id": 8}, "task": {"id": 4}}
	]`)
	history := decodeEntries(t, `[
		{"id": 1, "spent_date": "2024-05-03", "hours": 1.5, "hours_without_timer": 1, "rounded_hours": 1.5, "project": {"id": 7}, "task": {"id": 3}},
		{"id": 5, "spent_date": "2024-04-20", "hours": 2, "hours_without_timer": 2, "rounded_hours": 2, "project": {"id": 7}, "task": {"id": 3}}
	]`)

	var histFilters []url.Values
	ledger := &mockLedger{
		ListTimeEntriesFunc: func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.TimeEntry], error) {
			if filter.Get("updated_since") != "" {
				return &harvest.Page[harvest.TimeEntry]{Items: recent}, nil
			}
			histFilters = append(histFilters, filter)
			return &harvest.Page[harvest.TimeEntry]{Items: history}, nil
		},
	}
	rec := &recorder{}
	targets := []*subscription.Target{
		target("s1", "o1", subscription.EventTaskTimeReportedUpdated, `{"boardId": 11}`),
		target("s2", "o1", subscription.EventTaskTimeReportedUpdatedSubitem, `{"boardId": 10, "subboardId": {"value": "11"}}`),
		target("s3", "o1", subscription.EventTaskTimeReportedUpdated, `{"boardId": 99}`),
	}
	s := newTestService(targets, ledger, rec)
	s.assignments = &mockAssignments{FindTaskAssignmentsByLedgerIDsFunc: func(ctx context.Context, accountID, projectID, taskID string) ([]*mapping.TaskAssignment, error) {
		if projectID == "7" && taskID == "3" {
			return []*mapping.TaskAssignment{{ID: "ta-1", BoardID: "11", ItemID: "s-1"}}, nil
		}
		return nil, nil
	}}

	result, err := s.Run(context.Background(), subscription.FamilyTaskTime)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(histFilters) != 1 || histFilters[0].Get("project_id") != "7" || histFilters[0].Get("task_id") != "3" {
		t.Errorf("history filters = %v", histFilters)
	}
	if result.Delivered != 2 {
		t.Errorf("result = %s", result)
	}

	got := rec.urls()
	if len(got) != 2 || got[0] != "https://hooks.example.com/s1" || got[1] != "https://hooks.example.com/s2" {
		t.Fatalf("deliveries = %v", got)
	}
	fields := rec.sent[0].fields
	if fields["itemId"] != "s-1" || fields["subBoardId"] != "11" || fields["projectId"] != "7" {
		t.Errorf("fields = %v", fields)
	}
	rt := fields["reportedTime"]
	data, _ := json.Marshal(rt)
	want := `{"hours":3.5,"hours_without_timer":3,"rounded_hours":3.5,"earliest_time":"2024-04-20T00:00:00.000Z","latest_time":"2024-05-03T00:00:00.000Z"}`
	if string(data) != want {
		t.Errorf("reportedTime = %s, want %s", data, want)
	}
}

func TestRun_Expenses(t *testing.T) {
	var expenses []harvest.Expense
	raw := `[{"id": 30, "spent_date": "2024-05-01", "total_cost": 12.5, "billable": true,
		"user": {"id": 9, "name": "Wes Worker"}, "client": {"id": 2, "name": "Acme"},
		"project": {"id": 7, "name": "Website", "code": "WEB"},
		"expense_category": {"id": 4, "name": "Travel"}, "invoice": {"id": 1, "number": "INV-1"},
		"receipt": {"url": "https://files.example.com/r.pdf", "file_name": "r.pdf"}}]`
	if err := json.Unmarshal([]byte(raw), &expenses); err != nil {
		t.Fatalf("failed to decode expenses: %v", err)
	}
	ledger := &mockLedger{
		ListExpensesFunc: func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.Expense], error) {
			return &harvest.Page[harvest.Expense]{Items: expenses}, nil
		},
	}
	rec := &recorder{}
	s := newTestService([]*subscription.Target{target("s1", "o1", subscription.EventExpenseUpdated, "")}, ledger, rec)

	if _, err := s.Run(context.Background(), subscription.FamilyExpense); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(rec.sent))
	}
	exp := rec.sent[0].fields["expense"].(map[string]any)
	for k, v := range map[string]any{"client": "Acme", "project": "Website", "project_code": "WEB", "category": "Travel", "invoice_number": "INV-1", "user_name": "Wes Worker"} {
		if exp[k] != v {
			t.Errorf("expense[%q] = %v, want %v", k, exp[k], v)
		}
	}
	if _, ok := exp["expense_category"]; ok {
		t.Error("expense still carries expense_category")
	}
	if _, ok := exp["receipt"].(map[string]any); !ok {
		t.Errorf("receipt = %v", exp["receipt"])
	}
}

func TestRun_PacesPages(t *testing.T) {
	pages := 0
	ledger := &mockLedger{
		ListTimeEntriesFunc: func(ctx context.Context, token, cursor string, filter url.Values) (*harvest.Page[harvest.TimeEntry], error) {
			pages++
			if pages < 3 {
				return &harvest.Page[harvest.TimeEntry]{NextPage: "next"}, nil
			}
			return &harvest.Page[harvest.TimeEntry]{}, nil
		},
	}
	s := newTestService([]*subscription.Target{target("s1", "o1", subscription.EventTimeEntryUpdated, "")}, ledger, &recorder{})
	s.cfg.PageDelay = 20 * time.Millisecond

	start := time.Now()
	if _, err := s.Run(context.Background(), subscription.FamilyTimeEntry); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("3 pages took %v, want at least 40ms", elapsed)
	}
}

func TestReportedTime_Empty(t *testing.T) {
	rt := reportedTime(nil)
	if rt.Hours != 0 || rt.EarliestTime != "" || rt.LatestTime != "" {
		t.Errorf("reportedTime(nil) = %+v", rt)
	}
}
