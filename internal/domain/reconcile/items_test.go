package reconcile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/infrastructure/monday"
	"harvestsync/internal/shared/flexid"
)

func TestBoardDateTime(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"2024-05-01T13:45:10.123Z", "2024-05-01 13:45:10", true},
		{"2024-05-01T13:45:10.5+02:00", "2024-05-01 11:45:10", true},
		{"2024-05-01T13:45:10Z", "2024-05-01T13:45:10Z", false},
		{"started 2024-05-01T13:45:10.123Z", "started 2024-05-01T13:45:10.123Z", false},
		{"2024-05-01", "2024-05-01", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := boardDateTime(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("boardDateTime(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTagList(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{";a;b;", "a,b", true},
		{";urgent;", "urgent", true},
		{";a;;b;", "a,b", true},
		{";;", ";;", false},
		{"a;b", "a;b", false},
		{"plain", "plain", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := tagList(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("tagList(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPrepareMapping(t *testing.T) {
	f := newFixture()
	userCalls := 0
	f.board.UsersFunc = func(ctx context.Context, token string) ([]monday.User, error) {
		userCalls++
		return []monday.User{
			{ID: "u1", Email: "a@example.com"},
			{ID: "u2", Email: "b@example.com"},
		}, nil
	}

	raw := map[string]any{
		groupKey:   "topics",
		"name":     "Standup",
		"date":     "2024-05-01T13:45:10.123Z",
		"tags":     ";a;b;",
		"billable": true,
		"locked":   false,
		"hours":    1.5,
		"person":   map[string]any{"identifierType": "email", "identifierValue": []any{"b@example.com"}},
		"approver": map[string]any{"identifierType": "email", "identifierValue": []any{"a@example.com"}},
		"stranger": map[string]any{"identifierType": "email", "identifierValue": []any{"x@example.com"}},
	}

	cm, err := f.svc.prepareMapping(context.Background(), caller, raw, true)
	if err != nil {
		t.Fatalf("prepareMapping: %v", err)
	}
	if cm.groupID != "topics" {
		t.Errorf("groupID = %q", cm.groupID)
	}
	if _, ok := cm.values[groupKey]; ok {
		t.Error("group key left in values")
	}

	want := map[string]any{
		"name":     "Standup",
		"date":     "2024-05-01 13:45:10",
		"tags":     "a,b",
		"billable": "True",
		"locked":   "False",
		"hours":    1.5,
		"person":   map[string]any{"personsAndTeams": []map[string]any{{"id": flexid.ID("u2"), "kind": "person"}}},
		"approver": map[string]any{"personsAndTeams": []map[string]any{{"id": flexid.ID("u1"), "kind": "person"}}},
		"stranger": raw["stranger"],
	}
	for k, v := range want {
		if !reflect.DeepEqual(cm.values[k], v) {
			t.Errorf("values[%q] = %#v, want %#v", k, cm.values[k], v)
		}
	}
	if userCalls != 1 {
		t.Errorf("Users calls = %d, want 1", userCalls)
	}
	if raw["tags"] != ";a;b;" {
		t.Error("input mapping was modified")
	}
}

func TestPrepareMapping_PartialLeavesTagsAndBooleans(t *testing.T) {
	f := newFixture()
	raw := map[string]any{"tags": ";a;", "done": true, "at": "2024-05-01T00:00:00.000Z"}

	cm, err := f.svc.prepareMapping(context.Background(), caller, raw, false)
	if err != nil {
		t.Fatalf("prepareMapping: %v", err)
	}
	if cm.values["tags"] != ";a;" || cm.values["done"] != true || cm.values["at"] != "2024-05-01 00:00:00" {
		t.Errorf("values = %v", cm.values)
	}
}

func TestSyncTimesheetItem_CreateThenUpdate(t *testing.T) {
	f := newFixture()
	var createdName, createdGroup string
	var createdValues map[string]any
	f.board.CreateItemFunc = func(ctx context.Context, token, boardID, groupID, name string, values map[string]any) (string, error) {
		createdName, createdGroup, createdValues = name, groupID, values
		return "i-1", nil
	}
	var changed []string
	f.board.ChangeColumnValuesFunc = func(ctx context.Context, token, boardID, itemID string, values map[string]any) error {
		changed = append(changed, itemID)
		if values["name"] != "Standup" {
			t.Errorf("update values = %v", values)
		}
		return nil
	}

	in := TimesheetItemInput{
		BoardID:     "40",
		TimeEntry:   LedgerRef{ID: "te-1"},
		ItemMapping: map[string]any{groupKey: "g1", "name": "Standup", "notes": "daily"},
	}
	out, err := f.svc.SyncTimesheetItem(context.Background(), caller, in)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if out.Message != msgSuccess {
		t.Errorf("message = %q", out.Message)
	}
	if createdName != "Standup" || createdGroup != "g1" {
		t.Errorf("CreateItem name = %q, group = %q", createdName, createdGroup)
	}
	if _, ok := createdValues["name"]; ok || createdValues["notes"] != "daily" {
		t.Errorf("CreateItem values = %v", createdValues)
	}

	if _, err := f.svc.SyncTimesheetItem(context.Background(), caller, in); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if fmt.Sprint(changed) != "[i-1]" {
		t.Errorf("changed items = %v, want [i-1]", changed)
	}
	if f.links.count(mapping.KindTimesheet) != 1 {
		t.Errorf("timesheet links = %d, want 1", f.links.count(mapping.KindTimesheet))
	}
}

func TestSyncTimesheetItem_DefaultName(t *testing.T) {
	f := newFixture()
	var name string
	f.board.CreateItemFunc = func(ctx context.Context, token, boardID, groupID, n string, values map[string]any) (string, error) {
		name = n
		return "i-1", nil
	}
	_, err := f.svc.SyncTimesheetItem(context.Background(), caller, TimesheetItemInput{
		BoardID: "40", TimeEntry: LedgerRef{ID: "te-1"}, ItemMapping: map[string]any{"notes": "x"},
	})
	if err != nil {
		t.Fatalf("SyncTimesheetItem: %v", err)
	}
	if name != defaultTimeEntryName {
		t.Errorf("name = %q, want %q", name, defaultTimeEntryName)
	}
}

func TestSyncTimesheetItem_CreateFailure(t *testing.T) {
	f := newFixture()
	f.board.CreateItemFunc = func(ctx context.Context, token, boardID, groupID, n string, values map[string]any) (string, error) {
		return "", &monday.APIError{Message: "Column not found"}
	}
	_, err := f.svc.SyncTimesheetItem(context.Background(), caller, TimesheetItemInput{
		BoardID: "40", TimeEntry: LedgerRef{ID: "te-1"}, ItemMapping: map[string]any{},
	})
	aerr, ok := AsActionError(err)
	if !ok {
		t.Fatalf("error = %v, want ActionError", err)
	}
	if want := "Unable to create item from Time Entry - Column not found"; aerr.Description != want {
		t.Errorf("description = %q, want %q", aerr.Description, want)
	}
	if len(f.links.links) != 0 {
		t.Error("link stored for a failed create")
	}
}

func TestSyncTimesheetItemConnectTask(t *testing.T) {
	f := newFixture()
	f.board.ColumnFunc = func(ctx context.Context, token, boardID, columnID string) (*monday.Column, error) {
		return &monday.Column{ID: columnID, SettingsStr: `{"boardIds":[11,12]}`}, nil
	}
	f.assignments.tasks = []*mapping.TaskAssignment{
		{ID: "ta-1", BoardID: "11", ItemID: "s1", LedgerTaskID: "43"},
		{ID: "ta-2", BoardID: "12", ItemID: "s7", LedgerTaskID: "43"},
		{ID: "ta-3", BoardID: "99", ItemID: "s9", LedgerTaskID: "43"},
		{ID: "ta-4", BoardID: "11", ItemID: "s2", LedgerTaskID: "44"},
	}
	var got map[string]any
	f.board.ChangeColumnValuesFunc = func(ctx context.Context, token, boardID, itemID string, values map[string]any) error {
		if itemID != "1" {
			t.Errorf("connected item = %q", itemID)
		}
		got = values
		return nil
	}

	_, err := f.svc.SyncTimesheetItemConnectTask(context.Background(), caller, TimesheetItemInput{
		BoardID: "40", TimeEntry: LedgerRef{ID: "te-1"}, ItemMapping: map[string]any{},
		TaskID: "43", TaskColumnID: "task",
	})
	if err != nil {
		t.Fatalf("SyncTimesheetItemConnectTask: %v", err)
	}
	want := map[string]any{"task": map[string]any{"item_ids": []flexid.ID{"s1", "s7"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("values = %#v, want %#v", got, want)
	}
}

func TestUpdateTaskReportedTime_DropsPlaceholderName(t *testing.T) {
	f := newFixture()
	var got map[string]any
	f.board.ChangeColumnValuesFunc = func(ctx context.Context, token, boardID, itemID string, values map[string]any) error {
		got = values
		return nil
	}
	_, err := f.svc.UpdateTaskReportedTime(context.Background(), caller, ReportedTimeInput{
		BoardID: "11", ItemID: "s1", ItemMapping: map[string]any{"name": "New Item", "hours": 2.5},
	})
	if err != nil {
		t.Fatalf("UpdateTaskReportedTime: %v", err)
	}
	if _, ok := got["name"]; ok || got["hours"] != 2.5 {
		t.Errorf("values = %v", got)
	}
}

func TestUpdateSubitemReportedTime(t *testing.T) {
	f := newFixture()
	f.board.BoardColumnsFunc = func(ctx context.Context, token, boardID string) ([]monday.Column, error) {
		return []monday.Column{
			{ID: "numbers1", Title: "Hours"},
			{ID: "numbers2", Title: "Rounded Hours"},
			{ID: "text1", Title: "Latest Time"},
			{ID: "status", Title: "Status"},
		}, nil
	}
	var got map[string]any
	f.board.ChangeColumnValuesFunc = func(ctx context.Context, token, boardID, itemID string, values map[string]any) error {
		got = values
		return nil
	}

	_, err := f.svc.UpdateSubitemReportedTime(context.Background(), caller, SubitemReportedTimeInput{
		BoardID: "11", ItemID: "s1",
		ReportedTime: ReportedTime{Hours: 3, RoundedHours: 3.25, LatestTime: "2024-05-01"},
	})
	if err != nil {
		t.Fatalf("UpdateSubitemReportedTime: %v", err)
	}
	want := map[string]any{"numbers1": 3.0, "numbers2": 3.25, "text1": "2024-05-01"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("values = %v, want %v", got, want)
	}
}

func TestSyncExpenseItemWithFile(t *testing.T) {
	tests := []struct {
		name     string
		clearErr error
	}{
		{"clears then uploads", nil},
		{"upload runs when clearing fails", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.ledger.DownloadReceiptFunc = func(ctx context.Context, token, receiptURL string) ([]byte, error) {
				if receiptURL != "https://files.example.com/r.pdf" {
					t.Errorf("receipt url = %q", receiptURL)
				}
				return []byte("%PDF"), nil
			}
			var steps []string
			f.board.ChangeColumnValuesFunc = func(ctx context.Context, token, boardID, itemID string, values map[string]any) error {
				steps = append(steps, "clear")
				return tt.clearErr
			}
			f.board.UploadFileFunc = func(ctx context.Context, token, itemID, columnID, fileName string, content []byte) error {
				steps = append(steps, "upload:"+fileName+":"+columnID)
				return nil
			}

			_, err := f.svc.SyncExpenseItemWithFile(context.Background(), caller, ExpenseItemInput{
				BoardID: "12",
				Expense: ExpenseRef{ID: "3001", Receipt: &harvest.Receipt{URL: "https://files.example.com/r.pdf", FileName: "r.pdf"}},
				ItemMapping:  map[string]any{"name": "Taxi"},
				FileColumnID: "files",
			})
			if err != nil {
				t.Fatalf("SyncExpenseItemWithFile: %v", err)
			}
			if fmt.Sprint(steps) != "[clear upload:r.pdf:files]" {
				t.Errorf("steps = %v", steps)
			}
		})
	}
}

func TestSyncExpenseItemWithFile_NoReceipt(t *testing.T) {
	f := newFixture()
	f.board.UploadFileFunc = func(ctx context.Context, token, itemID, columnID, fileName string, content []byte) error {
		t.Error("UploadFile should not be called")
		return nil
	}
	_, err := f.svc.SyncExpenseItemWithFile(context.Background(), caller, ExpenseItemInput{
		BoardID: "12", Expense: ExpenseRef{ID: "3001"}, FileColumnID: "files",
	})
	if err != nil {
		t.Fatalf("SyncExpenseItemWithFile: %v", err)
	}
}
