package reconcile

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/infrastructure/monday"
	"harvestsync/internal/shared/flexid"
	"harvestsync/internal/shared/messages"
)

const (
	groupKey = "__groupId__"

	defaultTimeEntryName = "New Time Entry"
	defaultExpenseName   = "New Expense"
	boardDateTimeLayout  = "2006-01-02 15:04:05"
)

var isoTimestamp = regexp.MustCompile(`^\d{4}-[01]\d-[0-3]\dT[0-2]\d:[0-5]\d:[0-5]\d\.\d+([+-][0-2]\d:[0-5]\d|Z)$`)

// columnMapping is an itemMapping block after the board transforms.
type columnMapping struct {
	groupID string
	values  map[string]any
}

// boardDateTime rewrites an ISO timestamp with fractional seconds into the
// board's UTC date-time format.
func boardDateTime(s string) (string, bool) {
	if !isoTimestamp.MatchString(s) {
		return s, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s, false
	}
	return t.UTC().Format(boardDateTimeLayout), true
}

// tagList turns ";a;b;" into "a,b". Text without a segment enclosed in
// semicolons is returned unchanged.
func tagList(s string) (string, bool) {
	parts := strings.Split(s, ";")
	if len(parts) < 3 {
		return s, false
	}
	var tags []string
	for _, p := range parts[1 : len(parts)-1] {
		if p != "" {
			tags = append(tags, p)
		}
	}
	if len(tags) == 0 {
		return s, false
	}
	return strings.Join(tags, ","), true
}

// prepareMapping splits off the group and applies the date transform and,
// when full is set, the tag, boolean and person transforms. The input map
// is not modified.
func (s *Service) prepareMapping(ctx context.Context, c Caller, raw map[string]any, full bool) (*columnMapping, error) {
	out := &columnMapping{values: make(map[string]any, len(raw))}
	var users []monday.User
	usersLoaded := false

	for column, v := range raw {
		if column == groupKey {
			out.groupID = textOf(v)
			continue
		}

		switch t := v.(type) {
		case string:
			if iso, ok := boardDateTime(t); ok {
				v = iso
				break
			}
			if !full {
				break
			}
			if tags, ok := tagList(t); ok {
				v = tags
			}
		case bool:
			if full {
				if t {
					v = "True"
				} else {
					v = "False"
				}
			}
		case map[string]any:
			if !full || t["identifierType"] != "email" {
				break
			}
			list, _ := t["identifierValue"].([]any)
			if len(list) == 0 {
				break
			}
			if !usersLoaded {
				var err error
				users, err = s.board.Users(ctx, c.BoardToken)
				if err != nil {
					return nil, err
				}
				usersLoaded = true
			}
			email := textOf(list[0])
			for _, u := range users {
				if u.Email == email {
					v = map[string]any{"personsAndTeams": []map[string]any{{"id": u.ID, "kind": "person"}}}
					break
				}
			}
		}
		out.values[column] = v
	}
	return out, nil
}

// upsertItem creates a board item for ledgerID on boardID, or updates the
// item already linked to it.
func (s *Service) upsertItem(ctx context.Context, c Caller, kind mapping.Kind, boardID, ledgerID, defaultName string, cm *columnMapping, createMsg, updateMsg messages.MessageText) (string, error) {
	link, err := s.links.FindLinkByCounterpart(ctx, kind, c.AccountID, boardID, ledgerID)
	if err != nil {
		return "", fmt.Errorf("failed to find %s link: %w", kind, err)
	}

	if link != nil {
		if err := s.board.ChangeColumnValues(ctx, c.BoardToken, boardID, link.ItemID, cm.values); err != nil {
			log.Printf("Account %s: failed to update item %s for %s %s: %v", c.AccountID, link.ItemID, kind, ledgerID, err)
			return "", failure(updateMsg, err)
		}
		log.Printf("Account %s: updated item %s for %s %s", c.AccountID, link.ItemID, kind, ledgerID)
		return link.ItemID, nil
	}

	values := make(map[string]any, len(cm.values))
	for k, v := range cm.values {
		values[k] = v
	}
	name := textOf(values["name"])
	if name == "" {
		name = defaultName
	}
	delete(values, "name")

	itemID, err := s.board.CreateItem(ctx, c.BoardToken, boardID, cm.groupID, name, values)
	if err != nil {
		log.Printf("Account %s: failed to create item for %s %s: %v", c.AccountID, kind, ledgerID, err)
		return "", failure(createMsg, err)
	}
	if err := s.linkItem(ctx, kind, c.AccountID, boardID, itemID, ledgerID); err != nil {
		return "", err
	}

	log.Printf("Account %s: created item %s for %s %s", c.AccountID, itemID, kind, ledgerID)
	return itemID, nil
}

// SyncTimesheetItem upserts the board item mirroring a ledger time entry.
func (s *Service) SyncTimesheetItem(ctx context.Context, c Caller, in TimesheetItemInput) (*Outcome, error) {
	if _, err := s.syncTimesheetItem(ctx, c, in); err != nil {
		return nil, err
	}
	return &Outcome{Message: msgSuccess}, nil
}

func (s *Service) syncTimesheetItem(ctx context.Context, c Caller, in TimesheetItemInput) (string, error) {
	if in.TimeEntry.ID.IsZero() {
		return "", invalid(s.msgs.TimeEntryCreateFailed, "time entry id is missing")
	}
	cm, err := s.prepareMapping(ctx, c, in.ItemMapping, true)
	if err != nil {
		return "", failure(s.msgs.TimeEntryCreateFailed, err)
	}
	return s.upsertItem(ctx, c, mapping.KindTimesheet, in.BoardID.String(), in.TimeEntry.ID.String(),
		defaultTimeEntryName, cm, s.msgs.TimeEntryCreateFailed, s.msgs.TimeEntryUpdateFailed)
}

// SyncTimesheetItemConnectTask upserts the time entry item, then points its
// task column at every item mapped to the entry's ledger task on the boards
// that column connects.
func (s *Service) SyncTimesheetItemConnectTask(ctx context.Context, c Caller, in TimesheetItemInput) (*Outcome, error) {
	itemID, err := s.syncTimesheetItem(ctx, c, in)
	if err != nil {
		return nil, err
	}

	if in.TaskID.IsZero() || in.TaskColumnID == "" {
		log.Printf("Account %s: no task sent for time entry %s, item %s left unconnected", c.AccountID, in.TimeEntry.ID, itemID)
		return &Outcome{Message: msgSuccess}, nil
	}

	boardID := in.BoardID.String()
	col, err := s.board.Column(ctx, c.BoardToken, boardID, in.TaskColumnID)
	if err != nil {
		return nil, failure(s.msgs.TimeEntryTaskConnectFailed, err)
	}
	var boardIDs []string
	if col != nil {
		settings, err := col.Settings()
		if err != nil {
			return nil, failure(s.msgs.TimeEntryTaskConnectFailed, err)
		}
		for _, id := range settings.BoardIDs {
			boardIDs = append(boardIDs, id.String())
		}
	}

	assignments, err := s.assignments.ListTaskAssignmentsOnBoards(ctx, c.AccountID, in.TaskID.String(), boardIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list task items: %w", err)
	}
	if len(assignments) == 0 {
		log.Printf("Account %s: no task items found for task %s on boards %v", c.AccountID, in.TaskID, boardIDs)
		return &Outcome{Message: msgSuccess}, nil
	}

	itemIDs := make([]flexid.ID, 0, len(assignments))
	for _, a := range assignments {
		itemIDs = append(itemIDs, flexid.ID(a.ItemID))
	}
	values := map[string]any{in.TaskColumnID: map[string]any{"item_ids": itemIDs}}
	if err := s.board.ChangeColumnValues(ctx, c.BoardToken, boardID, itemID, values); err != nil {
		return nil, failure(s.msgs.TimeEntryUpdateFailed, err)
	}

	log.Printf("Account %s: connected item %s to %d task items", c.AccountID, itemID, len(itemIDs))
	return &Outcome{Message: msgSuccess}, nil
}

// UpdateTaskReportedTime writes the mapped reported-time columns onto the
// task item.
func (s *Service) UpdateTaskReportedTime(ctx context.Context, c Caller, in ReportedTimeInput) (*Outcome, error) {
	cm, err := s.prepareMapping(ctx, c, in.ItemMapping, false)
	if err != nil {
		return nil, failure(s.msgs.ReportedTimeFailed, err)
	}
	if strings.EqualFold(textOf(cm.values["name"]), "new item") {
		delete(cm.values, "name")
	}

	if err := s.board.ChangeColumnValues(ctx, c.BoardToken, in.BoardID.String(), in.ItemID.String(), cm.values); err != nil {
		log.Printf("Account %s: failed to write reported time to item %s: %v", c.AccountID, in.ItemID, err)
		return nil, failure(s.msgs.ReportedTimeFailed, err)
	}
	return &Outcome{Message: msgSuccess}, nil
}

// reportedTimeColumns maps lower-cased column titles to the reported value.
func reportedTimeColumns(rt ReportedTime) map[string]any {
	return map[string]any{
		"hours":               rt.Hours,
		"hours without timer": rt.HoursWithoutTimer,
		"rounded hours":       rt.RoundedHours,
		"earliest time":       rt.EarliestTime,
		"latest time":         rt.LatestTime,
	}
}

// UpdateSubitemReportedTime writes reported time into the subitem columns
// whose titles name the reported values.
func (s *Service) UpdateSubitemReportedTime(ctx context.Context, c Caller, in SubitemReportedTimeInput) (*Outcome, error) {
	boardID := in.BoardID.String()
	columns, err := s.board.BoardColumns(ctx, c.BoardToken, boardID)
	if err != nil {
		return nil, failure(s.msgs.ReportedTimeFailed, err)
	}

	byTitle := reportedTimeColumns(in.ReportedTime)
	values := make(map[string]any)
	for _, col := range columns {
		if v, ok := byTitle[strings.ToLower(col.Title)]; ok {
			values[col.ID] = v
		}
	}

	if err := s.board.ChangeColumnValues(ctx, c.BoardToken, boardID, in.ItemID.String(), values); err != nil {
		log.Printf("Account %s: failed to write reported time to subitem %s: %v", c.AccountID, in.ItemID, err)
		return nil, failure(s.msgs.ReportedTimeFailed, err)
	}
	return &Outcome{Message: msgSuccess}, nil
}

func (s *Service) syncExpenseItem(ctx context.Context, c Caller, in ExpenseItemInput) (string, error) {
	m := s.msgs.ExpenseItemFailed
	if in.Expense.ID.IsZero() {
		return "", invalid(m, "expense id is missing")
	}
	cm, err := s.prepareMapping(ctx, c, in.ItemMapping, true)
	if err != nil {
		return "", failure(m, err)
	}
	return s.upsertItem(ctx, c, mapping.KindExpense, in.BoardID.String(), in.Expense.ID.String(),
		defaultExpenseName, cm, m, m)
}

// SyncExpenseItem upserts the board item mirroring a ledger expense.
func (s *Service) SyncExpenseItem(ctx context.Context, c Caller, in ExpenseItemInput) (*Outcome, error) {
	if _, err := s.syncExpenseItem(ctx, c, in); err != nil {
		return nil, err
	}
	return &Outcome{Message: msgSuccess}, nil
}

// SyncExpenseItemWithFile upserts the expense item and replaces the file
// column's content with the expense receipt.
func (s *Service) SyncExpenseItemWithFile(ctx context.Context, c Caller, in ExpenseItemInput) (*Outcome, error) {
	itemID, err := s.syncExpenseItem(ctx, c, in)
	if err != nil {
		return nil, err
	}

	receipt := in.Expense.Receipt
	if receipt == nil || receipt.URL == "" || in.FileColumnID == "" {
		return &Outcome{Message: msgSuccess}, nil
	}
	m := s.msgs.ReceiptUploadFailed

	content, err := s.ledger.DownloadReceipt(ledgerContext(ctx, c), c.LedgerToken, receipt.URL)
	if err != nil {
		return nil, failure(m, err)
	}

	boardID := in.BoardID.String()
	reset := map[string]any{in.FileColumnID: map[string]any{"clear_all": true}}
	if err := s.board.ChangeColumnValues(ctx, c.BoardToken, boardID, itemID, reset); err != nil {
		// best effort; the upload still runs
		log.Printf("Account %s: failed to clear file column %s on item %s: %v", c.AccountID, in.FileColumnID, itemID, err)
	}

	fileName := receipt.FileName
	if fileName == "" {
		fileName = "receipt"
	}
	if err := s.board.UploadFile(ctx, c.BoardToken, itemID, in.FileColumnID, fileName, content); err != nil {
		log.Printf("Account %s: failed to upload receipt to item %s: %v", c.AccountID, itemID, err)
		return nil, failure(m, err)
	}

	log.Printf("Account %s: uploaded receipt %q to item %s", c.AccountID, fileName, itemID)
	return &Outcome{Message: msgSuccess}, nil
}
