package propagation

import (
	"context"
	"log"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/domain/reconcile"
	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/infrastructure/harvest"
)

// reportedTimeLayout matches the board's ISO input so the task-time actions
// convert it back to a board date-time.
const reportedTimeLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *Service) runTimeEntries(ctx context.Context, c *cycle, o *owner) error {
	entries, err := s.pollTimeEntries(ctx, s.newLimiter(), o.token, updatedSince(c.since))
	if err != nil {
		return err
	}
	c.count(func(r *CycleResult) { r.Records += len(entries) })
	recordTotal.Add(ctx, int64(len(entries)), metric.WithAttributes(attribute.String("family", string(c.family))))

	var deliveries []delivery
	for i := range entries {
		e := &entries[i]
		fields := map[string]any{
			"timeEntry": s.reshapeTimeEntry(ctx, c, o, e),
			"taskId":    e.Task.ID,
		}
		for _, sub := range o.subs {
			if !s.wantsTimeEntry(ctx, c, sub, e) {
				continue
			}
			deliveries = append(deliveries, delivery{target: sub, fields: fields})
		}
	}
	s.deliverAll(ctx, c, deliveries)
	return nil
}

// wantsTimeEntry applies the event filter and, for project-board
// subscriptions, requires the entry's project to be linked on that board.
func (s *Service) wantsTimeEntry(ctx context.Context, c *cycle, sub *subscription.Target, e *harvest.TimeEntry) bool {
	switch sub.WebhookEvent {
	case subscription.EventTimeEntryUpdated:
		return true
	case subscription.EventTimeEntryUpdatedProjectBoard:
	default:
		return false
	}

	sc, err := sub.ParseContext()
	if err != nil || sc.ProjectBoardID.IsZero() {
		log.Printf("Propagation %s: subscription %s has no project board, skipped", c.family, sub.ID)
		c.count(func(r *CycleResult) { r.Skipped++ })
		return false
	}

	link, err := s.links.FindLinkByCounterpart(ctx, mapping.KindProject, sub.AccountID, sc.ProjectBoardID.String(), e.Project.ID.String())
	if err != nil {
		log.Printf("Propagation %s: failed to find project %s on board %s: %v", c.family, e.Project.ID, sc.ProjectBoardID, err)
		c.count(func(r *CycleResult) { r.Skipped++ })
		return false
	}
	if link == nil {
		c.count(func(r *CycleResult) { r.Skipped++ })
		return false
	}
	return true
}

// reshapeTimeEntry flattens the entry for the board: nested references
// become their display names and the acting user gains an email identifier.
func (s *Service) reshapeTimeEntry(ctx context.Context, c *cycle, o *owner, e *harvest.TimeEntry) map[string]any {
	obj := copyFields(e.Fields)
	if e.Fields == nil {
		obj["id"] = e.ID
		obj["spent_date"] = e.SpentDate
		obj["hours"] = e.Hours
		obj["hours_without_timer"] = e.HoursWithoutTimer
		obj["rounded_hours"] = e.RoundedHours
		obj["notes"] = e.Notes
	}
	for _, k := range []string{"user", "client", "project", "task", "user_assignment", "task_assignment"} {
		delete(obj, k)
	}

	obj["client"] = e.Client.Name
	obj["project"] = e.Project.Name
	obj["project_code"] = e.Project.Code
	obj["task"] = e.Task.Name
	obj["user_name"] = e.User.Name
	s.addUserEmail(ctx, c, o, obj, e.User.ID.String())
	return obj
}

func (s *Service) runExpenses(ctx context.Context, c *cycle, o *owner) error {
	expenses, err := s.pollExpenses(ctx, s.newLimiter(), o.token, updatedSince(c.since))
	if err != nil {
		return err
	}
	c.count(func(r *CycleResult) { r.Records += len(expenses) })
	recordTotal.Add(ctx, int64(len(expenses)), metric.WithAttributes(attribute.String("family", string(c.family))))

	var deliveries []delivery
	for i := range expenses {
		fields := map[string]any{"expense": s.reshapeExpense(ctx, c, o, &expenses[i])}
		for _, sub := range o.subs {
			if sub.WebhookEvent != subscription.EventExpenseUpdated {
				continue
			}
			deliveries = append(deliveries, delivery{target: sub, fields: fields})
		}
	}
	s.deliverAll(ctx, c, deliveries)
	return nil
}

// reshapeExpense flattens the expense like reshapeTimeEntry. The receipt and
// invoice objects are kept; the item sync reads the receipt.
func (s *Service) reshapeExpense(ctx context.Context, c *cycle, o *owner, e *harvest.Expense) map[string]any {
	obj := copyFields(e.Fields)
	if e.Fields == nil {
		obj["id"] = e.ID
		obj["spent_date"] = e.SpentDate
		obj["total_cost"] = e.TotalCost
		obj["billable"] = e.Billable
		obj["notes"] = e.Notes
		if e.Receipt != nil {
			obj["receipt"] = e.Receipt
		}
	}
	for _, k := range []string{"user", "client", "project", "task", "expense_category", "user_assignment"} {
		delete(obj, k)
	}

	if e.Client != nil {
		obj["client"] = e.Client.Name
	}
	if e.Project != nil {
		obj["project"] = e.Project.Name
		obj["project_code"] = e.Project.Code
	}
	if e.Task != nil {
		obj["task"] = e.Task.Name
	}
	if e.ExpenseCategory != nil {
		obj["category"] = e.ExpenseCategory.Name
	}
	if e.Invoice != nil {
		obj["invoice_number"] = e.Invoice.Number
	}
	obj["user_name"] = e.User.Name
	s.addUserEmail(ctx, c, o, obj, e.User.ID.String())
	return obj
}

func (s *Service) addUserEmail(ctx context.Context, c *cycle, o *owner, obj map[string]any, userID string) {
	if userID == "" {
		return
	}
	email, err := c.emails.lookup(ctx, o.id, o.token, userID)
	if err != nil {
		log.Printf("Propagation %s: failed to fetch ledger user %s: %v", c.family, userID, err)
		return
	}
	if email == "" {
		return
	}
	obj["user_emails"] = map[string]any{"identifierType": "email", "identifierValue": []string{email}}
}

func copyFields(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+6)
	for k, v := range src {
		out[k] = v
	}
	return out
}

type projectTask struct {
	projectID string
	taskID    string
}

// runTaskTime recomputes reported time for every (project, task) pair that
// changed recently and is mapped to a board item.
func (s *Service) runTaskTime(ctx context.Context, c *cycle, o *owner) error {
	limiter := s.newLimiter()
	entries, err := s.pollTimeEntries(ctx, limiter, o.token, updatedSince(c.since))
	if err != nil {
		return err
	}
	c.count(func(r *CycleResult) { r.Records += len(entries) })
	recordTotal.Add(ctx, int64(len(entries)), metric.WithAttributes(attribute.String("family", string(c.family))))

	var pairs []projectTask
	seen := make(map[projectTask]bool)
	for _, e := range entries {
		p := projectTask{projectID: e.Project.ID.String(), taskID: e.Task.ID.String()}
		if p.projectID == "" || p.taskID == "" || seen[p] {
			continue
		}
		seen[p] = true
		pairs = append(pairs, p)
	}

	accountID := o.subs[0].AccountID
	var deliveries []delivery
	for _, p := range pairs {
		assignments, err := s.assignments.FindTaskAssignmentsByLedgerIDs(ctx, accountID, p.projectID, p.taskID)
		if err != nil {
			log.Printf("Propagation %s: failed to find assignments for project %s task %s: %v", c.family, p.projectID, p.taskID, err)
			continue
		}
		if len(assignments) == 0 {
			continue
		}

		all, err := s.pollTimeEntries(ctx, limiter, o.token, url.Values{"project_id": {p.projectID}, "task_id": {p.taskID}})
		if err != nil {
			log.Printf("Propagation %s: failed to read time for project %s task %s: %v", c.family, p.projectID, p.taskID, err)
			continue
		}
		reported := reportedTime(all)

		for _, a := range assignments {
			fields := map[string]any{
				"taskId":       p.taskID,
				"projectId":    p.projectID,
				"reportedTime": reported,
				"boardId":      a.BoardID,
				"itemId":       a.ItemID,
				"subItemId":    a.ItemID,
				"subBoardId":   a.BoardID,
			}
			for _, sub := range o.subs {
				sc, err := sub.ParseContext()
				if err != nil || !sc.MatchesBoard(a.BoardID) {
					continue
				}
				deliveries = append(deliveries, delivery{target: sub, fields: fields})
			}
		}
	}
	s.deliverAll(ctx, c, deliveries)
	return nil
}

// reportedTime totals the entries of one (project, task) pair. Earliest and
// latest come from the spent dates.
func reportedTime(entries []harvest.TimeEntry) reconcile.ReportedTime {
	var rt reconcile.ReportedTime
	var earliest, latest time.Time
	for _, e := range entries {
		rt.Hours += e.Hours
		rt.HoursWithoutTimer += e.HoursWithoutTimer
		rt.RoundedHours += e.RoundedHours

		day, err := time.Parse(time.DateOnly, e.SpentDate)
		if err != nil {
			continue
		}
		if earliest.IsZero() || day.Before(earliest) {
			earliest = day
		}
		if latest.IsZero() || day.After(latest) {
			latest = day
		}
	}
	if !earliest.IsZero() {
		rt.EarliestTime = earliest.Format(reportedTimeLayout)
		rt.LatestTime = latest.Format(reportedTimeLayout)
	}
	return rt
}
