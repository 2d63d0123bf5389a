package reconcile

import (
	"context"
	"fmt"
	"log"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/infrastructure/harvest"
)

// projectKeys are consumed by the engine and never sent to the ledger.
var projectKeys = []string{"users", "tasks", "client"}

// ReconcileProjectConnectedClient resolves the client from the board-relation
// column, then reconciles the project.
func (s *Service) ReconcileProjectConnectedClient(ctx context.Context, c Caller, in ProjectInput) (*Outcome, error) {
	if in.ClientColumnID == "" {
		return nil, invalid(s.msgs.ProjectClientColumnMissing)
	}
	ctx = ledgerContext(ctx, c)

	item, err := s.board.ItemColumnValues(ctx, c.BoardToken, in.ItemID.String(), in.ClientColumnID)
	if err != nil {
		log.Printf("Account %s: failed to read client column %s of item %s: %v", c.AccountID, in.ClientColumnID, in.ItemID, err)
		return nil, lookupFailure(s.msgs.ProjectClientLookupFailed, err)
	}
	if item == nil {
		return nil, invalid(s.msgs.ProjectClientNameMissing)
	}
	linked, ok := item.FirstLinkedItem()
	if !ok {
		return nil, invalid(s.msgs.ProjectClientNameMissing)
	}

	clientID, err := s.resolveConnectedClient(ctx, c, linked)
	if err != nil {
		return nil, err
	}
	return s.reconcileProject(ctx, c, in, clientID, nil)
}

// ReconcileProjectConnectedClientSubitemTasks is the connected-client variant
// whose subitems are the project's tasks.
func (s *Service) ReconcileProjectConnectedClientSubitemTasks(ctx context.Context, c Caller, in ProjectInput) (*Outcome, error) {
	if in.ClientColumnID == "" {
		return nil, invalid(s.msgs.ProjectClientColumnMissing)
	}
	ctx = ledgerContext(ctx, c)

	item, err := s.board.ItemColumnValues(ctx, c.BoardToken, in.ItemID.String(), in.ClientColumnID)
	if err != nil {
		log.Printf("Account %s: failed to read item %s: %v", c.AccountID, in.ItemID, err)
		return nil, lookupFailure(s.msgs.ProjectItemLookupFailed, err)
	}
	if item == nil {
		return nil, invalid(s.msgs.ProjectClientNameMissing)
	}
	linked, ok := item.FirstLinkedItem()
	if !ok {
		return nil, invalid(s.msgs.ProjectClientNameMissing)
	}

	clientID, err := s.resolveConnectedClient(ctx, c, linked)
	if err != nil {
		return nil, err
	}

	tasks := make([]taskRef, 0, len(item.Subitems))
	for _, sub := range item.Subitems {
		tasks = append(tasks, taskRef{Name: sub.Name, BoardID: sub.Board.ID.String(), ItemID: sub.ID.String()})
	}
	return s.reconcileProject(ctx, c, in, clientID, tasks)
}

// ReconcileProjectMappedClient takes the client name from the mapped
// project.client field.
func (s *Service) ReconcileProjectMappedClient(ctx context.Context, c Caller, in ProjectInput) (*Outcome, error) {
	name := in.Project.String("client")
	if name == "" {
		return nil, invalid(s.msgs.ProjectMappedClientMissing)
	}
	ctx = ledgerContext(ctx, c)

	clientID, err := s.resolveClientByName(ctx, c, name, in.BoardID.String(), in.ItemID.String())
	if err != nil {
		return nil, err
	}
	return s.reconcileProject(ctx, c, in, clientID, nil)
}

// validateProject normalizes the project fields in place. The checks run in
// the order the board user sees them.
func (s *Service) validateProject(f Fields) error {
	if f.String("name") == "" {
		return invalid(s.msgs.ProjectNameMissing)
	}

	budget, ok := normalizeBudgetBy(f.String("budget_by"))
	if !ok {
		return invalid(s.msgs.ProjectBudgetByInvalid)
	}
	f["budget_by"] = budget

	label := f.String("bill_by")
	if label == "" {
		return invalid(s.msgs.ProjectBillByMissing)
	}
	bill, ok := normalizeBillBy(label)
	if !ok {
		return invalid(s.msgs.ProjectBillByInvalid)
	}
	f["bill_by"] = bill

	coerceBooleans(f, projectBooleans)
	return nil
}

// reconcileProject links the item to a ledger project under clientID, then
// reconciles the project's user and task assignments. A nil tasks leaves
// task assignments alone.
func (s *Service) reconcileProject(ctx context.Context, c Caller, in ProjectInput, clientID string, tasks []taskRef) (*Outcome, error) {
	m := s.msgs.ProjectFailed
	f := Fields(in.Project.payload())
	if err := s.validateProject(f); err != nil {
		return nil, err
	}
	f["client_id"] = clientID
	name := f.String("name")
	payload := f.payload(projectKeys...)

	boardID, itemID := in.BoardID.String(), in.ItemID.String()
	link, err := s.links.FindLink(ctx, mapping.KindProject, c.AccountID, boardID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to find project link: %w", err)
	}

	if link != nil {
		if _, err := s.ledger.UpdateProject(ctx, c.LedgerToken, link.LedgerID, payload); err != nil {
			return nil, failure(m, err)
		}
		log.Printf("Account %s: updated project %s from item %s", c.AccountID, link.LedgerID, itemID)
	} else {
		project, err := s.findOrCreateProject(ctx, c, clientID, name, payload)
		if err != nil {
			return nil, failure(m, err)
		}
		link, err = s.links.CreateLink(ctx, mapping.KindProject, mapping.CreateLinkParams{
			AccountID: c.AccountID,
			BoardID:   boardID,
			ItemID:    itemID,
			LedgerID:  project.ID.String(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to link project item %s: %w", itemID, err)
		}
	}

	if p, ok := parsePeople(f["users"]); ok {
		if err := s.reconcileProjectUsers(ctx, c, link, p); err != nil {
			return nil, failure(m, err)
		}
	}
	if len(tasks) > 0 {
		if err := s.reconcileProjectTasks(ctx, c, link, tasks); err != nil {
			return nil, failure(m, err)
		}
	}

	return &Outcome{Message: msgCompleted}, nil
}

// findOrCreateProject matches by name within the client before creating.
// A create refused for a duplicate name falls back to a search across every
// client; the match is moved under clientID by the update.
func (s *Service) findOrCreateProject(ctx context.Context, c Caller, clientID, name string, payload map[string]any) (*harvest.Project, error) {
	existing, err := s.findProjectByName(ctx, c.LedgerToken, clientID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if _, err := s.ledger.UpdateProject(ctx, c.LedgerToken, existing.ID.String(), payload); err != nil {
			return nil, err
		}
		log.Printf("Account %s: synced existing project %s (%q)", c.AccountID, existing.ID, name)
		return existing, nil
	}

	created, err := s.ledger.CreateProject(ctx, c.LedgerToken, payload)
	if err == nil {
		log.Printf("Account %s: created project %s (%q)", c.AccountID, created.ID, name)
		return created, nil
	}
	if !harvest.IsDuplicateName(err) {
		return nil, err
	}

	existing, findErr := s.findProjectByName(ctx, c.LedgerToken, "", name)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, err
	}
	if _, err := s.ledger.UpdateProject(ctx, c.LedgerToken, existing.ID.String(), payload); err != nil {
		return nil, err
	}
	log.Printf("Account %s: linked project %s after duplicate name %q", c.AccountID, existing.ID, name)
	return existing, nil
}

// reconcileProjectUsers makes the project's user assignments equal the
// resolved people. An empty resolution changes nothing.
func (s *Service) reconcileProjectUsers(ctx context.Context, c Caller, link *mapping.Link, p people) error {
	desired, err := s.findUsers(ctx, c.LedgerToken, p, 0)
	if err != nil {
		return err
	}
	if len(desired) == 0 {
		log.Printf("Account %s: no ledger users matched for project %s, assignments left unchanged", c.AccountID, link.LedgerID)
		return nil
	}

	existing, err := s.assignments.ListUserAssignments(ctx, link.ID)
	if err != nil {
		return fmt.Errorf("failed to list user assignments: %w", err)
	}

	want := make(map[string]bool, len(desired))
	for _, id := range desired {
		want[id] = true
	}
	have := make(map[string]bool, len(existing))
	for _, a := range existing {
		have[a.LedgerUserID] = true
	}

	for _, id := range desired {
		if have[id] {
			continue
		}
		ua, err := s.ledger.AssignUser(ctx, c.LedgerToken, link.LedgerID, id)
		if err != nil {
			return err
		}
		if _, err := s.assignments.CreateUserAssignment(ctx, link.ID, id, ua.ID.String()); err != nil {
			return fmt.Errorf("failed to store user assignment: %w", err)
		}
	}

	for _, a := range existing {
		if want[a.LedgerUserID] {
			continue
		}
		if a.UserAssignmentID != "" {
			err := s.ledger.RemoveUserAssignment(ctx, c.LedgerToken, link.LedgerID, a.UserAssignmentID)
			if err != nil && !harvest.IsNotFound(err) {
				return err
			}
		}
		if err := s.assignments.DeleteUserAssignment(ctx, a.ID); err != nil {
			return fmt.Errorf("failed to delete user assignment: %w", err)
		}
	}
	return nil
}

// reconcileProjectTasks makes the project's task assignments equal tasks,
// keyed by board item.
func (s *Service) reconcileProjectTasks(ctx context.Context, c Caller, link *mapping.Link, tasks []taskRef) error {
	existing, err := s.assignments.ListTaskAssignments(ctx, link.ID)
	if err != nil {
		return fmt.Errorf("failed to list task assignments: %w", err)
	}
	byKey := make(map[string]*mapping.TaskAssignment, len(existing))
	for _, a := range existing {
		byKey[a.Key()] = a
	}

	resolver := s.newTaskResolver(c.AccountID, c.LedgerToken)
	want := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		key := mapping.ItemKey(t.BoardID, t.ItemID)
		want[key] = true

		if a, ok := byKey[key]; ok {
			if err := s.renameTask(ctx, c, a, t.Name); err != nil {
				return err
			}
			continue
		}

		task, err := resolver.resolve(ctx, t.Name)
		if err != nil {
			return err
		}
		ta, err := s.assignTask(ctx, c.LedgerToken, link.LedgerID, task.TaskID, nil)
		if err != nil {
			return err
		}
		_, err = s.assignments.CreateTaskAssignment(ctx, mapping.CreateTaskAssignmentParams{
			ProjectItemID:    link.ID,
			TaskRowID:        task.ID,
			AccountID:        c.AccountID,
			BoardID:          t.BoardID,
			ItemID:           t.ItemID,
			TaskAssignmentID: ta.ID.String(),
		})
		if err != nil {
			return fmt.Errorf("failed to store task assignment: %w", err)
		}
	}

	for _, a := range existing {
		if want[a.Key()] {
			continue
		}
		if a.TaskAssignmentID != "" {
			err := s.ledger.RemoveTaskAssignment(ctx, c.LedgerToken, link.LedgerID, a.TaskAssignmentID)
			if err != nil && !harvest.IsNotFound(err) {
				return err
			}
		}
		if err := s.assignments.DeleteTaskAssignment(ctx, a.ID); err != nil {
			return fmt.Errorf("failed to delete task assignment: %w", err)
		}
	}
	return nil
}

// renameTask pushes a changed task name to the ledger and the cache.
func (s *Service) renameTask(ctx context.Context, c Caller, a *mapping.TaskAssignment, name string) error {
	if name == "" || name == a.TaskName {
		return nil
	}
	if _, err := s.ledger.UpdateTask(ctx, c.LedgerToken, a.LedgerTaskID, map[string]any{"name": name}); err != nil {
		return err
	}
	if err := s.tasks.UpdateTaskName(ctx, a.TaskRowID, name); err != nil {
		return fmt.Errorf("failed to rename cached task: %w", err)
	}
	a.TaskName = name
	return nil
}
