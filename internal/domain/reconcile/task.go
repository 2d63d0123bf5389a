package reconcile

import (
	"context"
	"fmt"
	"log"

	"harvestsync/internal/domain/mapping"
)

// ReconcileTaskConnectedProject assigns the item, as a task, to the project
// reached through the board-relation column. The project must already be
// linked.
func (s *Service) ReconcileTaskConnectedProject(ctx context.Context, c Caller, in TaskInput) (*Outcome, error) {
	m := s.msgs.TaskFailed
	name := in.Task.String("name")
	if name == "" {
		return nil, invalid(s.msgs.TaskNameMissing)
	}
	if in.ProjectColumnID == "" {
		return nil, invalid(s.msgs.TaskProjectColumnMissing)
	}
	ctx = ledgerContext(ctx, c)

	item, err := s.board.ItemColumnValues(ctx, c.BoardToken, in.ItemID.String(), in.ProjectColumnID)
	if err != nil {
		log.Printf("Account %s: failed to read project column %s of item %s: %v", c.AccountID, in.ProjectColumnID, in.ItemID, err)
		return nil, lookupFailure(s.msgs.TaskProjectLookupFailed, err)
	}
	if item == nil {
		return nil, invalid(s.msgs.TaskProjectNotFound)
	}
	linked, ok := item.FirstLinkedItem()
	if !ok {
		return nil, invalid(s.msgs.TaskProjectNotFound)
	}

	project, err := s.links.FindLink(ctx, mapping.KindProject, c.AccountID, linked.Board.ID.String(), linked.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to find project link: %w", err)
	}
	if project == nil {
		return nil, invalid(s.msgs.TaskProjectNotFound)
	}

	options := in.Task.payload("name")

	assignments, err := s.assignments.ListTaskAssignments(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task assignments: %w", err)
	}
	key := mapping.ItemKey(in.BoardID.String(), in.ItemID.String())
	for _, a := range assignments {
		if a.Key() != key {
			continue
		}
		if err := s.updateTaskAssignment(ctx, c, project, a, name, options); err != nil {
			return nil, failure(m, err)
		}
		log.Printf("Account %s: updated task %s on project %s", c.AccountID, a.LedgerTaskID, project.LedgerID)
		return &Outcome{Message: msgCompleted}, nil
	}

	task, err := s.newTaskResolver(c.AccountID, c.LedgerToken).resolve(ctx, name)
	if err != nil {
		return nil, failure(m, err)
	}
	ta, err := s.assignTask(ctx, c.LedgerToken, project.LedgerID, task.TaskID, options)
	if err != nil {
		return nil, failure(m, err)
	}
	_, err = s.assignments.CreateTaskAssignment(ctx, mapping.CreateTaskAssignmentParams{
		ProjectItemID:    project.ID,
		TaskRowID:        task.ID,
		AccountID:        c.AccountID,
		BoardID:          in.BoardID.String(),
		ItemID:           in.ItemID.String(),
		TaskAssignmentID: ta.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store task assignment: %w", err)
	}

	log.Printf("Account %s: assigned task %s to project %s from item %s", c.AccountID, task.TaskID, project.LedgerID, in.ItemID)
	return &Outcome{Message: msgCompleted}, nil
}

// updateTaskAssignment refreshes an assignment the item already has. Rows
// stored before the ledger assignment id was known are backfilled first.
func (s *Service) updateTaskAssignment(ctx context.Context, c Caller, project *mapping.Link, a *mapping.TaskAssignment, name string, options map[string]any) error {
	if a.TaskAssignmentID == "" {
		ta, err := s.findLedgerTaskAssignment(ctx, c.LedgerToken, project.LedgerID, a.LedgerTaskID)
		if err != nil {
			return err
		}
		if ta != nil {
			a.TaskAssignmentID = ta.ID.String()
			if err := s.assignments.UpdateTaskAssignment(ctx, a); err != nil {
				return fmt.Errorf("failed to backfill task assignment id: %w", err)
			}
		}
	}

	if err := s.renameTask(ctx, c, a, name); err != nil {
		return err
	}

	if a.TaskAssignmentID == "" {
		return nil
	}
	_, err := s.ledger.UpdateTaskAssignment(ctx, c.LedgerToken, project.LedgerID, a.TaskAssignmentID, options)
	return err
}
