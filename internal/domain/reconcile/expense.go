package reconcile

import (
	"context"
	"fmt"
	"log"

	"harvestsync/internal/domain/mapping"
)

// expenseKeys are resolved to ledger ids rather than sent as-is.
var expenseKeys = []string{"category", "user", "users", "project"}

// ReconcileExpense creates or updates the ledger expense behind the item.
// The project comes from the board-relation column and must be linked.
func (s *Service) ReconcileExpense(ctx context.Context, c Caller, in ExpenseInput) (*Outcome, error) {
	m := s.msgs.ExpenseFailed
	f := in.Expense
	if f == nil {
		f = Fields{}
	}

	category := f.String("category")
	if category == "" {
		return nil, invalid(s.msgs.ExpenseCategoryMissing)
	}
	if f.String("spent_date") == "" {
		return nil, invalid(s.msgs.ExpenseSpentDateMissing)
	}
	if in.ProjectColumnID == "" {
		return nil, invalid(s.msgs.ExpenseProjectColumnMissing)
	}
	ctx = ledgerContext(ctx, c)

	item, err := s.board.ItemColumnValues(ctx, c.BoardToken, in.ItemID.String(), in.ProjectColumnID)
	if err != nil {
		log.Printf("Account %s: failed to read project column %s of item %s: %v", c.AccountID, in.ProjectColumnID, in.ItemID, err)
		return nil, lookupFailure(s.msgs.ExpenseProjectLookupFailed, err)
	}
	if item == nil {
		return nil, invalid(s.msgs.ExpenseProjectMissing)
	}
	linked, ok := item.FirstLinkedItem()
	if !ok {
		return nil, invalid(s.msgs.ExpenseProjectMissing)
	}

	project, err := s.links.FindLinkByItem(ctx, mapping.KindProject, c.AccountID, linked.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to find project link: %w", err)
	}
	if project == nil {
		return nil, invalid(s.msgs.ExpenseProjectNotSynced)
	}

	payload := f.payload(expenseKeys...)
	payload["project_id"] = project.LedgerID
	coerceBooleans(payload, expenseBooleans)

	cat, err := s.findExpenseCategory(ctx, c.LedgerToken, category)
	if err != nil {
		return nil, failure(m, err)
	}
	if cat == nil {
		return nil, invalid(s.msgs.ExpenseCategoryInvalid, category)
	}
	payload["expense_category_id"] = cat.ID

	if p, ok := parsePeople(f["user"]); ok {
		ids, err := s.findUsers(ctx, c.LedgerToken, p, 1)
		if err != nil {
			return nil, failure(m, err)
		}
		if len(ids) > 0 {
			payload["user_id"] = ids[0]
		}
	}

	boardID, itemID := in.BoardID.String(), in.ItemID.String()
	link, err := s.links.FindLink(ctx, mapping.KindExpense, c.AccountID, boardID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to find expense link: %w", err)
	}
	if link != nil {
		if _, err := s.ledger.UpdateExpense(ctx, c.LedgerToken, link.LedgerID, payload); err != nil {
			return nil, failure(m, err)
		}
		log.Printf("Account %s: updated expense %s from item %s", c.AccountID, link.LedgerID, itemID)
		return &Outcome{Message: msgCompleted}, nil
	}

	created, err := s.ledger.CreateExpense(ctx, c.LedgerToken, payload)
	if err != nil {
		return nil, failure(m, err)
	}
	if err := s.linkItem(ctx, mapping.KindExpense, c.AccountID, boardID, itemID, created.ID.String()); err != nil {
		return nil, err
	}

	log.Printf("Account %s: created expense %s from item %s", c.AccountID, created.ID, itemID)
	return &Outcome{Message: msgCompleted}, nil
}
