// Package reconcile maps board items onto ledger entities: it finds the
// persisted link, falls back to a name match and creates the ledger entity
// only when nothing matches.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/infrastructure/monday"
	"harvestsync/internal/shared/messages"
)

// Service runs the inbound board actions. Remote calls within one action
// are sequential.
type Service struct {
	links       mapping.LinkRepository
	tasks       mapping.TaskRepository
	assignments mapping.AssignmentRepository
	ledger      harvest.ClientInterface
	board       monday.ClientInterface
	msgs        *messages.Messages
}

func NewService(
	links mapping.LinkRepository,
	tasks mapping.TaskRepository,
	assignments mapping.AssignmentRepository,
	ledger harvest.ClientInterface,
	board monday.ClientInterface,
	msgs *messages.Messages,
) *Service {
	if msgs == nil {
		msgs = messages.Default()
	}
	return &Service{
		links:       links,
		tasks:       tasks,
		assignments: assignments,
		ledger:      ledger,
		board:       board,
		msgs:        msgs,
	}
}

func (s *Service) Messages() *messages.Messages {
	return s.msgs
}

// ledgerContext scopes ledger requests to the caller's ledger account.
func ledgerContext(ctx context.Context, c Caller) context.Context {
	if c.LedgerAccountID == "" {
		return ctx
	}
	return harvest.WithAccountID(ctx, c.LedgerAccountID)
}

// findClientByName walks the client pages until a case-insensitive match.
func (s *Service) findClientByName(ctx context.Context, token, name string) (*harvest.Client, error) {
	cursor := ""
	for {
		page, err := s.ledger.ListClients(ctx, token, cursor)
		if err != nil {
			return nil, err
		}
		for i := range page.Items {
			if strings.EqualFold(page.Items[i].Name, name) {
				return &page.Items[i], nil
			}
		}
		if page.NextPage == "" {
			return nil, nil
		}
		cursor = page.NextPage
	}
}

// findProjectByName searches the projects of clientID, or every project when
// clientID is empty.
func (s *Service) findProjectByName(ctx context.Context, token, clientID, name string) (*harvest.Project, error) {
	var filter url.Values
	if clientID != "" {
		filter = url.Values{"client_id": {clientID}}
	}

	cursor := ""
	for {
		page, err := s.ledger.ListProjects(ctx, token, cursor, filter)
		if err != nil {
			return nil, err
		}
		for i := range page.Items {
			if strings.EqualFold(page.Items[i].Name, name) {
				return &page.Items[i], nil
			}
		}
		if page.NextPage == "" {
			return nil, nil
		}
		cursor = page.NextPage
	}
}

// findExpenseCategory matches the category name exactly.
func (s *Service) findExpenseCategory(ctx context.Context, token, name string) (*harvest.ExpenseCategory, error) {
	cursor := ""
	for {
		page, err := s.ledger.ListExpenseCategories(ctx, token, cursor)
		if err != nil {
			return nil, err
		}
		for i := range page.Items {
			if page.Items[i].Name == name {
				return &page.Items[i], nil
			}
		}
		if page.NextPage == "" {
			return nil, nil
		}
		cursor = page.NextPage
	}
}

// findUsers returns the ids of the ledger users matching p, stopping as soon
// as every wanted value has matched. limit > 0 caps the number of matches.
func (s *Service) findUsers(ctx context.Context, token string, p people, limit int) ([]string, error) {
	want := len(p.values)
	if limit > 0 && limit < want {
		want = limit
	}

	var ids []string
	seen := make(map[string]bool)
	cursor := ""
	for {
		page, err := s.ledger.ListUsers(ctx, token, cursor)
		if err != nil {
			return nil, err
		}
		for i := range page.Items {
			u := &page.Items[i]
			if !p.matches(u) || seen[u.ID.String()] {
				continue
			}
			seen[u.ID.String()] = true
			ids = append(ids, u.ID.String())
			if len(ids) == want {
				return ids, nil
			}
		}
		if page.NextPage == "" {
			return ids, nil
		}
		cursor = page.NextPage
	}
}

// findLedgerTaskAssignment finds the assignment of taskID on projectID.
func (s *Service) findLedgerTaskAssignment(ctx context.Context, token, projectID, taskID string) (*harvest.TaskAssignment, error) {
	cursor := ""
	for {
		page, err := s.ledger.ListTaskAssignments(ctx, token, projectID, cursor)
		if err != nil {
			return nil, err
		}
		for i := range page.Items {
			if page.Items[i].Task.ID.String() == taskID {
				return &page.Items[i], nil
			}
		}
		if page.NextPage == "" {
			return nil, nil
		}
		cursor = page.NextPage
	}
}

// assignTask assigns taskID to projectID. An assignment the ledger already
// holds is looked up instead.
func (s *Service) assignTask(ctx context.Context, token, projectID, taskID string, options map[string]any) (*harvest.TaskAssignment, error) {
	ta, err := s.ledger.AssignTask(ctx, token, projectID, taskID, options)
	if err == nil {
		return ta, nil
	}
	if !harvest.IsDuplicateName(err) {
		return nil, err
	}

	existing, findErr := s.findLedgerTaskAssignment(ctx, token, projectID, taskID)
	if findErr != nil {
		return nil, fmt.Errorf("failed to find existing task assignment: %w", findErr)
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

// taskResolver finds or creates ledger tasks by name for one action. The
// account cache is read once; ledger pages are fetched only as far as a
// match needs.
type taskResolver struct {
	s         *Service
	accountID string
	token     string

	cached     []*mapping.Task
	cacheReady bool

	ledgerTasks []harvest.Task
	cursor      string
	exhausted   bool
}

func (s *Service) newTaskResolver(accountID, token string) *taskResolver {
	return &taskResolver{s: s, accountID: accountID, token: token}
}

func (r *taskResolver) resolve(ctx context.Context, name string) (*mapping.Task, error) {
	if !r.cacheReady {
		cached, err := r.s.tasks.ListTasks(ctx, r.accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to list cached tasks: %w", err)
		}
		r.cached, r.cacheReady = cached, true
	}
	for _, t := range r.cached {
		if strings.EqualFold(t.TaskName, name) {
			return t, nil
		}
	}

	remote, err := r.findLedgerTask(ctx, name)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		remote, err = r.s.ledger.CreateTask(ctx, r.token, map[string]any{"name": name})
		if err != nil {
			return nil, err
		}
		log.Printf("Account %s: created ledger task %s (%q)", r.accountID, remote.ID, name)
	}

	t, err := r.s.tasks.CreateTask(ctx, r.accountID, remote.ID.String(), name)
	if err != nil {
		return nil, fmt.Errorf("failed to cache task: %w", err)
	}
	r.cached = append(r.cached, t)
	return t, nil
}

func (r *taskResolver) findLedgerTask(ctx context.Context, name string) (*harvest.Task, error) {
	for i := range r.ledgerTasks {
		if strings.EqualFold(r.ledgerTasks[i].Name, name) {
			return &r.ledgerTasks[i], nil
		}
	}

	for !r.exhausted {
		page, err := r.s.ledger.ListTasks(ctx, r.token, r.cursor)
		if err != nil {
			return nil, err
		}
		start := len(r.ledgerTasks)
		r.ledgerTasks = append(r.ledgerTasks, page.Items...)
		r.cursor = page.NextPage
		r.exhausted = page.NextPage == ""

		for i := start; i < len(r.ledgerTasks); i++ {
			if strings.EqualFold(r.ledgerTasks[i].Name, name) {
				return &r.ledgerTasks[i], nil
			}
		}
	}
	return nil, nil
}
