package propagation

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"harvestsync/internal/infrastructure/harvest"
)

func updatedSince(t time.Time) url.Values {
	return url.Values{"updated_since": {t.UTC().Format(time.RFC3339)}}
}

// pollTimeEntries reads every page of time entries matching filter.
func (s *Service) pollTimeEntries(ctx context.Context, limiter *rate.Limiter, token string, filter url.Values) ([]harvest.TimeEntry, error) {
	var entries []harvest.TimeEntry
	cursor := ""
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := s.ledger.ListTimeEntries(ctx, token, cursor, filter)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page.Items...)
		if page.NextPage == "" {
			return entries, nil
		}
		cursor = page.NextPage
	}
}

func (s *Service) pollExpenses(ctx context.Context, limiter *rate.Limiter, token string, filter url.Values) ([]harvest.Expense, error) {
	var expenses []harvest.Expense
	cursor := ""
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := s.ledger.ListExpenses(ctx, token, cursor, filter)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, page.Items...)
		if page.NextPage == "" {
			return expenses, nil
		}
		cursor = page.NextPage
	}
}

// emailCache resolves ledger user emails once per cycle. Keys include the
// token owner since ledger user ids are only unique within one ledger account.
type emailCache struct {
	ledger harvest.ClientInterface

	mu     sync.Mutex
	emails map[string]string
}

func newEmailCache(ledger harvest.ClientInterface) *emailCache {
	return &emailCache{ledger: ledger, emails: make(map[string]string)}
}

// lookup returns the email of userID, or "" when the lookup failed. Failed
// lookups are cached too.
func (e *emailCache) lookup(ctx context.Context, ownerID, token, userID string) (string, error) {
	key := ownerID + ":" + userID

	e.mu.Lock()
	email, ok := e.emails[key]
	e.mu.Unlock()
	if ok {
		return email, nil
	}

	u, err := e.ledger.GetUser(ctx, token, userID)
	if err == nil {
		email = u.Email
	}

	e.mu.Lock()
	e.emails[key] = email
	e.mu.Unlock()
	return email, err
}
