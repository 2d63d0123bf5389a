package subscription

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"harvestsync/internal/shared/flexid"
)

var (
	ErrUnknownEvent  = errors.New("unknown subscription event")
	ErrUnknownFamily = errors.New("unknown event family")
)

type EventType string

const (
	EventTimeEntryUpdated               EventType = "TIME_ENTRY_UPDATED"
	EventTimeEntryUpdatedProjectBoard   EventType = "TIME_ENTRY_UPDATED_PROJECT_BOARD"
	EventTaskTimeReportedUpdated        EventType = "TASK_TIME_REPORTED_UPDATED"
	EventTaskTimeReportedUpdatedSubitem EventType = "TASK_TIME_REPORTED_UPDATED_SUBITEM"
	EventExpenseUpdated                 EventType = "EXPENSE_UPDATED"
)

// Family groups event types that are served by the same ledger poll.
type Family string

const (
	FamilyTimeEntry Family = "time-entry"
	FamilyTaskTime  Family = "task-time"
	FamilyExpense   Family = "expense"
)

var familyEvents = map[Family][]EventType{
	FamilyTimeEntry: {EventTimeEntryUpdated, EventTimeEntryUpdatedProjectBoard},
	FamilyTaskTime:  {EventTaskTimeReportedUpdated, EventTaskTimeReportedUpdatedSubitem},
	FamilyExpense:   {EventExpenseUpdated},
}

func Families() []Family {
	return []Family{FamilyTimeEntry, FamilyTaskTime, FamilyExpense}
}

func ParseFamily(s string) (Family, error) {
	f := Family(s)
	if _, ok := familyEvents[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
	return f, nil
}

func (f Family) Events() []EventType {
	return familyEvents[f]
}

func (e EventType) Family() Family {
	for f, events := range familyEvents {
		for _, ev := range events {
			if ev == e {
				return f
			}
		}
	}
	return ""
}

// slugs are the URL segments of the subscribe/unsubscribe endpoints.
var slugs = map[string]EventType{
	"timesheet-updates":                  EventTimeEntryUpdated,
	"timesheet-updates-projectboard":     EventTimeEntryUpdatedProjectBoard,
	"task-time-reported-updated":         EventTaskTimeReportedUpdated,
	"task-time-reported-updated-subitem": EventTaskTimeReportedUpdatedSubitem,
	"expense-updates":                    EventExpenseUpdated,
}

func EventForSlug(slug string) (EventType, error) {
	ev, ok := slugs[slug]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, slug)
	}
	return ev, nil
}

func Slugs() []string {
	out := make([]string, 0, len(slugs))
	for s := range slugs {
		out = append(out, s)
	}
	return out
}

// Subscription is a registered board webhook. Context is the raw
// inboundFieldValues captured at subscribe time.
type Subscription struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	AccountID      string    `db:"account_id"`
	WebhookURL     string    `db:"webhook_url"`
	SubscriptionID string    `db:"subscription_id"`
	WebhookEvent   EventType `db:"webhook_event"`
	Context        string    `db:"context"`
	RecipeID       string    `db:"recipe_id"`
	IntegrationID  string    `db:"integration_id"`
	CreatedAt      time.Time `db:"created_at"`
}

// Target is a subscription joined with its owner's decrypted ledger token.
type Target struct {
	Subscription
	OwnerID     string `db:"owner_id"`
	AccessToken string `db:"access_token"`
}

type CreateParams struct {
	UserID         string
	AccountID      string
	WebhookURL     string
	SubscriptionID string
	RecipeID       string
	IntegrationID  string
	Event          EventType
	Context        json.RawMessage
}

func (p *CreateParams) Validate() error {
	if p.UserID == "" || p.AccountID == "" {
		return errors.New("user id and account id are required")
	}
	if p.WebhookURL == "" {
		return errors.New("webhook url is required")
	}
	if p.Event.Family() == "" {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, p.Event)
	}
	return nil
}

// Context is the subset of the stored filter blob the propagation cycle reads.
type Context struct {
	BoardID        flexid.ID  `json:"boardId"`
	SubboardID     valueField `json:"subboardId"`
	ProjectBoardID flexid.ID  `json:"projectBoardId"`
}

// valueField decodes either {"value": id} or a bare id.
type valueField struct {
	Value flexid.ID `json:"value"`
}

func (v *valueField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Value flexid.ID `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		v.Value = obj.Value
		return nil
	}
	return v.Value.UnmarshalJSON(data)
}

// ParseContext decodes the stored filter context. An empty context yields a
// zero Context.
func (s *Subscription) ParseContext() (*Context, error) {
	var c Context
	if s.Context == "" || s.Context == "null" {
		return &c, nil
	}
	if err := json.Unmarshal([]byte(s.Context), &c); err != nil {
		return nil, fmt.Errorf("failed to parse subscription context: %w", err)
	}
	return &c, nil
}

// MatchesBoard reports whether the context targets boardID, either as the
// main board or as the subitem board.
func (c *Context) MatchesBoard(boardID string) bool {
	if boardID == "" {
		return false
	}
	return c.BoardID.String() == boardID || c.SubboardID.Value.String() == boardID
}
