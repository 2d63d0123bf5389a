package reconcile

import (
	"strconv"
	"strings"

	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/shared/flexid"
)

// Caller is the board user an action runs for.
type Caller struct {
	AccountID       string
	UserID          string
	BoardToken      string
	LedgerToken     string
	LedgerAccountID string
}

// Outcome is the success message returned to the board.
type Outcome struct {
	Message string `json:"message"`
}

const (
	msgCompleted = "Successfully completed action"
	msgSuccess   = "success"
)

// Fields is a block of mapped column values as the board sends them.
// Values are strings, numbers, booleans or nested objects.
type Fields map[string]any

// String renders the value at key as text. Missing and null values are "".
func (f Fields) String(key string) string {
	return textOf(f[key])
}

func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// payload copies the fields for the ledger, leaving out keys the engine
// consumes itself.
func (f Fields) payload(skip ...string) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	for _, k := range skip {
		delete(out, k)
	}
	return out
}

type ClientInput struct {
	BoardID flexid.ID `json:"boardId"`
	ItemID  flexid.ID `json:"itemId"`
	Client  Fields    `json:"clientFields"`
}

// ProjectInput serves the three project actions. ClientColumnID is read by
// the connected-client variants; the mapped-client variant reads
// Project["client"].
type ProjectInput struct {
	BoardID        flexid.ID `json:"boardId"`
	ItemID         flexid.ID `json:"itemId"`
	ClientColumnID string    `json:"clientColumnId"`
	Project        Fields    `json:"project"`
}

type TaskInput struct {
	BoardID         flexid.ID `json:"boardId"`
	ItemID          flexid.ID `json:"itemId"`
	ProjectColumnID string    `json:"projectColumnId"`
	Task            Fields    `json:"task"`
}

type ExpenseInput struct {
	BoardID         flexid.ID `json:"boardId"`
	ItemID          flexid.ID `json:"itemId"`
	ProjectColumnID string    `json:"projectColumnId"`
	Expense         Fields    `json:"expense"`
}

// LedgerRef names the ledger record behind a board item sync.
type LedgerRef struct {
	ID flexid.ID `json:"id"`
}

type TimesheetItemInput struct {
	BoardID      flexid.ID      `json:"boardId"`
	TimeEntry    LedgerRef      `json:"timeEntry"`
	ItemMapping  map[string]any `json:"itemMapping"`
	TaskID       flexid.ID      `json:"taskId"`
	TaskColumnID string         `json:"taskColumnId"`
}

type ReportedTimeInput struct {
	BoardID     flexid.ID      `json:"boardId"`
	ItemID      flexid.ID      `json:"itemId"`
	ProjectID   flexid.ID      `json:"projectId"`
	TaskID      flexid.ID      `json:"taskId"`
	ItemMapping map[string]any `json:"itemMapping"`
}

// ReportedTime is the task total computed by the task-time propagation.
type ReportedTime struct {
	Hours             float64 `json:"hours"`
	HoursWithoutTimer float64 `json:"hours_without_timer"`
	RoundedHours      float64 `json:"rounded_hours"`
	EarliestTime      string  `json:"earliest_time"`
	LatestTime        string  `json:"latest_time"`
}

type SubitemReportedTimeInput struct {
	BoardID      flexid.ID    `json:"boardId"`
	ItemID       flexid.ID    `json:"itemId"`
	ProjectID    flexid.ID    `json:"projectId"`
	TaskID       flexid.ID    `json:"taskId"`
	ReportedTime ReportedTime `json:"reportedTime"`
}

type ExpenseRef struct {
	ID      flexid.ID        `json:"id"`
	Receipt *harvest.Receipt `json:"receipt"`
}

type ExpenseItemInput struct {
	BoardID      flexid.ID      `json:"boardId"`
	Expense      ExpenseRef     `json:"expense"`
	ItemMapping  map[string]any `json:"itemMapping"`
	FileColumnID string         `json:"fileColumnId"`
}

// people is a resolved people-column value: either emails or full names.
type people struct {
	byEmail bool
	values  []string
}

// parsePeople reads a people field. The board sends a people column as
// {identifierType: "email", identifierValue: [...]}; a mapped text column
// arrives as a list of names or one comma-separated string.
func parsePeople(v any) (people, bool) {
	switch t := v.(type) {
	case map[string]any:
		list, _ := t["identifierValue"].([]any)
		var out people
		out.byEmail = true
		for _, e := range list {
			if s := strings.ToLower(strings.TrimSpace(textOf(e))); s != "" {
				out.values = append(out.values, s)
			}
		}
		return out, len(out.values) > 0
	case []any:
		var out people
		for _, e := range t {
			if s := strings.TrimSpace(textOf(e)); s != "" {
				out.values = append(out.values, s)
			}
		}
		return out, len(out.values) > 0
	case string:
		var out people
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out.values = append(out.values, s)
			}
		}
		return out, len(out.values) > 0
	}
	return people{}, false
}

func (p people) matches(u *harvest.User) bool {
	for _, v := range p.values {
		if p.byEmail {
			if strings.ToLower(u.Email) == v {
				return true
			}
			continue
		}
		if u.FullName() == v {
			return true
		}
	}
	return false
}

// taskRef is a board item that should exist as a task on a project.
type taskRef struct {
	Name    string
	BoardID string
	ItemID  string
}
