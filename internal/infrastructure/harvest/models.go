package harvest

import (
	"encoding/json"
	"strings"

	"harvestsync/internal/shared/flexid"
)

// Page is one page of a ledger list. NextPage is the opaque links.next URL;
// empty on the last page.
type Page[T any] struct {
	Items    []T
	NextPage string
}

type Ref struct {
	ID   flexid.ID `json:"id"`
	Name string    `json:"name"`
}

type ProjectRef struct {
	ID   flexid.ID `json:"id"`
	Name string    `json:"name"`
	Code string    `json:"code"`
}

type Client struct {
	ID       flexid.ID `json:"id"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
	Currency string    `json:"currency"`
}

type Project struct {
	ID         flexid.ID `json:"id"`
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	IsActive   bool      `json:"is_active"`
	IsBillable bool      `json:"is_billable"`
	BillBy     string    `json:"bill_by"`
	BudgetBy   string    `json:"budget_by"`
	Client     *Ref      `json:"client"`
}

type User struct {
	ID        flexid.ID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Task struct {
	ID       flexid.ID `json:"id"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
}

type TaskAssignment struct {
	ID       flexid.ID   `json:"id"`
	IsActive bool        `json:"is_active"`
	Billable *bool       `json:"billable"`
	Task     Ref         `json:"task"`
	Project  *ProjectRef `json:"project"`
}

type UserAssignment struct {
	ID       flexid.ID   `json:"id"`
	IsActive bool        `json:"is_active"`
	User     Ref         `json:"user"`
	Project  *ProjectRef `json:"project"`
}

type ExpenseCategory struct {
	ID       flexid.ID `json:"id"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
}

type Receipt struct {
	URL         string `json:"url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

type Invoice struct {
	ID     flexid.ID `json:"id"`
	Number string    `json:"number"`
}

// TimeEntry keeps the typed fields the engine reads and the complete decoded
// object in Fields, which propagation reshapes and forwards.
type TimeEntry struct {
	ID                flexid.ID  `json:"id"`
	SpentDate         string     `json:"spent_date"`
	Hours             float64    `json:"hours"`
	HoursWithoutTimer float64    `json:"hours_without_timer"`
	RoundedHours      float64    `json:"rounded_hours"`
	Notes             string     `json:"notes"`
	User              Ref        `json:"user"`
	Client            Ref        `json:"client"`
	Project           ProjectRef `json:"project"`
	Task              Ref        `json:"task"`

	Fields map[string]any `json:"-"`
}

func (e *TimeEntry) UnmarshalJSON(data []byte) error {
	type plain TimeEntry
	if err := json.Unmarshal(data, (*plain)(e)); err != nil {
		return err
	}
	return json.Unmarshal(data, &e.Fields)
}

type Expense struct {
	ID              flexid.ID   `json:"id"`
	SpentDate       string      `json:"spent_date"`
	TotalCost       float64     `json:"total_cost"`
	Billable        bool        `json:"billable"`
	Notes           string      `json:"notes"`
	User            Ref         `json:"user"`
	Client          *Ref        `json:"client"`
	Project         *ProjectRef `json:"project"`
	Task            *Ref        `json:"task"`
	ExpenseCategory *Ref        `json:"expense_category"`
	Invoice         *Invoice    `json:"invoice"`
	Receipt         *Receipt    `json:"receipt"`

	Fields map[string]any `json:"-"`
}

func (e *Expense) UnmarshalJSON(data []byte) error {
	type plain Expense
	if err := json.Unmarshal(data, (*plain)(e)); err != nil {
		return err
	}
	return json.Unmarshal(data, &e.Fields)
}
