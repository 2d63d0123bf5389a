package reconcile

import "strings"

// boolRule says what a boolean-like field becomes when it is missing and
// when its text is none of yes/no/true/false. A nil Missing drops the field.
type boolRule struct {
	Field     string
	Missing   *bool
	Unmatched bool
}

var (
	no = false

	projectBooleans = []boolRule{
		{Field: "is_billable", Missing: &no, Unmatched: true},
		{Field: "is_active", Unmatched: false},
		{Field: "is_fixed_fee", Unmatched: false},
		{Field: "budget_is_monthly", Unmatched: false},
		{Field: "notify_over_budget", Unmatched: false},
		{Field: "show_budget_to_all", Unmatched: false},
		{Field: "cost_budget_include_expenses", Unmatched: false},
	}

	expenseBooleans = []boolRule{
		{Field: "billable", Missing: &no, Unmatched: true},
	}
)

// missing reports an unset mapped value. An unchecked board boolean
// arrives as false and is a value, not an absence.
func missing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func coerceBool(v any, rule boolRule) bool {
	switch strings.ToLower(textOf(v)) {
	case "yes", "true":
		return true
	case "no", "false":
		return false
	}
	return rule.Unmatched
}

// coerceBooleans rewrites every field named by rules in place.
func coerceBooleans(f Fields, rules []boolRule) {
	for _, rule := range rules {
		v, ok := f[rule.Field]
		if !ok || missing(v) {
			if rule.Missing == nil {
				delete(f, rule.Field)
				continue
			}
			f[rule.Field] = *rule.Missing
			continue
		}
		f[rule.Field] = coerceBool(v, rule)
	}
}

var budgetBy = map[string]string{
	"hours per project":  "project",
	"total project fees": "project_cost",
	"hours per task":     "task",
	"fees per task":      "task_fees",
	"hours per person":   "person",
	"no budget":          "none",
}

var billBy = map[string]string{
	"project": "Project",
	"tasks":   "Tasks",
	"people":  "People",
	"none":    "none",
}

// normalizeBudgetBy maps the board label to the ledger value. A missing
// label means no budget.
func normalizeBudgetBy(label string) (string, bool) {
	if label == "" {
		return "none", true
	}
	v, ok := budgetBy[strings.ToLower(label)]
	return v, ok
}

func normalizeBillBy(label string) (string, bool) {
	v, ok := billBy[strings.ToLower(label)]
	return v, ok
}
