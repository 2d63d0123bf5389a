package messages

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

//go:embed default.json
var defaultCatalog []byte

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Format fills the body's verbs with args.
func (m MessageText) Format(args ...any) string {
	if len(args) == 0 {
		return m.Body
	}
	return fmt.Sprintf(m.Body, args...)
}

// Messages is the catalog of user-facing action errors shown on the board.
type Messages struct {
	ClientNameMissing MessageText `json:"client_name_missing"`
	ClientFailed      MessageText `json:"client_failed"`

	ProjectNameMissing         MessageText `json:"project_name_missing"`
	ProjectBudgetByInvalid     MessageText `json:"project_budget_by_invalid"`
	ProjectBillByMissing       MessageText `json:"project_bill_by_missing"`
	ProjectBillByInvalid       MessageText `json:"project_bill_by_invalid"`
	ProjectClientColumnMissing MessageText `json:"project_client_column_missing"`
	ProjectClientLookupFailed  MessageText `json:"project_client_lookup_failed"`
	ProjectItemLookupFailed    MessageText `json:"project_item_lookup_failed"`
	ProjectClientNameMissing   MessageText `json:"project_client_name_missing"`
	ProjectMappedClientMissing MessageText `json:"project_mapped_client_missing"`
	ProjectFailed              MessageText `json:"project_failed"`

	TaskNameMissing          MessageText `json:"task_name_missing"`
	TaskProjectColumnMissing MessageText `json:"task_project_column_missing"`
	TaskProjectLookupFailed  MessageText `json:"task_project_lookup_failed"`
	TaskProjectNotFound      MessageText `json:"task_project_not_found"`
	TaskFailed               MessageText `json:"task_failed"`

	ExpenseCategoryMissing      MessageText `json:"expense_category_missing"`
	ExpenseSpentDateMissing     MessageText `json:"expense_spent_date_missing"`
	ExpenseProjectColumnMissing MessageText `json:"expense_project_column_missing"`
	ExpenseProjectLookupFailed  MessageText `json:"expense_project_lookup_failed"`
	ExpenseProjectMissing       MessageText `json:"expense_project_missing"`
	ExpenseProjectNotSynced     MessageText `json:"expense_project_not_synced"`
	ExpenseCategoryInvalid      MessageText `json:"expense_category_invalid"`
	ExpenseFailed               MessageText `json:"expense_failed"`

	TimeEntryCreateFailed      MessageText `json:"time_entry_create_failed"`
	TimeEntryUpdateFailed      MessageText `json:"time_entry_update_failed"`
	TimeEntryTaskConnectFailed MessageText `json:"time_entry_task_connect_failed"`
	ReportedTimeFailed         MessageText `json:"reported_time_failed"`
	ExpenseItemFailed          MessageText `json:"expense_item_failed"`
	ReceiptUploadFailed        MessageText `json:"receipt_upload_failed"`

	Unexpected MessageText `json:"unexpected"`
}

var (
	loaded   Messages
	loadOnce sync.Once
	loadErr  error
)

// Load parses the embedded catalog and overlays the JSON file at path, if any.
// The result is cached; safe to call from multiple goroutines.
func Load(path string) (*Messages, error) {
	loadOnce.Do(func() {
		if err := json.Unmarshal(defaultCatalog, &loaded); err != nil {
			loadErr = fmt.Errorf("failed to parse default messages: %w", err)
			return
		}
		if path == "" {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read messages file: %w", err)
			return
		}
		if err := json.Unmarshal(data, &loaded); err != nil {
			loadErr = fmt.Errorf("failed to parse messages file: %w", err)
		}
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &loaded, nil
}

// Default returns the embedded catalog without consulting the cache.
func Default() *Messages {
	var m Messages
	if err := json.Unmarshal(defaultCatalog, &m); err != nil {
		panic(fmt.Sprintf("messages: embedded catalog is invalid: %v", err))
	}
	return &m
}
