package monday

import (
	"encoding/json"
	"fmt"

	"harvestsync/internal/shared/flexid"
)

type BoardRef struct {
	ID flexid.ID `json:"id"`
}

// LinkedItem is an item reached through a board-relation column or a
// subitem list.
type LinkedItem struct {
	ID    flexid.ID `json:"id"`
	Name  string    `json:"name"`
	Board BoardRef  `json:"board"`
}

type ColumnValue struct {
	ID          string          `json:"id"`
	Value       json.RawMessage `json:"value"`
	Text        string          `json:"text"`
	LinkedItems []LinkedItem    `json:"linked_items"`
}

type Item struct {
	ID           flexid.ID     `json:"id"`
	Name         string        `json:"name"`
	ColumnValues []ColumnValue `json:"column_values"`
	Subitems     []LinkedItem  `json:"subitems"`
}

// FirstLinkedItem returns the first item linked through the first requested
// column, if any.
func (i *Item) FirstLinkedItem() (*LinkedItem, bool) {
	if len(i.ColumnValues) == 0 || len(i.ColumnValues[0].LinkedItems) == 0 {
		return nil, false
	}
	return &i.ColumnValues[0].LinkedItems[0], true
}

type User struct {
	ID    flexid.ID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type Column struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	SettingsStr string `json:"settings_str"`
}

// ColumnSettings is the part of settings_str the engine reads.
type ColumnSettings struct {
	BoardIDs []flexid.ID `json:"boardIds"`
}

func (c *Column) Settings() (*ColumnSettings, error) {
	var s ColumnSettings
	if c.SettingsStr == "" {
		return &s, nil
	}
	if err := json.Unmarshal([]byte(c.SettingsStr), &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings of column %s: %w", c.ID, err)
	}
	return &s, nil
}
