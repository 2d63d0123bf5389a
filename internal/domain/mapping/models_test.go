package mapping

import (
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{"client", KindClient, false},
		{"project", KindProject, false},
		{"expense", KindExpense, false},
		{"timesheet", KindTimesheet, false},
		{"task", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKind) {
					t.Errorf("ParseKind(%q) error = %v, want ErrInvalidKind", tt.input, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseKind(%q) = %q, %v", tt.input, got, err)
			}
		})
	}
}

func TestCreateLinkParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  CreateLinkParams
		wantErr bool
	}{
		{"valid", CreateLinkParams{AccountID: "1", BoardID: "2", ItemID: "3", LedgerID: "4"}, false},
		{"board optional", CreateLinkParams{AccountID: "1", ItemID: "3", LedgerID: "4"}, false},
		{"missing account", CreateLinkParams{BoardID: "2", ItemID: "3", LedgerID: "4"}, true},
		{"missing item", CreateLinkParams{AccountID: "1", BoardID: "2", LedgerID: "4"}, true},
		{"missing ledger id", CreateLinkParams{AccountID: "1", BoardID: "2", ItemID: "3"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.params.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTaskAssignment_Key(t *testing.T) {
	a := &TaskAssignment{BoardID: "100", ItemID: "7"}
	if got := a.Key(); got != ItemKey("100", "7") {
		t.Errorf("Key() = %q", got)
	}
}
