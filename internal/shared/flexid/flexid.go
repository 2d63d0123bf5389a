// Package flexid holds the identifier type used for board and ledger ids,
// which arrive as JSON numbers from one API and as strings from the other.
package flexid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a decimal identifier kept in its string form.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

// Int64 parses the id. Ledger ids always fit.
func (id ID) Int64() (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

// FromInt64 formats a numeric id.
func FromInt64(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("failed to decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes the id as a number when it is numeric, so outbound
// payloads keep the ledger's native shape.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}
