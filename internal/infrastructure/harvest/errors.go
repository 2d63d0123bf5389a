package harvest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind int

const (
	// Unreachable means the request never produced an HTTP response.
	Unreachable ErrorKind = iota + 1
	// Rejected means the ledger answered with a non-2xx status.
	Rejected
)

func (k ErrorKind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error classifies every gateway failure. The gateway never retries.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == Rejected {
		return fmt.Sprintf("harvest %s: API error (status %d): %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("harvest %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Reason is the text shown to board users: the ledger's message when it
// answered, the transport error otherwise.
func (e *Error) Reason() string {
	if e.Kind == Rejected {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "ledger unreachable"
}

func AsError(err error) (*Error, bool) {
	var herr *Error
	if errors.As(err, &herr) {
		return herr, true
	}
	return nil, false
}

// IsDuplicateName reports a create rejected because an entity with the same
// name already exists.
func IsDuplicateName(err error) bool {
	herr, ok := AsError(err)
	if !ok || herr.Kind != Rejected || herr.Status != http.StatusUnprocessableEntity {
		return false
	}
	msg := strings.ToLower(herr.Message)
	return strings.Contains(msg, "already been taken") || strings.Contains(msg, "already used")
}

func IsNotFound(err error) bool {
	herr, ok := AsError(err)
	return ok && herr.Kind == Rejected && herr.Status == http.StatusNotFound
}
