package monday

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated   = errors.New("monday: not authenticated")
	ErrComplexityExceeded = errors.New("monday: complexity limit reached")
)

// complexityCodes are the error codes that mean the account's complexity
// budget is spent. They are surfaced to the caller rather than retried.
var complexityCodes = map[string]bool{
	"maxComplexityExceeded":       true,
	"ComplexityException":         true,
	"COMPLEXITY_BUDGET_EXHAUSTED": true,
}

// APIError is a board error that survived the retry budget.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("monday API error (status %d): %s", e.Status, e.Message)
	}
	return "monday API error: " + e.Message
}

type complexityError struct {
	code    string
	message string
}

func (e *complexityError) Error() string {
	return fmt.Sprintf("%v (%s): %s", ErrComplexityExceeded, e.code, e.message)
}

func (e *complexityError) Unwrap() error { return ErrComplexityExceeded }

// Message returns the text worth showing to a board user for err.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
