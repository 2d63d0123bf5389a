package reconcile

import (
	"context"
	"errors"
	"fmt"

	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/infrastructure/monday"
	"harvestsync/internal/shared/messages"
)

type Kind int

const (
	// Validation is a missing or out-of-range input. Nothing remote was touched.
	Validation Kind = iota + 1
	// RateLimited is a spent board complexity budget.
	RateLimited
	// Rejected is an upstream refusal carrying the upstream message.
	Rejected
	// Unreachable is a transport failure or an expired deadline.
	Unreachable
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case RateLimited:
		return "rate_limited"
	case Rejected:
		return "rejected"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ActionError is a failure the board shows to its user.
type ActionError struct {
	Kind        Kind
	Title       string
	Description string
	Err         error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Title, e.Description)
}

func (e *ActionError) Unwrap() error { return e.Err }

func AsActionError(err error) (*ActionError, bool) {
	var aerr *ActionError
	if errors.As(err, &aerr) {
		return aerr, true
	}
	return nil, false
}

func invalid(m messages.MessageText, args ...any) *ActionError {
	return &ActionError{Kind: Validation, Title: m.Title, Description: m.Format(args...)}
}

// failure classifies a gateway error under m, whose body takes the upstream
// reason as its only verb. Errors that are already classified pass through.
func failure(m messages.MessageText, err error) error {
	if aerr, ok := AsActionError(err); ok {
		return aerr
	}
	if monday.IsComplexity(err) {
		return &ActionError{Kind: RateLimited, Title: m.Title, Description: "complexity limit reached", Err: err}
	}

	kind := Rejected
	reason := err.Error()
	if herr, ok := harvest.AsError(err); ok {
		reason = herr.Reason()
		if herr.Kind == harvest.Unreachable {
			kind = Unreachable
		}
	} else {
		reason = monday.Message(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = Unreachable
	}
	return &ActionError{Kind: kind, Title: m.Title, Description: m.Format(reason), Err: err}
}

// lookupFailure classifies a board read whose message has a fixed body.
func lookupFailure(m messages.MessageText, err error) error {
	if monday.IsComplexity(err) {
		return &ActionError{Kind: RateLimited, Title: m.Title, Description: "complexity limit reached", Err: err}
	}
	return &ActionError{Kind: Rejected, Title: m.Title, Description: m.Body, Err: err}
}
