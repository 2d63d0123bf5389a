package scheduler

import "context"

// Job is a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. The context carries the job deadline.
	Execute(ctx context.Context) error

	// Subject names what the job works on (a user, an event family) for
	// logs and spans.
	Subject() string

	Description() string
}
