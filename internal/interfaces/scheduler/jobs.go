package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"harvestsync/internal/domain/propagation"
	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/domain/user"
)

// PropagationRunner runs one propagation cycle.
type PropagationRunner interface {
	Run(ctx context.Context, family subscription.Family) (*propagation.CycleResult, error)
}

// PropagationJob runs the propagation cycle of one event family.
type PropagationJob struct {
	family subscription.Family
	runner PropagationRunner
}

func NewPropagationJob(family subscription.Family, runner PropagationRunner) *PropagationJob {
	return &PropagationJob{family: family, runner: runner}
}

// Execute runs the cycle. Poll failures are reported as a job error after
// the cycle has delivered everything else.
func (j *PropagationJob) Execute(ctx context.Context) error {
	result, err := j.runner.Run(ctx, j.family)
	if err != nil {
		return fmt.Errorf("propagation %s failed: %w", j.family, err)
	}
	if result.PollErrs > 0 {
		return fmt.Errorf("propagation %s completed with %d poll errors", j.family, result.PollErrs)
	}
	return nil
}

func (j *PropagationJob) Subject() string {
	return string(j.family)
}

func (j *PropagationJob) Description() string {
	return fmt.Sprintf("Propagation cycle for %s", j.family)
}

// PropagationJobs returns a job provider emitting one job per family.
func PropagationJobs(runner PropagationRunner, families []subscription.Family) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		jobs := make([]Job, 0, len(families))
		for _, f := range families {
			jobs = append(jobs, NewPropagationJob(f, runner))
		}
		return jobs, nil
	}
}

// TokenRefresher is the slice of the user service the refresh jobs need.
type TokenRefresher interface {
	ListExpiring(ctx context.Context, window time.Duration) ([]*user.User, error)
	Refresh(ctx context.Context, u *user.User) error
}

// TokenRefreshJob renews one user's ledger token.
type TokenRefreshJob struct {
	user      *user.User
	refresher TokenRefresher
}

func NewTokenRefreshJob(u *user.User, refresher TokenRefresher) *TokenRefreshJob {
	return &TokenRefreshJob{user: u, refresher: refresher}
}

func (j *TokenRefreshJob) Execute(ctx context.Context) error {
	return j.refresher.Refresh(ctx, j.user)
}

func (j *TokenRefreshJob) Subject() string {
	return j.user.AccountID + "/" + j.user.UserID
}

func (j *TokenRefreshJob) Description() string {
	return fmt.Sprintf("Token refresh for user %s (account %s)", j.user.UserID, j.user.AccountID)
}

// TokenRefreshJobs returns a job provider emitting one job per user whose
// token expires within window.
func TokenRefreshJobs(refresher TokenRefresher, window time.Duration) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		users, err := refresher.ListExpiring(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("failed to list expiring users: %w", err)
		}

		log.Printf("Token refresh: %d users expire within %s", len(users), window)
		jobs := make([]Job, 0, len(users))
		for _, u := range users {
			jobs = append(jobs, NewTokenRefreshJob(u, refresher))
		}
		return jobs, nil
	}
}

// PruneRevocationsJob forgets revocations older than any cycle can run.
type PruneRevocationsJob struct {
	revoked *subscription.Revocations
	maxAge  time.Duration
}

func NewPruneRevocationsJob(revoked *subscription.Revocations, maxAge time.Duration) *PruneRevocationsJob {
	return &PruneRevocationsJob{revoked: revoked, maxAge: maxAge}
}

func (j *PruneRevocationsJob) Execute(ctx context.Context) error {
	if n := j.revoked.Prune(j.maxAge); n > 0 {
		log.Printf("Pruned %d subscription revocations", n)
	}
	return nil
}

func (j *PruneRevocationsJob) Subject() string { return "revocations" }

func (j *PruneRevocationsJob) Description() string {
	return "Subscription revocation pruning"
}
