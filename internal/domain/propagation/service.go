// Package propagation polls the ledger for recently changed records and
// pushes them to the board webhooks subscribed to them.
package propagation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/infrastructure/webhook"
)

var (
	deliveryMeter    = otel.Meter("harvestsync/propagation")
	deliveryTotal, _ = deliveryMeter.Int64Counter("propagation.delivery.total",
		metric.WithDescription("Webhook deliveries by family and outcome"))
	recordTotal, _ = deliveryMeter.Int64Counter("propagation.record.total",
		metric.WithDescription("Ledger records read by family"))
)

// Deliverer posts one trigger to a subscriber callback.
type Deliverer interface {
	Deliver(ctx context.Context, url string, outputFields any) error
}

// TargetSource lists the deliverable subscriptions of a family.
type TargetSource interface {
	ListTargets(ctx context.Context, family subscription.Family) ([]*subscription.Target, error)
}

type Config struct {
	// Overlap is how far back each cycle asks for updated records.
	Overlap time.Duration
	// PageDelay paces consecutive ledger page requests of one poll.
	PageDelay time.Duration
	// Parallelism caps concurrent deliveries. Zero means unlimited.
	Parallelism int
	// LedgerAccountID is sent with every ledger request when set.
	LedgerAccountID string
}

func DefaultConfig() Config {
	return Config{Overlap: 60 * time.Minute, PageDelay: time.Second, Parallelism: 8}
}

// CycleResult summarizes one propagation cycle.
type CycleResult struct {
	Family    subscription.Family
	Users     int
	Records   int
	Delivered int
	Failed    int
	Skipped   int
	PollErrs  int
}

func (r *CycleResult) String() string {
	return fmt.Sprintf("family=%s users=%d records=%d delivered=%d failed=%d skipped=%d poll_errors=%d",
		r.Family, r.Users, r.Records, r.Delivered, r.Failed, r.Skipped, r.PollErrs)
}

type Service struct {
	targets     TargetSource
	links       mapping.LinkRepository
	assignments mapping.AssignmentRepository
	ledger      harvest.ClientInterface
	deliverer   Deliverer
	revoked     *subscription.Revocations
	cfg         Config
	now         func() time.Time
}

func NewService(
	targets TargetSource,
	links mapping.LinkRepository,
	assignments mapping.AssignmentRepository,
	ledger harvest.ClientInterface,
	deliverer Deliverer,
	revoked *subscription.Revocations,
	cfg Config,
) *Service {
	if revoked == nil {
		revoked = subscription.NewRevocations()
	}
	return &Service{
		targets:     targets,
		links:       links,
		assignments: assignments,
		ledger:      ledger,
		deliverer:   deliverer,
		revoked:     revoked,
		cfg:         cfg,
		now:         time.Now,
	}
}

// cycle holds the state shared by every user poll of one Run.
type cycle struct {
	family subscription.Family
	since  time.Time
	emails *emailCache

	mu     sync.Mutex
	result CycleResult
}

func (c *cycle) count(fn func(r *CycleResult)) {
	c.mu.Lock()
	fn(&c.result)
	c.mu.Unlock()
}

// owner is one user's subscriptions of the family; they share a ledger poll.
type owner struct {
	id    string
	token string
	subs  []*subscription.Target
}

// Run executes one cycle for family. A failing poll or delivery is logged
// and counted; only a failure to load the subscriptions aborts the cycle.
func (s *Service) Run(ctx context.Context, family subscription.Family) (*CycleResult, error) {
	targets, err := s.targets.ListTargets(ctx, family)
	if err != nil {
		return nil, err
	}

	c := &cycle{
		family: family,
		since:  s.now().Add(-s.cfg.Overlap),
		emails: newEmailCache(s.ledger),
		result: CycleResult{Family: family},
	}
	owners := groupByOwner(targets)
	c.result.Users = len(owners)
	if len(owners) == 0 {
		log.Printf("Propagation %s: no subscriptions", family)
		return &c.result, nil
	}

	if s.cfg.LedgerAccountID != "" {
		ctx = harvest.WithAccountID(ctx, s.cfg.LedgerAccountID)
	}

	for _, o := range owners {
		if err := ctx.Err(); err != nil {
			return &c.result, err
		}

		var pollErr error
		switch family {
		case subscription.FamilyTimeEntry:
			pollErr = s.runTimeEntries(ctx, c, o)
		case subscription.FamilyTaskTime:
			pollErr = s.runTaskTime(ctx, c, o)
		case subscription.FamilyExpense:
			pollErr = s.runExpenses(ctx, c, o)
		default:
			return nil, fmt.Errorf("%w: %q", subscription.ErrUnknownFamily, family)
		}
		if pollErr != nil {
			log.Printf("Propagation %s: poll failed for user %s: %v", family, o.id, pollErr)
			c.count(func(r *CycleResult) { r.PollErrs++ })
		}
	}

	log.Printf("Propagation cycle finished: %s", c.result.String())
	return &c.result, nil
}

func groupByOwner(targets []*subscription.Target) []*owner {
	var owners []*owner
	byID := make(map[string]*owner)
	for _, t := range targets {
		o, ok := byID[t.OwnerID]
		if !ok {
			o = &owner{id: t.OwnerID, token: t.AccessToken}
			byID[t.OwnerID] = o
			owners = append(owners, o)
		}
		o.subs = append(o.subs, t)
	}
	return owners
}

func (s *Service) newLimiter() *rate.Limiter {
	if s.cfg.PageDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(s.cfg.PageDelay), 1)
}

// delivery is one trigger bound for one subscription.
type delivery struct {
	target *subscription.Target
	fields any
}

// deliverAll posts every delivery in parallel. Failures are isolated.
func (s *Service) deliverAll(ctx context.Context, c *cycle, deliveries []delivery) {
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Parallelism > 0 {
		g.SetLimit(s.cfg.Parallelism)
	}

	for _, d := range deliveries {
		g.Go(func() error {
			s.deliver(gctx, c, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) deliver(ctx context.Context, c *cycle, d delivery) {
	attrs := metric.WithAttributes(attribute.String("family", string(c.family)))
	sub := d.target

	if s.revoked.IsRevoked(sub.ID) {
		c.count(func(r *CycleResult) { r.Skipped++ })
		deliveryTotal.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("outcome", "revoked")))
		return
	}

	err := s.deliverer.Deliver(ctx, sub.WebhookURL, d.fields)
	if err != nil {
		if !webhook.IsUnavailable(err) {
			log.Printf("Propagation %s: delivery to subscription %s (%s) failed: %v", c.family, sub.ID, sub.WebhookEvent, err)
		}
		c.count(func(r *CycleResult) { r.Failed++ })
		deliveryTotal.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("outcome", "failed")))
		return
	}

	c.count(func(r *CycleResult) { r.Delivered++ })
	deliveryTotal.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("outcome", "delivered")))
}
