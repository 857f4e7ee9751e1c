// Package orchestrator runs the per-user pipelines in fixed-size batches.
//
// Each batch moves Pending -> InFlight -> Settled. All pipelines of a batch run
// concurrently; the next batch is not started until every pipeline of the
// current one has returned. A pipeline failure never cancels its siblings.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"launchsched/internal/domain"
	"launchsched/internal/observability"
	"launchsched/internal/util"
)

// DefaultBatchSize matches the provider's concurrent-connection ceiling.
const DefaultBatchSize = 5

type BatchState string

const (
	BatchPending  BatchState = "pending"
	BatchInFlight BatchState = "in_flight"
	BatchSettled  BatchState = "settled"
)

type UserSource interface {
	Scan(ctx context.Context) ([]domain.UserRecord, error)
}

type LaunchEventSource interface {
	FindNextLaunchEvent(ctx context.Context, now time.Time) (domain.LaunchEvent, error)
}

type Runner interface {
	Run(ctx context.Context, user domain.UserRecord, ev domain.LaunchEvent) domain.Outcome
}

type Orchestrator struct {
	Users    UserSource
	Events   LaunchEventSource
	Pipeline Runner

	BatchSize int
	RunID     string
	Log       *slog.Logger
	Now       func() time.Time

	// OnBatch, when set, observes batch state transitions.
	OnBatch func(index int, state BatchState)
}

// Run fetches users and the launch event (either failing is fatal) and then
// drives every user through the pipeline batch by batch. The returned error
// is nil when all batches settled, even if individual users failed.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	log := o.logger().With("run_id", o.RunID)
	report := Report{RunID: o.RunID}

	users, err := o.Users.Scan(ctx)
	if err != nil {
		return report, fatal("fetch users", err)
	}
	log.Info("user table fetched", "users", len(users))

	now := util.NowUTC
	if o.Now != nil {
		now = o.Now
	}
	ev, err := o.Events.FindNextLaunchEvent(ctx, now())
	if err != nil {
		return report, fatal("find next launch event", err)
	}
	report.LaunchEvent = ev
	log.Info("launch event found",
		"launch_event_id", ev.ID,
		"launch_date", ev.LaunchDate.Format(time.DateOnly),
		"default_newsletter", ev.DefaultNewsletter,
	)

	batches := Partition(users, o.batchSize())
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			log.Warn("run interrupted, remaining batches skipped", "next_batch", i, "remaining_batches", len(batches)-i)
			report.record()
			return report, err
		}
		report.Batches = append(report.Batches, len(batch))
		report.Outcomes = append(report.Outcomes, o.runBatch(ctx, log, i, batch, ev)...)
	}

	report.record()
	return report, nil
}

func (o *Orchestrator) runBatch(ctx context.Context, log *slog.Logger, index int, batch []domain.UserRecord, ev domain.LaunchEvent) []domain.Outcome {
	log = log.With("batch", index, "batch_size", len(batch))
	o.transition(index, BatchPending)

	start := time.Now()
	outcomes := make([]domain.Outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(len(batch))

	o.transition(index, BatchInFlight)
	for i, user := range batch {
		i, user := i, user
		g.Go(func() error {
			outcomes[i] = o.runOne(ctx, user, ev)
			return nil
		})
	}
	_ = g.Wait()
	o.transition(index, BatchSettled)

	took := time.Since(start)
	observability.BatchDuration.Observe(took.Seconds())
	scheduled := 0
	for _, out := range outcomes {
		if out.Scheduled() {
			scheduled++
		}
	}
	log.Info("batch settled", "scheduled", scheduled, "failed", len(batch)-scheduled, "duration", took)
	return outcomes
}

// runOne turns a pipeline panic into that user's failure.
func (o *Orchestrator) runOne(ctx context.Context, user domain.UserRecord, ev domain.LaunchEvent) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline panic: %v", r)
			o.logger().Error("pipeline panicked", "run_id", o.RunID, "user_id", user.UserID, "err", err)
			out = domain.Outcome{UserID: user.UserID, Email: user.EmailAddress, Err: err}
		}
	}()
	return o.Pipeline.Run(ctx, user, ev)
}

func (o *Orchestrator) transition(index int, state BatchState) {
	if o.OnBatch != nil {
		o.OnBatch(index, state)
	}
}

func (o *Orchestrator) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

// Partition splits users into consecutive batches of at most size users.
func Partition(users []domain.UserRecord, size int) [][]domain.UserRecord {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]domain.UserRecord, 0, (len(users)+size-1)/size)
	for start := 0; start < len(users); start += size {
		end := min(start+size, len(users))
		batches = append(batches, users[start:end])
	}
	return batches
}

func fatal(what string, err error) error {
	if domain.KindOf(err) == "" {
		err = domain.FetchError(err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
