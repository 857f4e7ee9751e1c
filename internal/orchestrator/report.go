package orchestrator

import (
	"log/slog"

	"launchsched/internal/domain"
	"launchsched/internal/observability"
)

type Report struct {
	RunID       string
	LaunchEvent domain.LaunchEvent
	Batches     []int
	Outcomes    []domain.Outcome
}

func (r Report) Attempted() int { return len(r.Outcomes) }

func (r Report) Scheduled() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Scheduled() {
			n++
		}
	}
	return n
}

func (r Report) Failed() int { return r.Attempted() - r.Scheduled() }

// FailedByStage counts pipelines that stopped at each stage.
func (r Report) FailedByStage() map[domain.Stage]int {
	out := map[domain.Stage]int{}
	for _, o := range r.Outcomes {
		if !o.Scheduled() {
			out[o.Stage]++
		}
	}
	return out
}

func (r Report) PersistFailures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.PersistErr != nil {
			n++
		}
	}
	return n
}

func (r Report) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run_id", r.RunID),
		slog.String("launch_event_id", r.LaunchEvent.ID),
		slog.Int("batches", len(r.Batches)),
		slog.Int("attempted", r.Attempted()),
		slog.Int("scheduled", r.Scheduled()),
		slog.Int("failed", r.Failed()),
		slog.Int("persist_failures", r.PersistFailures()),
	}
	for stage, n := range r.FailedByStage() {
		if stage == "" {
			stage = "unknown"
		}
		attrs = append(attrs, slog.Int("failed_"+string(stage), n))
	}
	return slog.GroupValue(attrs...)
}

func (r Report) record() {
	observability.RunUsers.WithLabelValues("attempted").Set(float64(r.Attempted()))
	observability.RunUsers.WithLabelValues("scheduled").Set(float64(r.Scheduled()))
	observability.RunUsers.WithLabelValues("failed").Set(float64(r.Failed()))
}
