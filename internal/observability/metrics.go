package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	PipelineStage = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "launchsched_pipeline_stage_total", Help: "Per-user pipeline stage outcomes"},
		[]string{"stage", "result"},
	)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mailchimp_call_total", Help: "Mailchimp call outcomes"},
		[]string{"op", "result", "http_status"},
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "mailchimp_call_latency_seconds", Help: "Mailchimp call latency"},
		[]string{"op"},
	)
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "launchsched_batch_duration_seconds", Help: "Time for a batch to settle"},
	)
	RunUsers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "launchsched_run_users", Help: "Users per outcome in the last run"},
		[]string{"outcome"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(PipelineStage, ProviderCalls, ProviderLatency, BatchDuration, RunUsers)
}

// Push sends everything in g to a Pushgateway under the given job name.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	return push.New(url, job).Gatherer(g).PushContext(ctx)
}
