package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_matches_total",
			Help: "Total match executions by terminal status",
		},
		[]string{"status"}, // success|timeout|queued_timeout|error|cancelled
	)

	MatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "executor_match_duration_seconds",
			Help:    "Wall-clock duration of match execution",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	ActiveMatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_active_matches",
			Help: "Matches currently holding an execution slot",
		},
	)

	AdmissionWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "executor_admission_wait_seconds",
			Help:    "Time spent waiting for an admission slot",
			Buckets: prometheus.DefBuckets,
		},
	)

	AgentActionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_agent_action_failures_total",
			Help: "Per-agent action failures absorbed by fallback actions",
		},
		[]string{"reason"}, // timeout|error
	)

	FramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "executor_replay_frames_dropped_total",
			Help: "Frames skipped because the replay frame cap was reached",
		},
	)
)

func init() {
	prometheus.MustRegister(MatchesTotal)
	prometheus.MustRegister(MatchDuration)
	prometheus.MustRegister(ActiveMatches)
	prometheus.MustRegister(AdmissionWait)
	prometheus.MustRegister(AgentActionFailures)
	prometheus.MustRegister(FramesDropped)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
