package optimize

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	movesTotal      *prometheus.CounterVec
	connectionsSeen *prometheus.CounterVec
	finalScore      *prometheus.GaugeVec
)

func newCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.GaugeVec) {
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connopt_optimization_runs_total",
			Help: "Number of optimization runs by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connopt_optimization_duration_seconds",
			Help:    "Wall-clock duration of optimization runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
	moves := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connopt_moves_total",
			Help: "Number of evaluated moves by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	conns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connopt_connections_total",
			Help: "Number of processed connections by type and status",
		},
		[]string{"type", "status"},
	)
	score := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connopt_schedule_score",
			Help: "Final connection score of the last run per schedule",
		},
		[]string{"schedule"},
	)
	return runs, dur, moves, conns, score
}

func init() {
	runsTotal, runDuration, movesTotal, connectionsSeen, finalScore = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers the optimizer metrics on reg. If reg is nil,
// prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(runsTotal, runDuration, movesTotal, connectionsSeen, finalScore)
}

// ResetMetrics recreates the collectors for tests and registers them on reg
// when it is not nil.
func ResetMetrics(reg prometheus.Registerer) {
	runsTotal, runDuration, movesTotal, connectionsSeen, finalScore = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
