package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/connopt/core/events"
	coremetrics "github.com/kilianp07/connopt/core/metrics"
)

// PromSink records optimization runs in Prometheus collectors.
type PromSink struct {
	runs        *prometheus.CounterVec
	score       *prometheus.GaugeVec
	improvement *prometheus.HistogramVec
	utilization *prometheus.GaugeVec
	progress    *prometheus.GaugeVec
	moves       *prometheus.CounterVec
}

// NewPromSink registers the sink collectors on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the collectors on reg. A nil registerer
// defaults to the global Prometheus registerer. Collectors already
// registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connopt_service_runs_total",
			Help: "Optimization runs recorded by the service",
		}, []string{"schedule", "success", "termination"}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connopt_service_score",
			Help: "Connection score of the last run per schedule",
		}, []string{"schedule", "stage"}),
		improvement: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "connopt_service_score_improvement",
			Help:    "Score gained by a run",
			Buckets: []float64{0, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1},
		}, []string{"strategy"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connopt_service_bank_utilization_ratio",
			Help: "Recovery bank utilization of the last run per schedule",
		}, []string{"schedule"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connopt_service_run_progress_percent",
			Help: "Progress of the running optimization per schedule",
		}, []string{"schedule", "phase"}),
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "connopt_service_moves_total",
			Help: "Moves observed on the event bus",
		}, []string{"kind", "accepted"}),
	}
	var err error
	if s.runs, err = register(reg, s.runs); err != nil {
		return nil, err
	}
	if s.score, err = register(reg, s.score); err != nil {
		return nil, err
	}
	if s.improvement, err = register(reg, s.improvement); err != nil {
		return nil, err
	}
	if s.utilization, err = register(reg, s.utilization); err != nil {
		return nil, err
	}
	if s.progress, err = register(reg, s.progress); err != nil {
		return nil, err
	}
	if s.moves, err = register(reg, s.moves); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordOptimizationRun updates the run counters and gauges.
func (s *PromSink) RecordOptimizationRun(r coremetrics.RunSummary) error {
	s.runs.WithLabelValues(r.ScheduleID, strconv.FormatBool(r.Success), r.Termination).Inc()
	s.score.WithLabelValues(r.ScheduleID, "initial").Set(r.InitialScore)
	s.score.WithLabelValues(r.ScheduleID, "final").Set(r.Score)
	if r.Success {
		s.improvement.WithLabelValues(r.Strategy).Observe(r.Score - r.InitialScore)
	}
	s.utilization.WithLabelValues(r.ScheduleID).Set(r.UtilizationRate)
	return nil
}

// RecordProgress sets the progress gauge of the schedule.
func (s *PromSink) RecordProgress(ev events.ProgressEvent) error {
	s.progress.WithLabelValues(ev.ScheduleID, ev.Phase).Set(ev.Progress)
	return nil
}

// RecordMove counts accepted and rejected moves.
func (s *PromSink) RecordMove(ev events.MoveEvent) error {
	s.moves.WithLabelValues(ev.Kind, strconv.FormatBool(ev.Accepted)).Inc()
	return nil
}
