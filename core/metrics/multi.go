package metrics

import (
	"errors"

	"github.com/kilianp07/connopt/core/events"
)

// MultiSink fans records out to several sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOptimizationRun forwards the summary to every sink. A failing sink
// does not stop the others; the errors are joined.
func (m *MultiSink) RecordOptimizationRun(s RunSummary) error {
	var errs []error
	for _, sink := range m.Sinks {
		if err := sink.RecordOptimizationRun(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordProgress forwards progress to the sinks that support it.
func (m *MultiSink) RecordProgress(ev events.ProgressEvent) error {
	var errs []error
	for _, sink := range m.Sinks {
		if r, ok := sink.(ProgressRecorder); ok {
			if err := r.RecordProgress(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordMove forwards moves to the sinks that support it.
func (m *MultiSink) RecordMove(ev events.MoveEvent) error {
	var errs []error
	for _, sink := range m.Sinks {
		if r, ok := sink.(MoveRecorder); ok {
			if err := r.RecordMove(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close releases the sinks that hold resources.
func (m *MultiSink) Close() error {
	var errs []error
	for _, sink := range m.Sinks {
		switch c := sink.(type) {
		case interface{ Close() error }:
			errs = append(errs, c.Close())
		case interface{ Close() }:
			c.Close()
		}
	}
	return errors.Join(errs...)
}
