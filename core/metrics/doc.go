// Package metrics defines the sinks that record optimization runs. Sinks such
// as PromSink and InfluxSink in infra/metrics are built from configuration
// through the sink registry; NewMetricsSink wraps several sinks in a
// MultiSink. Sinks may also implement ProgressRecorder or MoveRecorder to
// receive the engine events collected from the event bus.
package metrics
