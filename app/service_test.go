package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/connopt/config"
	"github.com/kilianp07/connopt/core/events"
	"github.com/kilianp07/connopt/core/factory"
	coremetrics "github.com/kilianp07/connopt/core/metrics"
	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/optimize"
	"github.com/kilianp07/connopt/core/runlog"
	"github.com/kilianp07/connopt/core/window"
	"github.com/kilianp07/connopt/infra/mqtt"
)

type recordingSink struct {
	mu       sync.Mutex
	runs     []coremetrics.RunSummary
	progress int
	err      error
}

func (s *recordingSink) RecordOptimizationRun(r coremetrics.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return s.err
}

func (s *recordingSink) RecordProgress(events.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress++
	return nil
}

func jsonlConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.RunLog = runlog.Config{Backend: "jsonl", Path: filepath.Join(t.TempDir(), "runs.jsonl")}
	return cfg
}

func TestServiceOptimizeRecordsSideChannels(t *testing.T) {
	sink := &recordingSink{}
	pub := mqtt.NewMockPublisher()
	svc, err := New(jsonlConfig(t), WithMetricsSink(sink), WithPublisher(pub))
	require.NoError(t, err)

	sc, err := svc.LoadScenario("testdata/route-26.yaml")
	require.NoError(t, err)
	res := svc.Optimize(context.Background(), sc, nil)
	require.True(t, res.Success, res.Message)
	assert.InDelta(t, 1.0, res.Score, 1e-9)

	history, err := svc.History(context.Background(), runlog.LogQuery{ScheduleID: "route-26"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.RunID, history[0].RunID)
	assert.Equal(t, 1, history[0].MovesApplied)

	require.Len(t, pub.Messages["route-26"], 1)
	assert.Equal(t, res.RunID, pub.Messages["route-26"][0].RunID)

	require.NoError(t, svc.Close())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.runs, 1)
	assert.Equal(t, "route-26", sink.runs[0].ScheduleID)
	assert.Positive(t, sink.progress, "progress events drained on close")
}

func TestServiceSideChannelFailuresKeepResult(t *testing.T) {
	pub := mqtt.NewMockPublisher()
	pub.Err = errors.New("broker down")
	svc, err := New(jsonlConfig(t), WithMetricsSink(&recordingSink{err: errors.New("sink down")}), WithPublisher(pub))
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	sc, err := svc.LoadScenario("testdata/route-26.yaml")
	require.NoError(t, err)
	res := svc.Optimize(context.Background(), sc, nil)
	assert.True(t, res.Success)
	assert.Equal(t, optimize.TerminationCompleted, res.Statistics.Termination)
}

func TestServiceAnalyze(t *testing.T) {
	svc, err := New(nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	sc, err := svc.LoadScenario("testdata/route-26.yaml")
	require.NoError(t, err)
	a := svc.Analyze(sc)
	assert.Equal(t, 1, a.Total)
	assert.Equal(t, 1, a.Successful)
	require.Len(t, a.Outcomes, 1)
	assert.Equal(t, model.WindowPartial, a.Outcomes[0].Result.Classification)
}

func TestServiceClassify(t *testing.T) {
	svc, err := New(nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	res, err := svc.Classify("07:48", "08:00", model.ConnectionRail, model.ArriveBefore, 8)
	require.NoError(t, err)
	assert.Equal(t, model.WindowIdeal, res.Classification)
	assert.InDelta(t, 0.8, res.Score, 1e-9)

	_, err = svc.Classify("7h48", "08:00", model.ConnectionRail, model.ArriveBefore, 8)
	assert.Error(t, err)
	_, err = svc.Classify("07:48", "08:00", model.ConnectionRail, model.ArriveBefore, 11)
	assert.Error(t, err)
}

func TestServiceUsesConfiguredWindows(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Windows = map[string]window.Table{
		"school_bell": {Ideal: window.Range{Min: 15, Max: 20}, Partial: window.Range{Min: 5, Max: 25}, PartialMultiplier: 0.5},
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	res, err := svc.Classify("08:20", "08:38", model.ConnectionSchoolBell, model.ArriveBefore, 10)
	require.NoError(t, err)
	assert.Equal(t, model.WindowIdeal, res.Classification)
}

func TestNewRejectsUnknownSink(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "graphite"}}
	_, err = New(cfg)
	assert.Error(t, err)
}
