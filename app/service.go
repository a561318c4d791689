// Package app wires the optimizer, its side channels and the configuration
// into one service used by the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/connopt/config"
	coremetrics "github.com/kilianp07/connopt/core/metrics"
	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/optimize"
	"github.com/kilianp07/connopt/core/runlog"
	"github.com/kilianp07/connopt/core/scenario"
	"github.com/kilianp07/connopt/core/window"
	"github.com/kilianp07/connopt/infra/logger"
	inframetrics "github.com/kilianp07/connopt/infra/metrics"
	"github.com/kilianp07/connopt/infra/mqtt"
	"github.com/kilianp07/connopt/internal/eventbus"
)

// eventBuffer is sized so a progressive run does not drop progress events
// while the collector catches up.
const eventBuffer = 256

// ResultPublisher sends finished runs to an external consumer.
type ResultPublisher interface {
	Publish(ctx context.Context, scheduleID string, res *optimize.Result) error
	Close() error
}

// Option customizes a Service.
type Option func(*Service)

// WithMetricsSink replaces the sinks built from the configuration.
func WithMetricsSink(s coremetrics.MetricsSink) Option { return func(svc *Service) { svc.sink = s } }

// WithRunLog replaces the run log built from the configuration.
func WithRunLog(s runlog.LogStore) Option { return func(svc *Service) { svc.store = s } }

// WithPublisher replaces the MQTT publisher built from the configuration.
func WithPublisher(p ResultPublisher) Option { return func(svc *Service) { svc.publisher = p } }

// WithClock sets the time source of run records.
func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

// Service runs optimizations and fans their results out to the run log,
// the metrics sinks and the MQTT publisher.
type Service struct {
	cfg       *config.Config
	windows   *window.Service
	engine    *optimize.Engine
	sink      coremetrics.MetricsSink
	store     runlog.LogStore
	publisher ResultPublisher
	bus       eventbus.EventBus
	log       logger.Logger
	now       func() time.Time

	stopCollector context.CancelFunc
	collectorDone <-chan struct{}
}

// New creates a Service from the configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.Default(); err != nil {
			return nil, err
		}
	}
	svc := &Service{cfg: cfg, log: logger.New("service"), now: time.Now}
	for _, o := range opts {
		o(svc)
	}

	tables, err := cfg.WindowTables()
	if err != nil {
		return nil, err
	}
	svc.windows, err = window.NewService(tables, logger.New("windows"))
	if err != nil {
		return nil, fmt.Errorf("window service: %w", err)
	}

	if svc.sink == nil {
		svc.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
		if err != nil {
			return nil, fmt.Errorf("metrics sink: %w", err)
		}
	}
	if svc.store == nil {
		svc.store, err = runlog.NewStore(cfg.RunLog)
		if err != nil {
			return nil, fmt.Errorf("run log: %w", err)
		}
	}
	if svc.publisher == nil && cfg.MQTT.Enabled {
		pub, err := mqtt.NewResultPublisher(cfg.MQTT)
		if err != nil {
			// The optimizer works without the broker.
			svc.log.Errorf("mqtt publisher disabled: %v", err)
		} else {
			svc.publisher = pub
		}
	}

	bus := eventbus.New(eventbus.WithBuffer(eventBuffer))
	svc.bus = bus
	ctx, cancel := context.WithCancel(context.Background())
	svc.stopCollector = cancel
	svc.collectorDone = inframetrics.StartEventCollector(ctx, bus, svc.sink)

	svc.engine = optimize.NewEngine(svc.windows,
		optimize.WithLogger(logger.New("optimizer")),
		optimize.WithEventBus(bus),
	)
	return svc, nil
}

// Windows returns the connection window service.
func (s *Service) Windows() *window.Service { return s.windows }

// Constraints returns the configured optimization constraints.
func (s *Service) Constraints() model.OptimizationConstraints { return s.cfg.Optimization }

// LoadScenario reads the scenario at path and builds it against the
// configured constraints.
func (s *Service) LoadScenario(path string) (*scenario.Scenario, error) {
	doc, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	return doc.Build(s.windows, s.cfg.Optimization)
}

// Optimize runs the engine on the scenario and records the result. Run log,
// metrics and publishing failures are logged and never change the result.
func (s *Service) Optimize(ctx context.Context, sc *scenario.Scenario, onProgress optimize.ProgressFunc) *optimize.Result {
	res := s.engine.Optimize(ctx, sc.Schedule, sc.Connections, sc.Constraints, onProgress)
	s.record(ctx, sc.Schedule.ID, res)
	return res
}

func (s *Service) record(ctx context.Context, scheduleID string, res *optimize.Result) {
	at := s.now()
	if err := s.store.Append(ctx, runlog.NewRecord(scheduleID, res, at)); err != nil {
		s.log.Errorf("run log append: %v", err)
	}
	if err := s.sink.RecordOptimizationRun(coremetrics.Summarize(scheduleID, res, at)); err != nil {
		s.log.Errorf("metrics record: %v", err)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, scheduleID, res); err != nil {
			s.log.Errorf("result publish: %v", err)
		}
	}
	s.log.Infow("optimization recorded", map[string]any{
		"run_id":      res.RunID,
		"schedule":    scheduleID,
		"success":     res.Success,
		"score":       res.Score,
		"termination": string(res.Statistics.Termination),
	})
}

// Analyze reports how well the scenario's schedule serves its connections
// without changing it.
func (s *Service) Analyze(sc *scenario.Scenario) window.Analysis {
	return s.windows.AnalyzeAllConnections(sc.Schedule, sc.Connections)
}

// Classify evaluates one bus time against one connection time.
func (s *Service) Classify(busTime, connectionTime string, typ model.ConnectionType, sc model.Scenario, priority int) (window.Result, error) {
	bus, err := model.ParseClock(busTime)
	if err != nil {
		return window.Result{}, fmt.Errorf("bus time: %w", err)
	}
	target, err := model.ParseClock(connectionTime)
	if err != nil {
		return window.Result{}, fmt.Errorf("connection time: %w", err)
	}
	if priority < 1 || priority > 10 {
		return window.Result{}, fmt.Errorf("priority %d outside [1,10]", priority)
	}
	return s.windows.CalculateConnectionWindow(bus, target, typ, sc, priority), nil
}

// History returns the run log records matching q.
func (s *Service) History(ctx context.Context, q runlog.LogQuery) ([]runlog.LogRecord, error) {
	return s.store.Query(ctx, q)
}

// Cancel stops the running optimization at its next batch boundary.
func (s *Service) Cancel() { s.engine.Cancel() }

// Close drains pending events into the sinks and releases every side
// channel.
func (s *Service) Close() error {
	s.bus.Close()
	<-s.collectorDone
	s.stopCollector()

	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	errs = append(errs, s.store.Close())
	switch c := s.sink.(type) {
	case interface{ Close() error }:
		errs = append(errs, c.Close())
	case interface{ Close() }:
		c.Close()
	}
	return errors.Join(errs...)
}
