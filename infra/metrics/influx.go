package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/connopt/core/events"
	coremetrics "github.com/kilianp07/connopt/core/metrics"
	"github.com/kilianp07/connopt/infra/logger"
)

// InfluxConfig holds the connection settings of an InfluxSink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes optimization runs to InfluxDB using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordOptimizationRun writes one optimization_run point.
func (s *InfluxSink) RecordOptimizationRun(r coremetrics.RunSummary) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("optimization_run").
		AddTag("schedule_id", r.ScheduleID).
		AddTag("strategy", r.Strategy).
		AddTag("termination", r.Termination).
		AddTag("success", strconv.FormatBool(r.Success)).
		AddField("run_id", r.RunID).
		AddField("initial_score", round3(r.InitialScore)).
		AddField("score", round3(r.Score)).
		AddField("trips", r.Trips).
		AddField("connections", r.Connections).
		AddField("improved", r.Improved).
		AddField("failed", r.Failed).
		AddField("moves_applied", r.MovesApplied).
		AddField("moves_rejected", r.MovesRejected).
		AddField("total_borrowed", round3(r.TotalBorrowed)).
		AddField("utilization", round3(r.UtilizationRate)).
		AddField("duration_ms", r.Duration.Milliseconds()).
		SetTime(r.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordMove writes one optimization_move point.
func (s *InfluxSink) RecordMove(ev events.MoveEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("optimization_move").
		AddTag("kind", ev.Kind).
		AddTag("accepted", strconv.FormatBool(ev.Accepted)).
		AddField("run_id", ev.RunID).
		AddField("connection_id", ev.ConnectionID).
		AddField("score_improvement", round3(ev.ScoreImprovement)).
		SetTime(time.Now())
	if ev.Reason != "" {
		p = p.AddField("reason", ev.Reason)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
