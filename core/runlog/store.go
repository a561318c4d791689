// Package runlog persists a record of every optimization run so past runs
// can be queried by schedule, time and outcome.
package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/connopt/core/optimize"
)

// LogRecord captures one optimization run.
type LogRecord struct {
	Timestamp     time.Time           `json:"timestamp"`
	RunID         string              `json:"run_id"`
	ScheduleID    string              `json:"schedule_id"`
	Strategy      string              `json:"strategy"`
	Termination   string              `json:"termination"`
	Success       bool                `json:"success"`
	InitialScore  float64             `json:"initial_score"`
	Score         float64             `json:"score"`
	MovesApplied  int                 `json:"moves_applied"`
	MovesRejected int                 `json:"moves_rejected"`
	TotalBorrowed float64             `json:"total_borrowed"`
	Connections   []ConnectionOutcome `json:"connections"`
	Message       string              `json:"message,omitempty"`
	Warnings      []string            `json:"warnings,omitempty"`
}

// ConnectionOutcome is the per-connection part of a record.
type ConnectionOutcome struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// NewRecord builds the record of res.
func NewRecord(scheduleID string, res *optimize.Result, at time.Time) LogRecord {
	rec := LogRecord{
		Timestamp:     at,
		RunID:         res.RunID,
		ScheduleID:    scheduleID,
		Strategy:      string(res.Statistics.Strategy),
		Termination:   string(res.Statistics.Termination),
		Success:       res.Success,
		InitialScore:  res.InitialScore,
		Score:         res.Score,
		MovesApplied:  len(res.AppliedMoves),
		MovesRejected: len(res.RejectedMoves),
		TotalBorrowed: res.Bank.TotalBorrowed,
		Message:       res.Message,
		Warnings:      res.Warnings,
	}
	for _, c := range res.Connections {
		rec.Connections = append(rec.Connections, ConnectionOutcome{
			ID:     c.ConnectionID,
			Type:   c.Type.String(),
			Status: string(c.Status),
			Before: string(c.Before),
			After:  string(c.After),
		})
	}
	return rec
}

// LogQuery defines filters for retrieving records. Zero values match all.
type LogQuery struct {
	Start        time.Time
	End          time.Time
	ScheduleID   string
	ConnectionID string
	FailedOnly   bool
}

// Match reports whether rec passes the filters.
func (q LogQuery) Match(rec LogRecord) bool {
	if !q.Start.IsZero() && rec.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && rec.Timestamp.After(q.End) {
		return false
	}
	if q.ScheduleID != "" && rec.ScheduleID != q.ScheduleID {
		return false
	}
	if q.FailedOnly && rec.Success {
		return false
	}
	if q.ConnectionID != "" {
		for _, c := range rec.Connections {
			if c.ID == q.ConnectionID {
				return true
			}
		}
		return false
	}
	return true
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}

// Config selects and configures the store backend.
type Config struct {
	// Backend is "jsonl", "rotating" or "none".
	Backend    string `json:"backend" yaml:"backend" koanf:"backend" default:"none" validate:"oneof=jsonl rotating none"`
	Path       string `json:"path" yaml:"path" koanf:"path" default:"connopt-runs.jsonl"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" koanf:"max_size_mb" default:"10" validate:"gte=0"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" koanf:"max_backups" default:"5" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" koanf:"max_age_days" default:"30" validate:"gte=0"`
}

// NewStore builds the store selected by cfg.
func NewStore(cfg Config) (LogStore, error) {
	switch cfg.Backend {
	case "", "none":
		return NopStore{}, nil
	case "jsonl":
		return NewJSONLStore(cfg.Path)
	case "rotating":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	default:
		return nil, fmt.Errorf("unknown run log backend %q", cfg.Backend)
	}
}

// NopStore drops every record.
type NopStore struct{}

func (NopStore) Append(context.Context, LogRecord) error              { return nil }
func (NopStore) Query(context.Context, LogQuery) ([]LogRecord, error) { return nil, nil }
func (NopStore) Close() error                                         { return nil }
