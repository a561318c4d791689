package events

import "time"

// ProgressEvent reports the progress of an optimization run.
type ProgressEvent struct {
	RunID              string
	ScheduleID         string
	Phase              string
	Progress           float64
	CurrentScore       float64
	BestScore          float64
	EstimatedRemaining time.Duration
	MemoryEstimateMB   float64
}

// MoveEvent is published for every evaluated move.
type MoveEvent struct {
	RunID            string
	MoveID           string
	Kind             string
	ConnectionID     string
	Accepted         bool
	Reason           string
	ScoreImprovement float64
}
