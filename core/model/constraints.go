package model

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// PerformanceBudget bounds the resources of one optimization run.
type PerformanceBudget struct {
	MaxOptimizationTimeMs int     `json:"max_optimization_time_ms" yaml:"max_optimization_time_ms" default:"30000" validate:"gt=0"`
	MaxMemoryMB           float64 `json:"max_memory_mb" yaml:"max_memory_mb" default:"512" validate:"gt=0"`
	BatchSize             int     `json:"batch_size" yaml:"batch_size" default:"25" validate:"gt=0"`
	BatchPauseMs          int     `json:"batch_pause_ms" yaml:"batch_pause_ms" default:"1" validate:"gte=0"`
	CacheSize             int     `json:"cache_size" yaml:"cache_size" default:"10000" validate:"gt=0"`
	// Progressive batching is used when either threshold is exceeded.
	ProgressiveTripThreshold       int `json:"progressive_trip_threshold" yaml:"progressive_trip_threshold" default:"100" validate:"gt=0"`
	ProgressiveConnectionThreshold int `json:"progressive_connection_threshold" yaml:"progressive_connection_threshold" default:"50" validate:"gt=0"`
}

// MaxDuration returns the wall-clock budget.
func (p PerformanceBudget) MaxDuration() time.Duration {
	return time.Duration(p.MaxOptimizationTimeMs) * time.Millisecond
}

// StopOverride replaces the inferred recovery profile of one stop. Nil
// fields keep the inferred value.
type StopOverride struct {
	StopID           string   `json:"stop_id" yaml:"stop_id" validate:"required"`
	StopType         string   `json:"stop_type,omitempty" yaml:"stop_type,omitempty"`
	FlexibilityScore *float64 `json:"flexibility_score,omitempty" yaml:"flexibility_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxCredit        *float64 `json:"max_credit,omitempty" yaml:"max_credit,omitempty" validate:"omitempty,gte=0"`
	MinRecoveryTime  *float64 `json:"min_recovery_time,omitempty" yaml:"min_recovery_time,omitempty" validate:"omitempty,gte=0"`
	MaxRecoveryTime  *float64 `json:"max_recovery_time,omitempty" yaml:"max_recovery_time,omitempty" validate:"omitempty,gte=0"`
}

// OptimizationConstraints are the operational limits of a run.
type OptimizationConstraints struct {
	// MaxTripDeviation is the largest cumulative shift of one trip, in minutes.
	MaxTripDeviation float64 `json:"max_trip_deviation" yaml:"max_trip_deviation" default:"10" validate:"gt=0"`
	MinRecoveryTime  float64 `json:"min_recovery_time" yaml:"min_recovery_time" validate:"gte=0"`
	MaxRecoveryTime  float64 `json:"max_recovery_time" yaml:"max_recovery_time" default:"30" validate:"gtefield=MinRecoveryTime"`

	// TargetHeadway is inferred from the schedule when zero.
	TargetHeadway    float64 `json:"target_headway" yaml:"target_headway" validate:"gte=0"`
	MinHeadway       float64 `json:"min_headway" yaml:"min_headway" default:"3" validate:"gte=0"`
	HeadwayTolerance float64 `json:"headway_tolerance" yaml:"headway_tolerance" default:"5" validate:"gte=0"`
	// HeadwayThreshold is the smallest deviation the corrector reacts to.
	HeadwayThreshold         float64 `json:"headway_threshold" yaml:"headway_threshold" default:"2" validate:"gte=0"`
	HeadwayWindow            int     `json:"headway_window" yaml:"headway_window" default:"3" validate:"gt=0"`
	HeadwayStrategy          string  `json:"headway_strategy" yaml:"headway_strategy" default:"exponential"`
	// HeadwayCorrectionCap limits each correction to this share of the
	// target headway. Zero leaves corrections uncapped.
	HeadwayCorrectionCap     float64 `json:"headway_correction_cap" yaml:"headway_correction_cap" validate:"gte=0,lte=1"`
	DisableHeadwayCorrection bool    `json:"disable_headway_correction" yaml:"disable_headway_correction"`

	AllocationStrategy    string  `json:"allocation_strategy" yaml:"allocation_strategy" default:"greedy" validate:"oneof=greedy lp"`
	EarlyTerminationScore float64 `json:"early_termination_score" yaml:"early_termination_score" default:"0.95" validate:"gt=0,lte=1"`

	// TypeWeights breaks priority ties between connection families.
	TypeWeights map[string]float64 `json:"type_weights" yaml:"type_weights"`

	StopOverrides []StopOverride    `json:"stop_overrides" yaml:"stop_overrides" validate:"dive"`
	Performance   PerformanceBudget `json:"performance" yaml:"performance"`
}

// DefaultTypeWeights ranks school bells above rail above bus routes.
func DefaultTypeWeights() map[string]float64 {
	return map[string]float64{
		ConnectionSchoolBell.String():   4,
		ConnectionRail.String():         3,
		ConnectionCollegeClass.String(): 2,
		ConnectionBusRoute.String():     1,
	}
}

// DefaultConstraints returns constraints populated from the default tags.
// It panics if a default tag does not parse.
func DefaultConstraints() OptimizationConstraints {
	var c OptimizationConstraints
	if err := c.ApplyDefaults(); err != nil {
		panic(err)
	}
	return c
}

// ApplyDefaults fills zero-valued fields from their default tags.
func (c *OptimizationConstraints) ApplyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("constraint defaults: %w", err)
	}
	if c.TypeWeights == nil {
		c.TypeWeights = DefaultTypeWeights()
	}
	return nil
}

// TypeWeight returns the tie-break weight for the connection type.
func (c OptimizationConstraints) TypeWeight(t ConnectionType) float64 {
	if c.TypeWeights != nil {
		if w, ok := c.TypeWeights[t.String()]; ok {
			return w
		}
	}
	return DefaultTypeWeights()[t.String()]
}
