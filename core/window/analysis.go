package window

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/connopt/core/model"
)

const (
	// A type is flagged below this success rate...
	flagSuccessRate = 0.6
	// ...or above this missed ratio.
	flagMissedRatio = 0.3
)

// ConnectionOutcome is the analysis of one requirement.
type ConnectionOutcome struct {
	ConnectionID string               `json:"connection_id"`
	Type         model.ConnectionType `json:"type"`
	TripNumber   int                  `json:"trip_number,omitempty"`
	Result       Result               `json:"result"`
	Served       bool                 `json:"served"`
}

// TypeBreakdown aggregates outcomes of one connection type.
type TypeBreakdown struct {
	Total       int     `json:"total"`
	Ideal       int     `json:"ideal"`
	Partial     int     `json:"partial"`
	Missed      int     `json:"missed"`
	SuccessRate float64 `json:"success_rate"`
	MissedRatio float64 `json:"missed_ratio"`
	Flagged     bool    `json:"flagged"`
}

// Analysis summarises how well a schedule meets its connection requirements.
type Analysis struct {
	Total           int                                     `json:"total"`
	Successful      int                                     `json:"successful"`
	SuccessRate     float64                                 `json:"success_rate"`
	AverageScore    float64                                 `json:"average_score"`
	ByType          map[model.ConnectionType]*TypeBreakdown `json:"by_type"`
	Outcomes        []ConnectionOutcome                     `json:"outcomes"`
	Recommendations []string                                `json:"recommendations"`
}

// AnalyzeAllConnections evaluates every requirement against the schedule. A
// requirement counts as successful when it is ideal or partial.
func (s *Service) AnalyzeAllConnections(sched *model.Schedule, requirements []model.ConnectionOpportunity) Analysis {
	a := Analysis{ByType: make(map[model.ConnectionType]*TypeBreakdown)}
	scores := make([]float64, 0, len(requirements))
	for _, req := range requirements {
		res, trip, ok := s.Evaluate(sched, req)
		out := ConnectionOutcome{ConnectionID: req.ID, Type: req.Type, Result: res, Served: ok}
		if trip != nil {
			out.TripNumber = trip.TripNumber
		}
		a.Outcomes = append(a.Outcomes, out)
		scores = append(scores, res.Score)

		b := a.ByType[req.Type]
		if b == nil {
			b = &TypeBreakdown{}
			a.ByType[req.Type] = b
		}
		b.Total++
		a.Total++
		switch res.Classification {
		case model.WindowIdeal:
			b.Ideal++
			a.Successful++
		case model.WindowPartial:
			b.Partial++
			a.Successful++
		default:
			b.Missed++
		}
	}
	if a.Total > 0 {
		a.SuccessRate = float64(a.Successful) / float64(a.Total)
		a.AverageScore = stat.Mean(scores, nil)
	}

	types := make([]model.ConnectionType, 0, len(a.ByType))
	for t := range a.ByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		b := a.ByType[t]
		b.SuccessRate = float64(b.Ideal+b.Partial) / float64(b.Total)
		b.MissedRatio = float64(b.Missed) / float64(b.Total)
		b.Flagged = b.SuccessRate < flagSuccessRate || b.MissedRatio > flagMissedRatio
		if b.Flagged {
			a.Recommendations = append(a.Recommendations, fmt.Sprintf(
				"%s connections need attention: %.0f%% success, %.0f%% missed",
				t, b.SuccessRate*100, b.MissedRatio*100))
		}
	}
	return a
}
