package headway

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Strategy decides how a deviation is spread over the following trips.
type Strategy interface {
	Name() string
	// Factors returns the share of the correction applied at each offset
	// within the window. Factors are non-increasing and start at most at 1.
	Factors(window int) []float64
	// Effective turns the observed deviation into the one to correct, given
	// the deviations observed on earlier trips.
	Effective(deviation float64, history []float64) float64
}

// DefaultDecay is the exponential smoothing profile.
var DefaultDecay = []float64{1.0, 0.6, 0.2}

// Exponential applies fixed decay factors.
type Exponential struct {
	Decay []float64
}

func (Exponential) Name() string { return "exponential" }

func (e Exponential) Factors(window int) []float64 {
	decay := e.Decay
	if len(decay) == 0 {
		decay = DefaultDecay
	}
	out := make([]float64, window)
	copy(out, decay)
	return out
}

func (Exponential) Effective(dev float64, _ []float64) float64 { return dev }

// Linear interpolates from a full correction down to zero at the window edge.
type Linear struct{}

func (Linear) Name() string { return "linear" }

func (Linear) Factors(window int) []float64 {
	out := make([]float64, window)
	for i := range out {
		out[i] = 1 - float64(i)/float64(window)
	}
	return out
}

func (Linear) Effective(dev float64, _ []float64) float64 { return dev }

// WeightedHistorical blends the deviation with the mean of earlier ones so a
// single outlier is damped.
type WeightedHistorical struct {
	// Alpha is the weight of the current deviation.
	Alpha float64
}

func (WeightedHistorical) Name() string { return "weighted_historical" }

func (WeightedHistorical) Factors(window int) []float64 {
	return Exponential{}.Factors(window)
}

func (w WeightedHistorical) Effective(dev float64, history []float64) float64 {
	if len(history) == 0 {
		return dev
	}
	return w.Alpha*dev + (1-w.Alpha)*stat.Mean(history, nil)
}

// Momentum amplifies deviations that are growing from trip to trip.
type Momentum struct {
	Beta float64
}

func (Momentum) Name() string { return "momentum" }

func (Momentum) Factors(window int) []float64 {
	return Exponential{}.Factors(window)
}

func (m Momentum) Effective(dev float64, history []float64) float64 {
	if len(history) == 0 {
		return dev
	}
	velocity := dev - history[len(history)-1]
	return dev + m.Beta*velocity
}

// StrategyByName returns the named strategy with its default parameters.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "exponential":
		return Exponential{Decay: DefaultDecay}, nil
	case "linear":
		return Linear{}, nil
	case "weighted_historical", "historical":
		return WeightedHistorical{Alpha: 0.7}, nil
	case "momentum":
		return Momentum{Beta: 0.5}, nil
	default:
		return nil, fmt.Errorf("unknown headway strategy %q", name)
	}
}
