// Package weather supplies the environmental covariates attached to each
// best-satellite record.
package weather

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Conditions is the weather at one instant.
type Conditions struct {
	Rain   bool    `json:"rain"`
	WindMS float64 `json:"wind_ms"`
}

// Source answers the conditions at an instant. Implementations must be safe
// for concurrent use.
type Source interface {
	At(t time.Time) Conditions
}

// DefaultRainProbability is the share of simulated hours with rain.
const DefaultRainProbability = 0.2

// windModel is the simulated wind speed distribution (m/s).
var windModel = distuv.Weibull{K: 2, Lambda: 6}

// Simulated draws conditions from a seeded generator in whole-hour blocks,
// so a given seed and hour always yield the same weather.
type Simulated struct {
	seed            uint64
	rainProbability float64
}

// NewSimulated returns a simulated source. Probabilities outside [0, 1] are
// clamped.
func NewSimulated(seed int64, rainProbability float64) *Simulated {
	if math.IsNaN(rainProbability) || rainProbability < 0 {
		rainProbability = 0
	}
	if rainProbability > 1 {
		rainProbability = 1
	}
	return &Simulated{seed: uint64(seed), rainProbability: rainProbability}
}

// At implements Source.
func (s *Simulated) At(t time.Time) Conditions {
	hour := t.UTC().Truncate(time.Hour).Unix() / 3600
	r := rand.New(rand.NewPCG(s.seed, uint64(hour)))
	return Conditions{
		Rain:   r.Float64() < s.rainProbability,
		WindMS: windModel.Quantile(r.Float64()),
	}
}

// Dry reports no rain and no wind everywhere.
type Dry struct{}

// At implements Source.
func (Dry) At(time.Time) Conditions { return Conditions{} }
