// Package coverage reduces a run's visibility series to summary statistics.
package coverage

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/handover"
	"github.com/star/starcover/internal/visibility"
)

// Params are the run settings echoed into Stats.
type Params struct {
	Observer        geo.Location
	MinElevationDeg float64
	Duration        time.Duration
}

// Stats is the scalar summary of one run. Every field is zero when there
// was nothing to aggregate.
type Stats struct {
	Timestamps      int          `json:"timestamps"`
	Samples         int          `json:"visibility_samples"`
	AvgVisible      float64      `json:"avg_visible_satellites"`
	MinVisible      int          `json:"min_visible_satellites"`
	MaxVisible      int          `json:"max_visible_satellites"`
	CoveragePercent float64      `json:"coverage_percentage"`
	AvgElevationDeg float64      `json:"avg_elevation"`
	AvgElevationAll float64      `json:"avg_elevation_all"`
	MaxElevationDeg float64      `json:"max_elevation"`
	DurationMinutes float64      `json:"analysis_duration_minutes"`
	Observer        geo.Location `json:"observer"`
	MinElevationDeg float64      `json:"min_elevation_threshold"`
}

// Aggregate computes Stats. Visible counts come from samples grouped onto
// the series' timestamps. AvgElevationDeg and MaxElevationDeg cover only
// records where a satellite was visible; AvgElevationAll averages every
// record, counting none-visible records as 0°.
func Aggregate(samples []visibility.Sample, series []handover.BestRecord, p Params) Stats {
	st := Stats{
		DurationMinutes: p.Duration.Minutes(),
		Observer:        p.Observer,
		MinElevationDeg: p.MinElevationDeg,
	}
	if len(series) == 0 {
		return st
	}

	times := make([]time.Time, len(series))
	for i, r := range series {
		times[i] = r.Time
	}
	groups := visibility.GroupByTime(samples, times)

	counts := make([]float64, len(groups))
	var covered int
	for i, g := range groups {
		counts[i] = float64(len(g))
		st.Samples += len(g)
		if len(g) > 0 {
			covered++
		}
	}

	var elevations []float64
	all := make([]float64, len(series))
	for i, r := range series {
		all[i] = r.ElevationDeg
		if r.Visible() {
			elevations = append(elevations, r.ElevationDeg)
		}
	}

	st.Timestamps = len(series)
	st.AvgVisible = stat.Mean(counts, nil)
	st.MinVisible = int(floats.Min(counts))
	st.MaxVisible = int(floats.Max(counts))
	st.CoveragePercent = 100 * float64(covered) / float64(len(series))
	st.AvgElevationAll = stat.Mean(all, nil)
	if len(elevations) > 0 {
		st.AvgElevationDeg = stat.Mean(elevations, nil)
		st.MaxElevationDeg = floats.Max(elevations)
	}
	return st
}
