package handover

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses a Detection for reports and API responses.
type Summary struct {
	Switches          int     `json:"switches"`
	Events            int     `json:"events"`
	Censored          int     `json:"censored"`
	MeanIntervalMin   float64 `json:"mean_interval_minutes"`
	MedianIntervalMin float64 `json:"median_interval_minutes"`
	MinIntervalMin    float64 `json:"min_interval_minutes"`
	MaxIntervalMin    float64 `json:"max_interval_minutes"`
}

// Summarize computes interval statistics over d.Events. Censored intervals
// are included as observed lengths.
func Summarize(d Detection) Summary {
	s := Summary{Switches: d.Switches, Events: len(d.Events)}
	if len(d.Events) == 0 {
		return s
	}

	iv := make([]float64, len(d.Events))
	for i, e := range d.Events {
		iv[i] = e.IntervalMinutes()
		if e.Censored {
			s.Censored++
		}
	}
	sort.Float64s(iv)

	s.MeanIntervalMin = stat.Mean(iv, nil)
	s.MedianIntervalMin = stat.Quantile(0.5, stat.Empirical, iv, nil)
	s.MinIntervalMin = floats.Min(iv)
	s.MaxIntervalMin = floats.Max(iv)
	return s
}
