package coverage

import "github.com/star/starcover/internal/handover"

// HourBucket aggregates all records falling in one UTC hour of day.
type HourBucket struct {
	Hour            int     `json:"hour"`
	Records         int     `json:"records"`
	AvgVisible      float64 `json:"avg_visible_satellites"`
	CoveragePercent float64 `json:"coverage_percentage"`
}

// HourlyProfile returns 24 buckets, one per UTC hour. Hours without records
// stay zero.
func HourlyProfile(series []handover.BestRecord) []HourBucket {
	out := make([]HourBucket, 24)
	sums := make([]int, 24)
	covered := make([]int, 24)
	for h := range out {
		out[h].Hour = h
	}
	for _, r := range series {
		h := r.Time.UTC().Hour()
		out[h].Records++
		sums[h] += r.VisibleCount
		if r.VisibleCount > 0 {
			covered[h]++
		}
	}
	for h := range out {
		if n := out[h].Records; n > 0 {
			out[h].AvgVisible = float64(sums[h]) / float64(n)
			out[h].CoveragePercent = 100 * float64(covered[h]) / float64(n)
		}
	}
	return out
}
