package coverage

import (
	"sort"
	"time"

	"github.com/star/starcover/internal/handover"
)

// Default observation window criteria.
const (
	DefaultWindowMinVisible  = 3
	DefaultWindowMinDuration = 30 * time.Minute
)

// Window is a stretch of consecutive records with enough satellites in view.
// End is exclusive: the instant after the last qualifying record.
type Window struct {
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Duration   time.Duration `json:"-"`
	Minutes    float64       `json:"duration_minutes"`
	AvgVisible float64       `json:"avg_visible_satellites"`
	MinVisible int           `json:"min_visible_satellites"`
}

// Windows finds runs where VisibleCount stays at or above minVisible for at
// least minDuration, best average first. The series must be evenly spaced
// and in time order.
func Windows(series []handover.BestRecord, minVisible int, minDuration time.Duration) []Window {
	if len(series) == 0 {
		return nil
	}
	var step time.Duration
	if len(series) > 1 {
		step = series[1].Time.Sub(series[0].Time)
	}

	var out []Window
	for i := 0; i < len(series); {
		if series[i].VisibleCount < minVisible {
			i++
			continue
		}
		j, sum, low := i, 0, series[i].VisibleCount
		for ; j < len(series) && series[j].VisibleCount >= minVisible; j++ {
			sum += series[j].VisibleCount
			if series[j].VisibleCount < low {
				low = series[j].VisibleCount
			}
		}
		w := Window{
			Start:      series[i].Time,
			End:        series[j-1].Time.Add(step),
			AvgVisible: float64(sum) / float64(j-i),
			MinVisible: low,
		}
		w.Duration = w.End.Sub(w.Start)
		w.Minutes = w.Duration.Minutes()
		if w.Duration >= minDuration {
			out = append(out, w)
		}
		i = j
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].AvgVisible != out[b].AvgVisible {
			return out[a].AvgVisible > out[b].AvgVisible
		}
		return out[a].Start.Before(out[b].Start)
	})
	return out
}
