// Package handover picks the best satellite at each instant and finds the
// instants where that choice changes.
package handover

import (
	"time"

	"github.com/star/starcover/internal/visibility"
	"github.com/star/starcover/internal/weather"
)

// NoSatellite is the NORAD id of a record with nothing above the threshold.
// It is a state of its own: moving into or out of it is a hand-over.
const NoSatellite = 0

// BestRecord is the selected satellite at one instant.
type BestRecord struct {
	Time         time.Time          `json:"timestamp"`
	NORADID      int                `json:"norad_id"`
	Name         string             `json:"name,omitempty"`
	ElevationDeg float64            `json:"elevation_deg"`
	AzimuthDeg   float64            `json:"azimuth_deg"`
	RangeKm      float64            `json:"range_km"`
	VisibleCount int                `json:"visible_count"`
	Conditions   weather.Conditions `json:"conditions"`
}

// Visible reports whether any satellite was above the threshold.
func (r BestRecord) Visible() bool { return r.NORADID != NoSatellite }

// better orders candidates by elevation descending, then NORAD id and name
// ascending, so equal elevations always resolve the same way.
func better(a, b visibility.Sample) bool {
	if a.ElevationDeg != b.ElevationDeg {
		return a.ElevationDeg > b.ElevationDeg
	}
	if a.NORADID != b.NORADID {
		return a.NORADID < b.NORADID
	}
	return a.Name < b.Name
}

// SelectBest returns one record per timestamp, in grid order. Instants with
// no visible satellite get a NoSatellite record with zero geometry. A nil
// source leaves Conditions zero.
func SelectBest(samples []visibility.Sample, timestamps []time.Time, src weather.Source) []BestRecord {
	groups := visibility.GroupByTime(samples, timestamps)
	out := make([]BestRecord, len(timestamps))

	for i, t := range timestamps {
		rec := BestRecord{Time: t, NORADID: NoSatellite, VisibleCount: len(groups[i])}
		if src != nil {
			rec.Conditions = src.At(t)
		}
		if len(groups[i]) > 0 {
			best := groups[i][0]
			for _, s := range groups[i][1:] {
				if better(s, best) {
					best = s
				}
			}
			rec.NORADID = best.NORADID
			rec.Name = best.Name
			rec.ElevationDeg = best.ElevationDeg
			rec.AzimuthDeg = best.AzimuthDeg
			rec.RangeKm = best.RangeKm
		}
		out[i] = rec
	}
	return out
}
