package handover

import (
	"encoding/json"
	"time"

	"github.com/star/starcover/internal/geo"
)

// Event is a change of best satellite between two consecutive records.
type Event struct {
	Time             time.Time     `json:"timestamp"`
	FromNORADID      int           `json:"from_norad_id"`
	ToNORADID        int           `json:"to_norad_id"`
	FromName         string        `json:"from_name,omitempty"`
	ToName           string        `json:"to_name,omitempty"`
	FromElevationDeg float64       `json:"from_elevation_deg"`
	ToElevationDeg   float64       `json:"to_elevation_deg"`
	FromAzimuthDeg   float64       `json:"from_azimuth_deg"`
	Direction        geo.Direction `json:"direction"`
	Rain             bool          `json:"rain"`
	Interval         time.Duration `json:"-"`
	SequenceID       int           `json:"sequence_id"`
	Censored         bool          `json:"censored"`
}

// IntervalMinutes returns Interval in minutes.
func (e Event) IntervalMinutes() float64 { return e.Interval.Minutes() }

// MarshalJSON reports the interval in minutes.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		IntervalMinutes float64 `json:"interval_minutes"`
	}{plain(e), e.IntervalMinutes()})
}

// Options controls the trailing hand-over.
type Options struct {
	// CensorTrailing keeps the last hand-over, measuring its interval to
	// WindowEnd and marking it censored. Off, the last hand-over is dropped
	// because no following hand-over closes its interval.
	CensorTrailing bool
	// WindowEnd is the end of the analysis window. Zero means the time of
	// the last record.
	WindowEnd time.Time
}

// Detection is the result of scanning a best-satellite series.
type Detection struct {
	// Switches counts every identity change between consecutive records.
	Switches int `json:"switches"`
	// Events are the hand-overs with a defined interval, numbered from 1.
	Events []Event `json:"events"`
}

// Detect walks series pairwise and records a hand-over at i+1 whenever the
// best NORAD id differs from record i. Each event's interval runs to the
// next hand-over. The series must be in time order.
func Detect(series []BestRecord, opts Options) Detection {
	var raw []Event
	for i := 0; i+1 < len(series); i++ {
		from, to := series[i], series[i+1]
		if from.NORADID == to.NORADID {
			continue
		}
		az := from.AzimuthDeg
		if !from.Visible() {
			az = to.AzimuthDeg
		}
		raw = append(raw, Event{
			Time:             to.Time,
			FromNORADID:      from.NORADID,
			ToNORADID:        to.NORADID,
			FromName:         from.Name,
			ToName:           to.Name,
			FromElevationDeg: from.ElevationDeg,
			ToElevationDeg:   to.ElevationDeg,
			FromAzimuthDeg:   from.AzimuthDeg,
			Direction:        geo.CompassDirection(az),
			Rain:             to.Conditions.Rain,
		})
	}

	d := Detection{Switches: len(raw)}
	if len(raw) == 0 {
		return d
	}

	for k := 0; k+1 < len(raw); k++ {
		raw[k].Interval = raw[k+1].Time.Sub(raw[k].Time)
	}

	keep := len(raw) - 1
	if opts.CensorTrailing {
		end := opts.WindowEnd
		if end.IsZero() {
			end = series[len(series)-1].Time
		}
		last := &raw[len(raw)-1]
		if iv := end.Sub(last.Time); iv > 0 {
			last.Interval = iv
			last.Censored = true
			keep = len(raw)
		}
	}

	d.Events = raw[:keep]
	for k := range d.Events {
		d.Events[k].SequenceID = k + 1
	}
	return d
}
