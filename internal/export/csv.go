// Package export writes run results as flat CSV and JSON files for the
// reporting layer.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/handover"
	"github.com/star/starcover/internal/survival"
)

// Column headers, in file order.
var (
	TimeSeriesHeader = []string{"timestamp", "visible_count", "best_satellite", "best_norad_id", "elevation", "azimuth", "distance_km", "direction", "rain", "wind_ms"}
	EventsHeader     = []string{"sequence_id", "timestamp", "from_norad_id", "to_norad_id", "from_satellite", "to_satellite", "from_elevation", "to_elevation", "from_azimuth", "direction", "rain", "interval_minutes", "censored"}
	CurvesHeader     = []string{"stratum", "time_minutes", "n_risk", "n_event", "n_censor", "survival", "std_err", "lower", "upper"}
	CoxHeader        = []string{"term", "coef", "exp_coef", "se", "z", "p"}
	HourlyHeader     = []string{"hour", "records", "avg_visible_satellites", "coverage_percentage"}
)

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func writeAll(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// WriteTimeSeries writes one row per timestamp. Satellite columns are empty
// and elevation is 0 where nothing was visible.
func WriteTimeSeries(w io.Writer, series []handover.BestRecord) error {
	rows := make([][]string, len(series))
	for i, r := range series {
		row := []string{
			r.Time.UTC().Format(time.RFC3339),
			strconv.Itoa(r.VisibleCount),
			"", "", "0", "", "", "",
			btoa(r.Conditions.Rain),
			ftoa(r.Conditions.WindMS),
		}
		if r.Visible() {
			row[2] = r.Name
			row[3] = strconv.Itoa(r.NORADID)
			row[4] = ftoa(r.ElevationDeg)
			row[5] = ftoa(r.AzimuthDeg)
			row[6] = ftoa(r.RangeKm)
			row[7] = geo.CompassDirection(r.AzimuthDeg).String()
		}
		rows[i] = row
	}
	return writeAll(w, TimeSeriesHeader, rows)
}

// WriteEvents writes the hand-over event table. NORAD id 0 stands for no
// visible satellite.
func WriteEvents(w io.Writer, events []handover.Event) error {
	rows := make([][]string, len(events))
	for i, e := range events {
		rows[i] = []string{
			strconv.Itoa(e.SequenceID),
			e.Time.UTC().Format(time.RFC3339),
			strconv.Itoa(e.FromNORADID),
			strconv.Itoa(e.ToNORADID),
			e.FromName,
			e.ToName,
			ftoa(e.FromElevationDeg),
			ftoa(e.ToElevationDeg),
			ftoa(e.FromAzimuthDeg),
			e.Direction.String(),
			btoa(e.Rain),
			ftoa(e.IntervalMinutes()),
			btoa(e.Censored),
		}
	}
	return writeAll(w, EventsHeader, rows)
}

// WriteCurves writes Kaplan-Meier curves stacked in one table, labelled by
// stratum.
func WriteCurves(w io.Writer, curves ...survival.Curve) error {
	var rows [][]string
	for _, c := range curves {
		for _, p := range c.Points {
			rows = append(rows, []string{
				c.Stratum,
				ftoa(p.Minutes),
				strconv.Itoa(p.NRisk),
				strconv.Itoa(p.NEvent),
				strconv.Itoa(p.NCensor),
				ftoa(p.Survival),
				ftoa(p.StdErr),
				ftoa(p.Lower),
				ftoa(p.Upper),
			})
		}
	}
	return writeAll(w, CurvesHeader, rows)
}

// WriteCox writes the coefficient table.
func WriteCox(w io.Writer, m *survival.CoxModel) error {
	var rows [][]string
	if m != nil {
		for _, t := range m.Terms {
			rows = append(rows, []string{t.Name, ftoa(t.Coef), ftoa(t.HazardRatio), ftoa(t.StdErr), ftoa(t.Z), ftoa(t.P)})
		}
	}
	return writeAll(w, CoxHeader, rows)
}

// WriteHourly writes the hour-of-day profile.
func WriteHourly(w io.Writer, buckets []coverage.HourBucket) error {
	rows := make([][]string, len(buckets))
	for i, b := range buckets {
		rows[i] = []string{strconv.Itoa(b.Hour), strconv.Itoa(b.Records), ftoa(b.AvgVisible), ftoa(b.CoveragePercent)}
	}
	return writeAll(w, HourlyHeader, rows)
}
