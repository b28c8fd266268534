package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/star/starcover/internal/analysis"
	"github.com/star/starcover/internal/survival"
)

// File names written by WriteAll.
const (
	TimeSeriesFile = "time_series.csv"
	EventsFile     = "handover_events.csv"
	CurvesFile     = "km_curves.csv"
	CoxFile        = "cox_coefficients.csv"
	HourlyFile     = "hourly_profile.csv"
	StatsFile      = "coverage_stats.json"
	WindowsFile    = "observation_windows.json"
	SurvivalFile   = "survival_model.json"
	ManifestFile   = "manifest.json"
)

// Manifest lists what a WriteAll call produced.
type Manifest struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
	Files       []string  `json:"files"`
}

type step struct {
	name string
	fn   func(io.Writer) error
}

// WriteJSON encodes v with two-space indentation.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAll writes every table for res into dir, creating it if needed, and
// finishes with the manifest. Survival files are skipped when no model was
// fitted.
func WriteAll(dir string, res *analysis.Result) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	m := &Manifest{RunID: res.RunID, Status: res.Status, GeneratedAt: time.Now().UTC()}

	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		m.Files = append(m.Files, name)
		return nil
	}

	steps := []step{
		{TimeSeriesFile, func(w io.Writer) error { return WriteTimeSeries(w, res.Series) }},
		{EventsFile, func(w io.Writer) error { return WriteEvents(w, res.Detection.Events) }},
		{HourlyFile, func(w io.Writer) error { return WriteHourly(w, res.Hourly) }},
		{StatsFile, func(w io.Writer) error { return WriteJSON(w, res.Stats) }},
		{WindowsFile, func(w io.Writer) error { return WriteJSON(w, res.Windows) }},
	}
	if s := res.Survival; s != nil {
		curves := append([]survival.Curve{s.Overall}, prefixed("elevation=", s.ByElevation)...)
		curves = append(curves, prefixed("rain=", s.ByRain)...)
		steps = append(steps,
			step{CurvesFile, func(w io.Writer) error { return WriteCurves(w, curves...) }},
			step{SurvivalFile, func(w io.Writer) error { return WriteJSON(w, s) }},
		)
		if s.Cox != nil {
			steps = append(steps, step{CoxFile, func(w io.Writer) error { return WriteCox(w, s.Cox) }})
		}
	}

	for _, st := range steps {
		if err := write(st.name, st.fn); err != nil {
			return nil, err
		}
	}
	if err := write(ManifestFile, func(w io.Writer) error { return WriteJSON(w, m) }); err != nil {
		return nil, err
	}
	return m, nil
}

func prefixed(prefix string, curves []survival.Curve) []survival.Curve {
	out := make([]survival.Curve, len(curves))
	for i, c := range curves {
		c.Stratum = prefix + c.Stratum
		out[i] = c
	}
	return out
}
