// Package analysis runs the full coverage, hand-over and survival pipeline
// for one observer. Each Run owns its inputs and outputs; the catalog is the
// only shared value and is never modified.
package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/visibility"
)

var (
	ErrInvalidInterval = errors.New("analysis: sampling interval must be positive")
	ErrInvalidDuration = errors.New("analysis: duration must cover at least one interval")
	ErrSubSecond       = errors.New("analysis: start and interval must be whole seconds")
)

// Params are the inputs of one run.
type Params struct {
	Observer        geo.Location  `json:"observer"`
	Start           time.Time     `json:"start"`
	Duration        time.Duration `json:"-"`
	Interval        time.Duration `json:"-"`
	MinElevationDeg float64       `json:"min_elevation"`
	CensorTrailing  bool          `json:"censor_trailing"`

	WindowMinVisible  int           `json:"window_min_visible"`
	WindowMinDuration time.Duration `json:"-"`
}

// MarshalJSON writes durations in Go duration notation.
func (p Params) MarshalJSON() ([]byte, error) {
	type plain Params
	return json.Marshal(struct {
		plain
		Duration          string `json:"duration"`
		Interval          string `json:"interval"`
		WindowMinDuration string `json:"window_min_duration"`
	}{plain(p), p.Duration.String(), p.Interval.String(), p.WindowMinDuration.String()})
}

// DefaultParams observes from Taipei for 24 hours at one-minute steps.
func DefaultParams() Params {
	return Params{
		Observer:          geo.Location{LatitudeDeg: 25.0330, LongitudeDeg: 121.5654, AltitudeM: 10},
		Duration:          24 * time.Hour,
		Interval:          time.Minute,
		MinElevationDeg:   25,
		WindowMinVisible:  coverage.DefaultWindowMinVisible,
		WindowMinDuration: coverage.DefaultWindowMinDuration,
	}
}

// Validate checks every field a run depends on. Propagation resolves whole
// seconds only, so Start and Interval must not carry a fractional second.
func (p Params) Validate() error {
	if err := p.Observer.Validate(); err != nil {
		return err
	}
	if p.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, p.Interval)
	}
	if p.Interval%time.Second != 0 {
		return fmt.Errorf("%w: interval %s", ErrSubSecond, p.Interval)
	}
	if p.Start.Nanosecond() != 0 {
		return fmt.Errorf("%w: start %s", ErrSubSecond, p.Start.Format(time.RFC3339Nano))
	}
	if p.Duration < p.Interval {
		return fmt.Errorf("%w: %s with interval %s", ErrInvalidDuration, p.Duration, p.Interval)
	}
	return visibility.ValidateThreshold(p.MinElevationDeg)
}

// TimeGrid returns floor(duration/interval) instants start, start+interval,
// and so on.
func TimeGrid(start time.Time, duration, interval time.Duration) ([]time.Time, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	n := int(duration / interval)
	if n < 1 {
		return nil, fmt.Errorf("%w: %s with interval %s", ErrInvalidDuration, duration, interval)
	}
	start = start.UTC()
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = start.Add(time.Duration(i) * interval)
	}
	return ts, nil
}
