// Package propagation turns orbital element sets into Earth-fixed positions.
//
// SGP4 library choice: github.com/joshuaferrara/go-satellite. Pure Go, explicit
// TEME output, and it ships the Julian date, GMST and ECI->ECEF helpers we
// need, so the whole propagation chain uses one consistent time model.
//
// Propagate() takes the Satellite by value, so SGP4 error codes raised during
// propagation are invisible. Failures are detected from the output instead:
// NaN/Inf components or a position magnitude outside any Earth orbit.
package propagation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/tle"
)

// ErrSubSecondInstant is returned for instants go-satellite cannot resolve:
// its Julian date takes integer seconds.
var ErrSubSecondInstant = errors.New("propagation: instant has a fractional second")

// Position magnitude limits (km) for a plausible Earth orbit.
const (
	minOrbitRadiusKm = 6200.0
	maxOrbitRadiusKm = 50000.0
)

// Propagator yields a satellite's Earth-fixed position at an instant.
// Implementations must be safe for concurrent use.
type Propagator interface {
	PositionAt(t time.Time) (geo.Vec3, error)
}

// Factory builds a Propagator for one catalog entry.
type Factory func(entry tle.TLEEntry) (Propagator, error)

// SGP4 propagates a single element set. It holds no mutable state after
// construction.
type SGP4 struct {
	sat     satellite.Satellite
	noradID int
}

// NewSGP4 initialises SGP4 for entry. It validates the line format first
// because go-satellite calls log.Fatal on malformed input.
func NewSGP4(entry tle.TLEEntry) (Propagator, error) {
	if err := validateLines(entry.Line1, entry.Line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", entry.NORADID, err)
	}

	sat := satellite.TLEToSat(strings.TrimSpace(entry.Line1), strings.TrimSpace(entry.Line2), satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", entry.NORADID, sat.Error, sat.ErrorStr)
	}
	return &SGP4{sat: sat, noradID: entry.NORADID}, nil
}

func validateLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	if strings.TrimSpace(line1[2:7]) != strings.TrimSpace(line2[2:7]) {
		return fmt.Errorf("catalog numbers differ between lines")
	}
	return nil
}

// PositionAt returns the ECEF position in km at t. t must fall on a whole
// second.
func (p *SGP4) PositionAt(t time.Time) (geo.Vec3, error) {
	if t.Nanosecond() != 0 {
		return geo.Vec3{}, fmt.Errorf("NORAD %d at %s: %w", p.noradID, t.Format(time.RFC3339Nano), ErrSubSecondInstant)
	}
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	eci, _ := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	if !finite(eci.X) || !finite(eci.Y) || !finite(eci.Z) {
		return geo.Vec3{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", p.noradID)
	}

	mag := math.Sqrt(eci.X*eci.X + eci.Y*eci.Y + eci.Z*eci.Z)
	if mag < minOrbitRadiusKm || mag > maxOrbitRadiusKm {
		return geo.Vec3{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", p.noradID, mag)
	}

	gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, min, sec))
	ecef := satellite.ECIToECEF(eci, gmst)
	return geo.Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
