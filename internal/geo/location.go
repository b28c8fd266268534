// Package geo holds observer geometry: validated ground locations on the
// WGS-84 ellipsoid, Earth-fixed vectors, and the look angles from an observer
// to a point in space.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378.137              // semi-major axis (km)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

var (
	ErrInvalidLatitude  = errors.New("latitude must be within [-90, 90] degrees")
	ErrInvalidLongitude = errors.New("longitude must be within [-180, 180] degrees")
	ErrInvalidAltitude  = errors.New("altitude must be non-negative")
)

// Location is a ground observer in geodetic coordinates.
type Location struct {
	LatitudeDeg  float64 `json:"latitude_deg" mapstructure:"latitude"`
	LongitudeDeg float64 `json:"longitude_deg" mapstructure:"longitude"`
	AltitudeM    float64 `json:"altitude_m" mapstructure:"altitude"`
}

// Validate reports the first out-of-range coordinate.
func (l Location) Validate() error {
	if math.IsNaN(l.LatitudeDeg) || l.LatitudeDeg < -90 || l.LatitudeDeg > 90 {
		return fmt.Errorf("%w: %v", ErrInvalidLatitude, l.LatitudeDeg)
	}
	if math.IsNaN(l.LongitudeDeg) || l.LongitudeDeg < -180 || l.LongitudeDeg > 180 {
		return fmt.Errorf("%w: %v", ErrInvalidLongitude, l.LongitudeDeg)
	}
	if math.IsNaN(l.AltitudeM) || l.AltitudeM < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAltitude, l.AltitudeM)
	}
	return nil
}

// Vec3 is an Earth-centred Earth-fixed vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Observer caches the trigonometry and Earth-fixed position of a Location so
// that look angles to many satellites can be derived cheaply.
type Observer struct {
	loc            Location
	ecef           Vec3
	sinLat, cosLat float64
	sinLon, cosLon float64
}

// NewObserver validates loc and precomputes its ECEF position.
func NewObserver(loc Location) (*Observer, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	lat := loc.LatitudeDeg * math.Pi / 180
	lon := loc.LongitudeDeg * math.Pi / 180
	o := &Observer{
		loc:    loc,
		sinLat: math.Sin(lat),
		cosLat: math.Cos(lat),
		sinLon: math.Sin(lon),
		cosLon: math.Cos(lon),
	}
	o.ecef = GeodeticToECEF(loc)
	return o, nil
}

// Location returns the observer's geodetic location.
func (o *Observer) Location() Location { return o.loc }

// ECEF returns the observer's Earth-fixed position in km.
func (o *Observer) ECEF() Vec3 { return o.ecef }

// GeodeticToECEF converts a geodetic location to Earth-fixed km.
func GeodeticToECEF(loc Location) Vec3 {
	lat := loc.LatitudeDeg * math.Pi / 180
	lon := loc.LongitudeDeg * math.Pi / 180
	altKm := loc.AltitudeM / 1000

	sinLat := math.Sin(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Vec3{
		X: (n + altKm) * math.Cos(lat) * math.Cos(lon),
		Y: (n + altKm) * math.Cos(lat) * math.Sin(lon),
		Z: (n*(1-wgs84E2) + altKm) * sinLat,
	}
}
