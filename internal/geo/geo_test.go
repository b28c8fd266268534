package geo

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func mustObserver(t *testing.T, lat, lon, alt float64) *Observer {
	t.Helper()
	o, err := NewObserver(Location{LatitudeDeg: lat, LongitudeDeg: lon, AltitudeM: alt})
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	return o
}

func TestLocationValidate(t *testing.T) {
	tests := []struct {
		name string
		loc  Location
		want error
	}{
		{"taipei", Location{25.033, 121.5654, 10}, nil},
		{"pole", Location{90, 180, 0}, nil},
		{"lat high", Location{90.1, 0, 0}, ErrInvalidLatitude},
		{"lat nan", Location{math.NaN(), 0, 0}, ErrInvalidLatitude},
		{"lon low", Location{0, -180.5, 0}, ErrInvalidLongitude},
		{"negative alt", Location{0, 0, -1}, ErrInvalidAltitude},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.loc.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGeodeticToECEFRadii(t *testing.T) {
	eq := GeodeticToECEF(Location{0, 0, 0}).Norm()
	if !floats.EqualWithinAbs(eq, 6378.137, 1e-3) {
		t.Errorf("equatorial radius = %.4f km, want 6378.137", eq)
	}
	pole := GeodeticToECEF(Location{90, 0, 0}).Norm()
	if !floats.EqualWithinAbs(pole, 6356.752, 1e-3) {
		t.Errorf("polar radius = %.4f km, want 6356.752", pole)
	}
	up := GeodeticToECEF(Location{0, 0, 1000}).Norm()
	if !floats.EqualWithinAbs(up-eq, 1.0, 1e-6) {
		t.Errorf("1000 m altitude added %.6f km", up-eq)
	}
}

func TestLookOverhead(t *testing.T) {
	o := mustObserver(t, 0, 0, 0)
	sat := Vec3{X: o.ECEF().X + 550, Y: 0, Z: 0}

	la := o.Look(sat)
	if !floats.EqualWithinAbs(la.ElevationDeg, 90, 0.1) {
		t.Errorf("overhead elevation = %.3f, want 90", la.ElevationDeg)
	}
	if !floats.EqualWithinAbs(la.RangeKm, 550, 1) {
		t.Errorf("overhead range = %.3f km, want 550", la.RangeKm)
	}
}

func TestLookCardinalAzimuths(t *testing.T) {
	o := mustObserver(t, 0, 0, 0)
	tests := []struct {
		name   string
		target Location
		wantAz float64
	}{
		{"north", Location{10, 0, 400000}, 0},
		{"east", Location{0, 10, 400000}, 90},
		{"south", Location{-10, 0, 400000}, 180},
		{"west", Location{0, -10, 400000}, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			la := o.Look(GeodeticToECEF(tt.target))
			diff := math.Abs(la.AzimuthDeg - tt.wantAz)
			if diff > 180 {
				diff = 360 - diff
			}
			if diff > 1 {
				t.Errorf("azimuth = %.2f, want %.0f", la.AzimuthDeg, tt.wantAz)
			}
			if la.AzimuthDeg < 0 || la.AzimuthDeg >= 360 {
				t.Errorf("azimuth %.2f outside [0,360)", la.AzimuthDeg)
			}
		})
	}
}

// TestPointRoundTrip verifies Point is the inverse of Look to well within the
// 0.1° / 1 km precision targets.
func TestPointRoundTrip(t *testing.T) {
	o := mustObserver(t, 25.033, 121.5654, 10)
	for _, want := range []LookAngles{
		{AzimuthDeg: 0, ElevationDeg: 30, RangeKm: 900},
		{AzimuthDeg: 123.4, ElevationDeg: 67.8, RangeKm: 600},
		{AzimuthDeg: 359.5, ElevationDeg: 25, RangeKm: 1100},
		{AzimuthDeg: 210, ElevationDeg: -5, RangeKm: 2500},
	} {
		got := o.Look(o.Point(want))
		if !floats.EqualWithinAbs(got.ElevationDeg, want.ElevationDeg, 1e-6) ||
			!floats.EqualWithinAbs(got.RangeKm, want.RangeKm, 1e-6) {
			t.Errorf("round trip %+v -> %+v", want, got)
		}
		d := math.Abs(got.AzimuthDeg - want.AzimuthDeg)
		if d > 180 {
			d = 360 - d
		}
		if d > 1e-6 {
			t.Errorf("azimuth round trip %.6f -> %.6f", want.AzimuthDeg, got.AzimuthDeg)
		}
	}
}

func TestNormalizeAzimuth(t *testing.T) {
	for in, want := range map[float64]float64{0: 0, 360: 0, -90: 270, 725: 5, 359.9: 359.9} {
		if got := NormalizeAzimuth(in); !floats.EqualWithinAbs(got, want, 1e-9) {
			t.Errorf("NormalizeAzimuth(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestCompassDirection(t *testing.T) {
	tests := []struct {
		az   float64
		want Direction
	}{
		{0, North},
		{22.4, North},
		{22.5, NorthEast},
		{90, East},
		{180, South},
		{247.5, West},
		{315, NorthWest},
		{337.5, North},
		{359.9, North},
	}
	for _, tt := range tests {
		if got := CompassDirection(tt.az); got != tt.want {
			t.Errorf("CompassDirection(%v) = %s, want %s", tt.az, got, tt.want)
		}
	}
	if North.String() != "N" || NorthWest.String() != "NW" {
		t.Error("unexpected direction names")
	}
}

func TestDirectionText(t *testing.T) {
	for _, d := range Directions {
		b, err := d.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got Direction
		if err := got.UnmarshalText(b); err != nil || got != d {
			t.Errorf("round trip %s -> %s (%v)", d, got, err)
		}
	}
	var d Direction
	if err := d.UnmarshalText([]byte("NNE")); err == nil {
		t.Error("expected error for unknown direction")
	}
}
