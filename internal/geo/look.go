package geo

import "math"

// LookAngles is the direction and distance from an observer to a target.
type LookAngles struct {
	AzimuthDeg   float64 // [0, 360), 0 = north, clockwise
	ElevationDeg float64 // [-90, 90], 0 = horizon
	RangeKm      float64
}

// Look computes the look angles from o to an Earth-fixed target (km) in the
// observer's east-north-up frame.
func (o *Observer) Look(target Vec3) LookAngles {
	d := target.Sub(o.ecef)

	east := -o.sinLon*d.X + o.cosLon*d.Y
	north := -o.sinLat*o.cosLon*d.X - o.sinLat*o.sinLon*d.Y + o.cosLat*d.Z
	up := o.cosLat*o.cosLon*d.X + o.cosLat*o.sinLon*d.Y + o.sinLat*d.Z

	rng := d.Norm()
	if rng == 0 {
		return LookAngles{ElevationDeg: 90}
	}

	el := math.Asin(clamp(up/rng, -1, 1)) * 180 / math.Pi
	return LookAngles{
		AzimuthDeg:   NormalizeAzimuth(math.Atan2(east, north) * 180 / math.Pi),
		ElevationDeg: el,
		RangeKm:      rng,
	}
}

// Point returns the Earth-fixed position seen from o at the given look
// angles. It is the inverse of Look.
func (o *Observer) Point(la LookAngles) Vec3 {
	az := la.AzimuthDeg * math.Pi / 180
	el := la.ElevationDeg * math.Pi / 180

	east := la.RangeKm * math.Cos(el) * math.Sin(az)
	north := la.RangeKm * math.Cos(el) * math.Cos(az)
	up := la.RangeKm * math.Sin(el)

	return Vec3{
		X: o.ecef.X - o.sinLon*east - o.sinLat*o.cosLon*north + o.cosLat*o.cosLon*up,
		Y: o.ecef.Y + o.cosLon*east - o.sinLat*o.sinLon*north + o.cosLat*o.sinLon*up,
		Z: o.ecef.Z + o.cosLat*north + o.sinLat*up,
	}
}

// NormalizeAzimuth maps any angle in degrees into [0, 360).
func NormalizeAzimuth(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
