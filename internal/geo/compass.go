package geo

import (
	"fmt"
	"math"
)

// Direction is an eight-point compass sector.
type Direction int

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// Directions lists every sector in compass order.
var Directions = []Direction{North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}

var directionNames = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func (d Direction) String() string {
	if d < North || d > NorthWest {
		return "?"
	}
	return directionNames[d]
}

// MarshalText encodes the sector by its short name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a short sector name such as "NE".
func (d *Direction) UnmarshalText(b []byte) error {
	for i, name := range directionNames {
		if name == string(b) {
			*d = Direction(i)
			return nil
		}
	}
	return fmt.Errorf("unknown compass direction %q", b)
}

// CompassDirection returns the 45° sector centred on the given azimuth, so
// N covers [337.5, 22.5).
func CompassDirection(azimuthDeg float64) Direction {
	idx := int(math.Floor(NormalizeAzimuth(azimuthDeg)/45+0.5)) % 8
	return Direction(idx)
}
