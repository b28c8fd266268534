package tle

import (
	"errors"
	"time"
)

var (
	ErrEmptyCatalog     = errors.New("orbit catalog is empty")
	ErrStaleCatalog     = errors.New("orbit catalog is stale")
	ErrTooFewSatellites = errors.New("orbit catalog has too few satellites")
)

// TLEEntry is one satellite's orbital element set. Immutable once parsed.
type TLEEntry struct {
	NORADID int       `json:"norad_id"`
	Name    string    `json:"name"`
	Epoch   time.Time `json:"epoch"`
	Line1   string    `json:"line1"`
	Line2   string    `json:"line2"`
}

// EpochRange represents the minimum and maximum epoch times in a catalog.
type EpochRange struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// Metadata describes a catalog without exposing its entries.
type Metadata struct {
	Source     string     `json:"source"`
	FetchedAt  time.Time  `json:"fetched_at"`
	Count      int        `json:"satellite_count"`
	EpochRange EpochRange `json:"epoch_range"`
}
