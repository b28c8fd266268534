package tle

import (
	"fmt"
	"sort"
	"time"
)

// Catalog is an immutable, de-duplicated set of element sets. One catalog is
// shared read-only by every analysis run that uses it.
type Catalog struct {
	source     string
	fetchedAt  time.Time
	epochRange EpochRange
	entries    []TLEEntry
}

// NewCatalog builds a catalog from parsed entries. Duplicate NORAD ids keep the
// entry with the newest epoch. Entries are ordered by NORAD id.
func NewCatalog(entries []TLEEntry, source string, fetchedAt time.Time) *Catalog {
	byID := make(map[int]TLEEntry, len(entries))
	for _, e := range entries {
		if prev, ok := byID[e.NORADID]; ok && !e.Epoch.After(prev.Epoch) {
			continue
		}
		byID[e.NORADID] = e
	}

	out := make([]TLEEntry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NORADID < out[j].NORADID })

	c := &Catalog{source: source, fetchedAt: fetchedAt, entries: out}
	for i, e := range out {
		if i == 0 || e.Epoch.Before(c.epochRange.Min) {
			c.epochRange.Min = e.Epoch
		}
		if i == 0 || e.Epoch.After(c.epochRange.Max) {
			c.epochRange.Max = e.Epoch
		}
	}
	return c
}

// Len returns the number of satellites in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries returns a copy of the catalog entries.
func (c *Catalog) Entries() []TLEEntry {
	if c == nil {
		return nil
	}
	out := make([]TLEEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Entry returns the i-th entry in NORAD id order.
func (c *Catalog) Entry(i int) TLEEntry {
	return c.entries[i]
}

// Metadata summarises the catalog.
func (c *Catalog) Metadata() Metadata {
	if c == nil {
		return Metadata{}
	}
	return Metadata{
		Source:     c.source,
		FetchedAt:  c.fetchedAt,
		Count:      len(c.entries),
		EpochRange: c.epochRange,
	}
}

// Age returns how old the newest element set is relative to now.
func (c *Catalog) Age(now time.Time) time.Duration {
	if c.Len() == 0 {
		return 0
	}
	return now.Sub(c.epochRange.Max)
}

// Validate checks that the catalog is usable for an analysis at now.
// maxAge <= 0 disables the staleness check.
func (c *Catalog) Validate(now time.Time, maxAge time.Duration, minSatellites int) error {
	if c.Len() == 0 {
		return ErrEmptyCatalog
	}
	if minSatellites > 0 && c.Len() < minSatellites {
		return fmt.Errorf("%w: %d < %d", ErrTooFewSatellites, c.Len(), minSatellites)
	}
	if maxAge > 0 {
		if age := c.Age(now); age > maxAge {
			return fmt.Errorf("%w: newest epoch %s is %s old (max %s)",
				ErrStaleCatalog, c.epochRange.Max.Format(time.RFC3339), age.Round(time.Minute), maxAge)
		}
	}
	return nil
}
