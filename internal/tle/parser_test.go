package tle

import (
	"strings"
	"testing"
	"time"
)

func TestParseValidTriplets(t *testing.T) {
	entries, err := Parse(strings.NewReader(issTriplet+starlinkTriplet), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	iss := entries[0]
	if iss.NORADID != 25544 || iss.Name != "ISS (ZARYA)" {
		t.Errorf("first entry = %d %q, want 25544 ISS (ZARYA)", iss.NORADID, iss.Name)
	}
	// Day 100.5 of 2024 (leap year) is April 9, 12:00 UTC.
	want := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)
	if !iss.Epoch.Equal(want) {
		t.Errorf("epoch = %v, want %v", iss.Epoch, want)
	}
}

// TestParseResync verifies that a garbage line between triplets is skipped
// and the following triplet is still recovered.
func TestParseResync(t *testing.T) {
	input := "garbage header\n" + issTriplet + starlinkTriplet
	entries, err := Parse(strings.NewReader(input), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 after resync", len(entries))
	}
}

func TestParseSkipsBadEpoch(t *testing.T) {
	bad := "BROKEN\n1 11111U 98067A   24XYZ.50000000  .00016717  00000-0  10270-3 0  9005\n2 11111  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09\n"
	entries, err := Parse(strings.NewReader(bad+issTriplet), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 1 || entries[0].NORADID != 25544 {
		t.Fatalf("expected only ISS to survive, got %+v", entries)
	}
}

func TestParseEpoch(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"24001.00000000", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"99365.50000000", time.Date(1999, 12, 31, 12, 0, 0, 0, time.UTC), false},
		{"57001.00000000", time.Date(1957, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"2400", time.Time{}, true},
		{"24000.00000000", time.Time{}, true},
		{"ab001.0", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseEpoch(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseEpoch(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEpoch(%q): %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseEpoch(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
