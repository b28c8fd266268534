package visibility

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/propagation"
	"github.com/star/starcover/internal/tle"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

var gridStart = time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

// positionFunc adapts a function to propagation.Propagator.
type positionFunc func(t time.Time) (geo.Vec3, error)

func (f positionFunc) PositionAt(t time.Time) (geo.Vec3, error) { return f(t) }

// fakeFactory returns propagators keyed by NORAD id; unknown ids fail to
// initialise.
func fakeFactory(props map[int]positionFunc) propagation.Factory {
	return func(entry tle.TLEEntry) (propagation.Propagator, error) {
		p, ok := props[entry.NORADID]
		if !ok {
			return nil, errors.New("no element set")
		}
		return p, nil
	}
}

func testObserver(t *testing.T) *geo.Observer {
	t.Helper()
	obs, err := geo.NewObserver(geo.Location{LatitudeDeg: 25.033, LongitudeDeg: 121.5654, AltitudeM: 10})
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	return obs
}

func minuteGrid(n int) []time.Time {
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = gridStart.Add(time.Duration(i) * time.Minute)
	}
	return ts
}

func catalogOf(ids ...int) *tle.Catalog {
	entries := make([]tle.TLEEntry, len(ids))
	for i, id := range ids {
		entries[i] = tle.TLEEntry{NORADID: id, Name: "SAT", Epoch: gridStart}
	}
	return tle.NewCatalog(entries, "test", gridStart)
}

// fixed places a satellite at constant look angles from obs.
func fixed(obs *geo.Observer, az, el float64) positionFunc {
	pos := obs.Point(geo.LookAngles{AzimuthDeg: az, ElevationDeg: el, RangeKm: 800})
	return func(time.Time) (geo.Vec3, error) { return pos, nil }
}

// sweeping moves a satellite across the sky so elevation varies per minute.
func sweeping(obs *geo.Observer, phase int) positionFunc {
	return func(t time.Time) (geo.Vec3, error) {
		m := int(t.Sub(gridStart)/time.Minute) + phase
		el := float64((m*7)%100) - 10
		az := float64((m * 37) % 360)
		return obs.Point(geo.LookAngles{AzimuthDeg: az, ElevationDeg: el, RangeKm: 700 + float64(m%50)}), nil
	}
}

func TestComputeSingleSatelliteAlwaysVisible(t *testing.T) {
	obs := testObserver(t)
	e := NewEngine(4, testLogger, WithFactory(fakeFactory(map[int]positionFunc{
		44713: fixed(obs, 135, 60),
	})))

	ts := minuteGrid(60)
	res, err := e.Compute(context.Background(), catalogOf(44713), obs, ts, 25)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(res.Samples) != 60 {
		t.Fatalf("samples = %d, want 60", len(res.Samples))
	}
	for i, s := range res.Samples {
		if !s.Time.Equal(ts[i]) {
			t.Errorf("sample %d time = %v, want %v", i, s.Time, ts[i])
		}
		if s.NORADID != 44713 {
			t.Errorf("sample %d id = %d", i, s.NORADID)
		}
	}
	if res.Skipped != 0 || res.Propagations != 60 {
		t.Errorf("propagations = %d skipped = %d, want 60/0", res.Propagations, res.Skipped)
	}
}

func TestComputeThresholdInvariant(t *testing.T) {
	obs := testObserver(t)
	props := map[int]positionFunc{}
	for i := 1; i <= 20; i++ {
		props[i] = sweeping(obs, i*13)
	}
	ids := make([]int, 0, len(props))
	for id := range props {
		ids = append(ids, id)
	}

	e := NewEngine(3, testLogger, WithFactory(fakeFactory(props)))
	for _, threshold := range []float64{0, 10, 25, 45, 80} {
		res, err := e.Compute(context.Background(), catalogOf(ids...), obs, minuteGrid(120), threshold)
		if err != nil {
			t.Fatalf("Compute(%v): %v", threshold, err)
		}
		if len(res.Samples) == 0 && threshold < 80 {
			t.Errorf("threshold %v: no samples", threshold)
		}
		for _, s := range res.Samples {
			if s.ElevationDeg < threshold {
				t.Errorf("threshold %v: sample elevation %.3f below threshold", threshold, s.ElevationDeg)
			}
			if s.AzimuthDeg < 0 || s.AzimuthDeg >= 360 {
				t.Errorf("azimuth %.3f outside [0,360)", s.AzimuthDeg)
			}
			if s.RangeKm <= 0 {
				t.Errorf("range %.3f not positive", s.RangeKm)
			}
		}
	}
}

// TestComputeDeterministicAcrossWorkers compares a single worker with a wide
// pool on the same inputs.
func TestComputeDeterministicAcrossWorkers(t *testing.T) {
	obs := testObserver(t)
	props := map[int]positionFunc{}
	ids := []int{}
	for i := 100; i < 140; i++ {
		props[i] = sweeping(obs, i)
		ids = append(ids, i)
	}
	cat := catalogOf(ids...)
	ts := minuteGrid(90)

	serial, err := NewEngine(1, testLogger, WithFactory(fakeFactory(props))).Compute(context.Background(), cat, obs, ts, 20)
	if err != nil {
		t.Fatal(err)
	}
	for run := 0; run < 3; run++ {
		parallel, err := NewEngine(16, testLogger, WithFactory(fakeFactory(props))).Compute(context.Background(), cat, obs, ts, 20)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(serial, parallel) {
			t.Fatalf("run %d: parallel result differs from serial", run)
		}
	}

	for i := 1; i < len(serial.Samples); i++ {
		a, b := serial.Samples[i-1], serial.Samples[i]
		if b.Time.Before(a.Time) || (b.Time.Equal(a.Time) && b.NORADID <= a.NORADID) {
			t.Fatalf("samples %d,%d out of (time, id) order", i-1, i)
		}
	}
}

func TestComputeSkipsFailures(t *testing.T) {
	obs := testObserver(t)
	good := fixed(obs, 10, 50)
	flaky := func(t time.Time) (geo.Vec3, error) {
		if t.Minute()%2 == 0 {
			return geo.Vec3{}, errors.New("decayed")
		}
		return good(t)
	}
	e := NewEngine(2, testLogger, WithFactory(fakeFactory(map[int]positionFunc{
		1: good,
		2: flaky,
		// 3 has no propagator and fails at init.
	})))

	res, err := e.Compute(context.Background(), catalogOf(1, 2, 3), obs, minuteGrid(10), 25)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// 5 even minutes for the flaky satellite, every minute for the missing one.
	if want := 5 + 10; res.Skipped != want {
		t.Errorf("skipped = %d, want %d", res.Skipped, want)
	}
	if want := []int{2, 3}; !reflect.DeepEqual(res.FailedSatellites, want) {
		t.Errorf("failed satellites = %v, want %v", res.FailedSatellites, want)
	}
	if res.Propagations != 15 {
		t.Errorf("propagations = %d, want 15", res.Propagations)
	}
	if len(res.Samples) != 15 {
		t.Errorf("samples = %d, want 15", len(res.Samples))
	}
}

func TestComputeEmptyCatalog(t *testing.T) {
	obs := testObserver(t)
	res, err := NewEngine(2, testLogger).Compute(context.Background(), catalogOf(), obs, minuteGrid(5), 25)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(res.Samples) != 0 || res.Skipped != 0 {
		t.Errorf("empty catalog gave %+v", res)
	}
}

func TestComputeValidation(t *testing.T) {
	obs := testObserver(t)
	e := NewEngine(1, testLogger)
	cat := catalogOf(1)

	backwards := minuteGrid(3)
	backwards[2] = backwards[0]

	tests := []struct {
		name      string
		ts        []time.Time
		threshold float64
		want      error
	}{
		{"no timestamps", nil, 25, ErrNoTimestamps},
		{"repeated timestamp", backwards, 25, ErrNonMonotonicTimestamps},
		{"negative threshold", minuteGrid(3), -1, ErrInvalidThreshold},
		{"threshold 90", minuteGrid(3), 90, ErrInvalidThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Compute(context.Background(), cat, obs, tt.ts, tt.threshold)
			if !errors.Is(err, tt.want) {
				t.Errorf("Compute() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestComputeCancelled(t *testing.T) {
	obs := testObserver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(2, testLogger, WithFactory(fakeFactory(map[int]positionFunc{1: fixed(obs, 0, 45)})))
	if _, err := e.Compute(ctx, catalogOf(1), obs, minuteGrid(500), 25); !errors.Is(err, context.Canceled) {
		t.Errorf("Compute() error = %v, want context.Canceled", err)
	}
}

// TestComputeWithSGP4 runs the real propagator end to end and checks the
// output invariants.
func TestComputeWithSGP4(t *testing.T) {
	entries := []tle.TLEEntry{
		{
			NORADID: 25544,
			Name:    "ISS (ZARYA)",
			Epoch:   time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC),
			Line1:   "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005",
			Line2:   "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09",
		},
		{
			NORADID: 44713,
			Name:    "STARLINK-1007",
			Epoch:   time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC),
			Line1:   "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995",
			Line2:   "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05",
		},
	}
	cat := tle.NewCatalog(entries, "test", gridStart)
	obs := testObserver(t)

	ts := make([]time.Time, 24*60)
	for i := range ts {
		ts[i] = gridStart.Add(time.Duration(i) * time.Minute)
	}
	res, err := NewEngine(4, testLogger).Compute(context.Background(), cat, obs, ts, 10)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.Skipped != 0 {
		t.Errorf("skipped = %d, want 0", res.Skipped)
	}
	if res.Propagations != 2*len(ts) {
		t.Errorf("propagations = %d, want %d", res.Propagations, 2*len(ts))
	}
	for _, s := range res.Samples {
		if s.ElevationDeg < 10 || s.ElevationDeg > 90 {
			t.Errorf("elevation %.2f outside [10,90]", s.ElevationDeg)
		}
		if s.RangeKm < 300 || s.RangeKm > 3000 {
			t.Errorf("range %.1f km implausible for LEO above 10°", s.RangeKm)
		}
	}
}

func TestGroupByTime(t *testing.T) {
	ts := minuteGrid(3)
	samples := []Sample{
		{Time: ts[2], NORADID: 5},
		{Time: ts[0], NORADID: 1},
		{Time: ts[2], NORADID: 7},
		{Time: ts[0].Add(30 * time.Second), NORADID: 9},
	}
	groups := GroupByTime(samples, ts)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	if len(groups[0]) != 1 || len(groups[1]) != 0 || len(groups[2]) != 2 {
		t.Errorf("group sizes = %d,%d,%d; want 1,0,2", len(groups[0]), len(groups[1]), len(groups[2]))
	}
}
