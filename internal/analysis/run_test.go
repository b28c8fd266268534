package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/metrics"
	"github.com/star/starcover/internal/propagation"
	"github.com/star/starcover/internal/tle"
	"github.com/star/starcover/internal/visibility"
)

var (
	testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	runStart   = time.Date(2024, 4, 10, 8, 0, 0, 0, time.UTC)
	taipei     = geo.Location{LatitudeDeg: 25.033, LongitudeDeg: 121.5654, AltitudeM: 10}
)

type positionFunc func(t time.Time) (geo.Vec3, error)

func (f positionFunc) PositionAt(t time.Time) (geo.Vec3, error) { return f(t) }

// skyFunc gives a satellite's look angles at minute i of the run.
type skyFunc func(i int) geo.LookAngles

func factoryFor(t *testing.T, sky map[int]skyFunc) propagation.Factory {
	t.Helper()
	obs, err := geo.NewObserver(taipei)
	if err != nil {
		t.Fatal(err)
	}
	return func(entry tle.TLEEntry) (propagation.Propagator, error) {
		f, ok := sky[entry.NORADID]
		if !ok {
			return nil, errors.New("unknown satellite")
		}
		return positionFunc(func(ts time.Time) (geo.Vec3, error) {
			return obs.Point(f(int(ts.Sub(runStart) / time.Minute))), nil
		}), nil
	}
}

func catalogOf(ids ...int) *tle.Catalog {
	entries := make([]tle.TLEEntry, len(ids))
	for i, id := range ids {
		entries[i] = tle.TLEEntry{NORADID: id, Name: "STARLINK", Epoch: runStart}
	}
	return tle.NewCatalog(entries, "test", runStart)
}

func testParams(minutes int) Params {
	p := DefaultParams()
	p.Observer = taipei
	p.Start = runStart
	p.Duration = time.Duration(minutes) * time.Minute
	return p
}

func newRun(t *testing.T, cat *tle.Catalog, p Params, sky map[int]skyFunc, workers int, m *metrics.Collector) *Run {
	t.Helper()
	engine := visibility.NewEngine(workers, testLogger, visibility.WithFactory(factoryFor(t, sky)))
	r, err := NewRun(cat, p, Deps{Engine: engine, Metrics: m, Logger: testLogger})
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	return r
}

func steady(az, el float64) skyFunc {
	return func(int) geo.LookAngles { return geo.LookAngles{AzimuthDeg: az, ElevationDeg: el, RangeKm: 700} }
}

// onAlternate is above the threshold on minutes with the given parity and
// below the horizon otherwise.
func onAlternate(parity int, az float64) skyFunc {
	return func(i int) geo.LookAngles {
		el := -10.0
		if i%2 == parity {
			el = 60
		}
		return geo.LookAngles{AzimuthDeg: az, ElevationDeg: el, RangeKm: 900}
	}
}

func TestTimeGrid(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		interval time.Duration
		want     int
		err      error
	}{
		{"day of minutes", 24 * time.Hour, time.Minute, 1440, nil},
		{"floor", 150 * time.Second, time.Minute, 2, nil},
		{"single", time.Minute, time.Minute, 1, nil},
		{"too short", 30 * time.Second, time.Minute, 0, ErrInvalidDuration},
		{"zero interval", time.Hour, 0, 0, ErrInvalidInterval},
		{"negative interval", time.Hour, -time.Minute, 0, ErrInvalidInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := TimeGrid(runStart, tt.duration, tt.interval)
			if !errors.Is(err, tt.err) {
				t.Fatalf("TimeGrid() error = %v, want %v", err, tt.err)
			}
			if len(ts) != tt.want {
				t.Fatalf("len = %d, want %d", len(ts), tt.want)
			}
			if err == nil {
				if visibility.ValidateTimestamps(ts) != nil {
					t.Error("grid not strictly increasing")
				}
				if !ts[0].Equal(runStart) {
					t.Errorf("grid starts at %v", ts[0])
				}
			}
		})
	}
}

func TestNewRunValidation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}
	engine := visibility.NewEngine(1, testLogger)

	tests := []struct {
		name   string
		mutate func(*Params)
		want   error
	}{
		{"latitude", func(p *Params) { p.Observer.LatitudeDeg = 91 }, geo.ErrInvalidLatitude},
		{"longitude", func(p *Params) { p.Observer.LongitudeDeg = -181 }, geo.ErrInvalidLongitude},
		{"altitude", func(p *Params) { p.Observer.AltitudeM = -5 }, geo.ErrInvalidAltitude},
		{"interval", func(p *Params) { p.Interval = 0 }, ErrInvalidInterval},
		{"duration", func(p *Params) { p.Duration = 30 * time.Second }, ErrInvalidDuration},
		{"sub-second interval", func(p *Params) { p.Interval = 1500 * time.Millisecond }, ErrSubSecond},
		{"sub-second start", func(p *Params) { p.Start = p.Start.Add(250 * time.Millisecond) }, ErrSubSecond},
		{"threshold", func(p *Params) { p.MinElevationDeg = 90 }, visibility.ErrInvalidThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams(60)
			tt.mutate(&p)
			_, err := NewRun(catalogOf(1), p, Deps{Engine: engine, Metrics: m, Logger: testLogger})
			if !errors.Is(err, tt.want) {
				t.Errorf("NewRun() error = %v, want %v", err, tt.want)
			}
		})
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.StatusInvalidInput)); got != float64(len(tests)) {
		t.Errorf("invalid_input runs = %v, want %d", got, len(tests))
	}
}

func TestNewRunDefaultsStart(t *testing.T) {
	p := testParams(60)
	p.Start = time.Time{}
	now := time.Date(2024, 4, 10, 8, 17, 42, 0, time.UTC)
	r, err := NewRun(catalogOf(1), p, Deps{
		Engine: visibility.NewEngine(1, testLogger),
		Logger: testLogger,
		Now:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 4, 10, 8, 17, 0, 0, time.UTC); !r.Params().Start.Equal(want) {
		t.Errorf("start = %v, want %v", r.Params().Start, want)
	}
	if r.ID == "" {
		t.Error("empty run id")
	}
}

func TestExecuteEmptyCatalog(t *testing.T) {
	r := newRun(t, catalogOf(), testParams(60), nil, 2, nil)
	res, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != metrics.StatusInsufficientData || res.Survival != nil || res.SurvivalError == "" {
		t.Errorf("status = %s survival = %v", res.Status, res.Survival)
	}
	if len(res.Samples) != 0 || len(res.Detection.Events) != 0 || res.Detection.Switches != 0 {
		t.Errorf("empty catalog produced samples or events")
	}
	st := res.Stats
	if st.AvgVisible != 0 || st.MaxVisible != 0 || st.MinVisible != 0 || st.CoveragePercent != 0 {
		t.Errorf("stats = %+v, want zero counts", st)
	}
	if len(res.Series) != 60 {
		t.Errorf("series = %d, want one none-visible record per minute", len(res.Series))
	}
}

func TestExecuteSingleSatelliteAlwaysVisible(t *testing.T) {
	r := newRun(t, catalogOf(44713), testParams(60), map[int]skyFunc{44713: steady(200, 70)}, 4, nil)
	res, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i, rec := range res.Series {
		if rec.VisibleCount != 1 || rec.NORADID != 44713 {
			t.Fatalf("record %d = %+v", i, rec)
		}
	}
	if res.Detection.Switches != 0 || len(res.Detection.Events) != 0 {
		t.Errorf("handovers = %+v, want none", res.Detection)
	}
	if res.Stats.CoveragePercent != 100 {
		t.Errorf("coverage = %v, want 100", res.Stats.CoveragePercent)
	}
	if res.Status != metrics.StatusInsufficientData {
		t.Errorf("status = %s, want insufficient_data", res.Status)
	}
}

func TestExecuteAlternatingSatellites(t *testing.T) {
	const n = 60
	sky := map[int]skyFunc{
		1001: onAlternate(1, 45),  // odd minutes
		1002: onAlternate(0, 225), // even minutes
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}

	res, err := newRun(t, catalogOf(1001, 1002), testParams(n), sky, 3, m).Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Detection.Switches != n-1 {
		t.Errorf("switches = %d, want %d", res.Detection.Switches, n-1)
	}
	if len(res.Detection.Events) != n-2 {
		t.Errorf("events = %d, want %d", len(res.Detection.Events), n-2)
	}
	for _, e := range res.Detection.Events {
		if e.Interval != time.Minute {
			t.Fatalf("event %d interval = %v", e.SequenceID, e.Interval)
		}
	}
	if res.Status != metrics.StatusOK || res.Survival == nil {
		t.Fatalf("status = %s (%s)", res.Status, res.SurvivalError)
	}
	if res.Survival.Overall.At(1) != 0 {
		t.Errorf("every interval is one minute; S(1) = %v", res.Survival.Overall.At(1))
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.StatusOK)); got != 1 {
		t.Errorf("ok runs = %v, want 1", got)
	}

	p := testParams(n)
	p.CensorTrailing = true
	censored, err := newRun(t, catalogOf(1001, 1002), p, sky, 3, nil).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	events := censored.Detection.Events
	if len(events) != n-1 {
		t.Fatalf("censored run events = %d, want %d", len(events), n-1)
	}
	if last := events[len(events)-1]; !last.Censored || last.Interval != time.Minute {
		t.Errorf("trailing event = %+v", last)
	}
}

func TestExecuteTieBreak(t *testing.T) {
	sky := map[int]skyFunc{
		2002: steady(90, 50),
		2001: steady(90, 50),
		2003: steady(0, 30),
	}
	for run := 0; run < 5; run++ {
		res, err := newRun(t, catalogOf(2001, 2002, 2003), testParams(10), sky, 1+run, nil).Execute(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		for _, rec := range res.Series {
			if rec.NORADID != 2001 {
				t.Fatalf("run %d picked %d, want 2001", run, rec.NORADID)
			}
		}
	}
}

// TestExecuteDeterministic compares serial and parallel runs, and two runs
// sharing one catalog concurrently.
func TestExecuteDeterministic(t *testing.T) {
	sky := map[int]skyFunc{}
	ids := []int{}
	for id := 1; id <= 25; id++ {
		id := id
		sky[id] = func(i int) geo.LookAngles {
			m := i + id*11
			return geo.LookAngles{AzimuthDeg: float64((m * 29) % 360), ElevationDeg: float64((m*7)%100) - 10, RangeKm: 650}
		}
		ids = append(ids, id)
	}
	cat := catalogOf(ids...)
	p := testParams(240)

	serial, err := newRun(t, cat, p, sky, 1, nil).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	runs := make([]*Run, 4)
	for i := range runs {
		runs[i] = newRun(t, cat, p, sky, 8, nil)
	}
	results := make([]*Result, len(runs))
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := runs[i].Execute(context.Background())
			if err != nil {
				t.Errorf("Execute: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res == nil {
			continue
		}
		if !reflect.DeepEqual(serial.Samples, res.Samples) || !reflect.DeepEqual(serial.Series, res.Series) {
			t.Errorf("run %d: visibility differs from serial run", i)
		}
		if !reflect.DeepEqual(serial.Detection, res.Detection) {
			t.Errorf("run %d: hand-overs differ from serial run", i)
		}
		if res.RunID == serial.RunID {
			t.Errorf("run %d reused run id", i)
		}
	}
}

func TestExecuteCancelled(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRun(t, catalogOf(1), testParams(600), map[int]skyFunc{1: steady(0, 45)}, 2, m)
	if _, err := r.Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(metrics.StatusFailed)); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
}

func TestResultJSON(t *testing.T) {
	res, err := newRun(t, catalogOf(1), testParams(30), map[int]skyFunc{1: steady(10, 45)}, 1, nil).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"run_id"`, `"status":"insufficient_data"`, `"coverage_percentage":100`, `"duration":"30m0s"`, `"interval":"1m0s"`} {
		if !strings.Contains(string(b), want) {
			t.Errorf("result JSON missing %s", want)
		}
	}
}
