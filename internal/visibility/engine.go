// Package visibility computes which catalog satellites an observer can see
// across a grid of instants.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/metrics"
	"github.com/star/starcover/internal/propagation"
	"github.com/star/starcover/internal/tle"
)

var (
	ErrNoTimestamps           = errors.New("visibility: no timestamps")
	ErrNonMonotonicTimestamps = errors.New("visibility: timestamps not strictly increasing")
	ErrInvalidThreshold       = errors.New("visibility: elevation threshold outside [0, 90)")
)

// Sample is one satellite above the threshold at one instant.
type Sample struct {
	Time         time.Time `json:"timestamp"`
	NORADID      int       `json:"norad_id"`
	Name         string    `json:"name"`
	ElevationDeg float64   `json:"elevation_deg"`
	AzimuthDeg   float64   `json:"azimuth_deg"`
	RangeKm      float64   `json:"range_km"`
}

// Result is the output of one Compute call. Samples are ordered by time and
// then by NORAD id regardless of how many workers ran.
type Result struct {
	Samples          []Sample
	Propagations     int   // successful (instant, satellite) propagations
	Skipped          int   // (instant, satellite) pairs dropped after a failure
	FailedSatellites []int // NORAD ids with at least one skipped pair
}

// Engine runs the propagation loop on a fixed pool of workers.
type Engine struct {
	workers int
	factory propagation.Factory
	metrics *metrics.Collector
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithFactory replaces the SGP4 propagator factory.
func WithFactory(f propagation.Factory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithMetrics records propagation counts on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// NewEngine creates an engine with the given worker count; values below one
// fall back to GOMAXPROCS.
func NewEngine(workers int, logger *slog.Logger, opts ...Option) *Engine {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	e := &Engine{
		workers: workers,
		factory: propagation.NewSGP4,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateTimestamps checks that ts is non-empty and strictly increasing.
func ValidateTimestamps(ts []time.Time) error {
	if len(ts) == 0 {
		return ErrNoTimestamps
	}
	for i := 1; i < len(ts); i++ {
		if !ts[i].After(ts[i-1]) {
			return fmt.Errorf("%w: index %d (%s) not after %s", ErrNonMonotonicTimestamps,
				i, ts[i].UTC().Format(time.RFC3339), ts[i-1].UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// ValidateThreshold checks the minimum elevation lies in [0, 90).
func ValidateThreshold(minElevationDeg float64) error {
	if math.IsNaN(minElevationDeg) || minElevationDeg < 0 || minElevationDeg >= 90 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, minElevationDeg)
	}
	return nil
}

// satProp pairs a catalog entry with its initialised propagator.
type satProp struct {
	entry tle.TLEEntry
	prop  propagation.Propagator
}

// rowJob is one instant of the grid.
type rowJob struct {
	index int
	t     time.Time
}

// rowResult holds the visible samples at one instant plus the ids that
// failed to propagate there.
type rowResult struct {
	index   int
	samples []Sample
	ok      int
	failed  []int
}

// Compute propagates every catalog entry to every timestamp and keeps the
// pairs at or above minElevationDeg. A satellite that fails to propagate is
// skipped for that instant only; the run continues and the skip is counted.
func (e *Engine) Compute(ctx context.Context, cat *tle.Catalog, obs *geo.Observer, timestamps []time.Time, minElevationDeg float64) (*Result, error) {
	if obs == nil {
		return nil, errors.New("visibility: nil observer")
	}
	if err := ValidateThreshold(minElevationDeg); err != nil {
		return nil, err
	}
	if err := ValidateTimestamps(timestamps); err != nil {
		return nil, err
	}
	if cat.Len() == 0 {
		return &Result{}, nil
	}

	start := time.Now()
	sats, initFailed := e.initPropagators(cat)

	failures := make(map[int]int, len(initFailed))
	for _, id := range initFailed {
		failures[id] += len(timestamps)
	}

	rows := make([][]Sample, len(timestamps))
	var propagated int

	if len(sats) > 0 {
		jobs := make(chan rowJob, e.workers*2)
		results := make(chan rowResult, e.workers*2)

		var wg sync.WaitGroup
		for i := 0; i < e.workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for job := range jobs {
					res := computeRow(job, sats, obs, minElevationDeg)
					select {
					case results <- res:
					case <-ctx.Done():
						return
					}
				}
			}()
		}

		go func() {
			defer close(jobs)
			for i, t := range timestamps {
				select {
				case jobs <- rowJob{index: i, t: t}:
				case <-ctx.Done():
					return
				}
			}
		}()

		go func() {
			wg.Wait()
			close(results)
		}()

		for res := range results {
			rows[res.index] = res.samples
			propagated += res.ok
			for _, id := range res.failed {
				failures[id]++
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("visibility aborted: %w", err)
		}
	}

	var total int
	for _, r := range rows {
		total += len(r)
	}
	out := &Result{
		Samples:      make([]Sample, 0, total),
		Propagations: propagated,
	}
	for _, r := range rows {
		out.Samples = append(out.Samples, r...)
	}
	for id, n := range failures {
		out.Skipped += n
		out.FailedSatellites = append(out.FailedSatellites, id)
		e.logger.Warn("propagation failures", "norad_id", id, "skipped", n)
	}
	sort.Ints(out.FailedSatellites)

	duration := time.Since(start)
	e.metrics.RecordPropagation(duration, out.Propagations, out.Skipped)

	e.logger.Info("visibility computed",
		"satellites", cat.Len(),
		"timestamps", len(timestamps),
		"workers", e.workers,
		"samples", len(out.Samples),
		"skipped", out.Skipped,
		"duration_ms", duration.Milliseconds(),
	)
	return out, nil
}

// initPropagators builds one propagator per catalog entry, in catalog order.
func (e *Engine) initPropagators(cat *tle.Catalog) ([]satProp, []int) {
	sats := make([]satProp, 0, cat.Len())
	var failed []int
	for i := 0; i < cat.Len(); i++ {
		entry := cat.Entry(i)
		p, err := e.factory(entry)
		if err != nil {
			e.logger.Warn("propagator init failed", "norad_id", entry.NORADID, "error", err)
			failed = append(failed, entry.NORADID)
			continue
		}
		sats = append(sats, satProp{entry: entry, prop: p})
	}
	return sats, failed
}

// computeRow evaluates every satellite at one instant. Sats are in NORAD id
// order, so the row comes out sorted.
func computeRow(job rowJob, sats []satProp, obs *geo.Observer, minElevationDeg float64) rowResult {
	res := rowResult{index: job.index}
	for _, s := range sats {
		pos, err := s.prop.PositionAt(job.t)
		if err != nil {
			res.failed = append(res.failed, s.entry.NORADID)
			continue
		}
		res.ok++

		la := obs.Look(pos)
		if la.ElevationDeg < minElevationDeg || la.RangeKm <= 0 {
			continue
		}
		res.samples = append(res.samples, Sample{
			Time:         job.t,
			NORADID:      s.entry.NORADID,
			Name:         s.entry.Name,
			ElevationDeg: la.ElevationDeg,
			AzimuthDeg:   la.AzimuthDeg,
			RangeKm:      la.RangeKm,
		})
	}
	return res
}

// GroupByTime buckets samples onto the grid, one slice per timestamp. Samples
// at instants not on the grid are ignored.
func GroupByTime(samples []Sample, timestamps []time.Time) [][]Sample {
	index := make(map[int64]int, len(timestamps))
	for i, t := range timestamps {
		index[t.UnixNano()] = i
	}
	groups := make([][]Sample, len(timestamps))
	for _, s := range samples {
		if i, ok := index[s.Time.UnixNano()]; ok {
			groups[i] = append(groups[i], s)
		}
	}
	return groups
}
