package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/handover"
	"github.com/star/starcover/internal/metrics"
	"github.com/star/starcover/internal/survival"
	"github.com/star/starcover/internal/tle"
	"github.com/star/starcover/internal/visibility"
	"github.com/star/starcover/internal/weather"
)

const tracerName = "github.com/star/starcover/internal/analysis"

// Diagnostics reports what the propagation loop could not use.
type Diagnostics struct {
	CatalogSatellites int   `json:"catalog_satellites"`
	Propagations      int   `json:"propagations"`
	Skipped           int   `json:"skipped"`
	FailedSatellites  []int `json:"failed_satellites,omitempty"`
}

// Result is everything one run produces.
type Result struct {
	RunID         string                `json:"run_id"`
	Status        string                `json:"status"`
	Params        Params                `json:"params"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	Timestamps    []time.Time           `json:"-"`
	Samples       []visibility.Sample   `json:"-"`
	Series        []handover.BestRecord `json:"-"`
	Detection     handover.Detection    `json:"-"`
	Handover      handover.Summary      `json:"handover"`
	Survival      *survival.Model       `json:"survival,omitempty"`
	SurvivalError string                `json:"survival_error,omitempty"`
	Stats         coverage.Stats        `json:"stats"`
	Windows       []coverage.Window     `json:"windows"`
	Hourly        []coverage.HourBucket `json:"hourly"`
	Diagnostics   Diagnostics           `json:"diagnostics"`
}

// Deps are the shared collaborators of a run. Engine and Logger are
// required; a nil Weather yields dry conditions.
type Deps struct {
	Engine  *visibility.Engine
	Weather weather.Source
	Metrics *metrics.Collector
	Logger  *slog.Logger
	Now     func() time.Time
}

// Run is a single validated analysis.
type Run struct {
	ID       string
	params   Params
	catalog  *tle.Catalog
	observer *geo.Observer
	deps     Deps
	tracer   trace.Tracer
}

// NewRun validates p against cat and fixes the start time. A zero Start
// means now, truncated to the interval.
func NewRun(cat *tle.Catalog, p Params, deps Deps) (*Run, error) {
	if deps.Engine == nil || deps.Logger == nil {
		return nil, errors.New("analysis: engine and logger are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Weather == nil {
		deps.Weather = weather.Dry{}
	}

	if err := p.Validate(); err != nil {
		deps.Metrics.RecordRun(metrics.StatusInvalidInput, 0)
		return nil, err
	}
	obs, err := geo.NewObserver(p.Observer)
	if err != nil {
		deps.Metrics.RecordRun(metrics.StatusInvalidInput, 0)
		return nil, err
	}
	if p.Start.IsZero() {
		p.Start = deps.Now().UTC().Truncate(p.Interval)
	}

	return &Run{
		ID:       uuid.NewString(),
		params:   p,
		catalog:  cat,
		observer: obs,
		deps:     deps,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Params returns the run's resolved parameters.
func (r *Run) Params() Params { return r.params }

// Execute runs the pipeline. Too few hand-overs for survival fitting is not
// an error: the result carries status insufficient_data and every other
// output.
func (r *Run) Execute(ctx context.Context) (res *Result, err error) {
	started := r.deps.Now()
	log := r.deps.Logger.With("run_id", r.ID)

	ctx, span := r.tracer.Start(ctx, "analysis.run", trace.WithAttributes(
		attribute.String("run_id", r.ID),
		attribute.Float64("observer.latitude", r.params.Observer.LatitudeDeg),
		attribute.Float64("observer.longitude", r.params.Observer.LongitudeDeg),
		attribute.Int("catalog.satellites", r.catalog.Len()),
	))
	defer func() {
		status := metrics.StatusFailed
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			status = res.Status
			span.SetAttributes(attribute.String("status", status))
		}
		r.deps.Metrics.RecordRun(status, r.deps.Now().Sub(started))
		span.End()
	}()

	grid, err := TimeGrid(r.params.Start, r.params.Duration, r.params.Interval)
	if err != nil {
		return nil, err
	}
	windowEnd := r.params.Start.UTC().Add(time.Duration(len(grid)) * r.params.Interval)

	res = &Result{
		RunID:      r.ID,
		Status:     metrics.StatusOK,
		Params:     r.params,
		StartedAt:  started,
		Timestamps: grid,
	}

	vctx, vspan := r.tracer.Start(ctx, "visibility.compute", trace.WithAttributes(
		attribute.Int("timestamps", len(grid)),
	))
	vis, err := r.deps.Engine.Compute(vctx, r.catalog, r.observer, grid, r.params.MinElevationDeg)
	if err != nil {
		vspan.RecordError(err)
		vspan.End()
		return nil, fmt.Errorf("compute visibility: %w", err)
	}
	vspan.SetAttributes(attribute.Int("samples", len(vis.Samples)), attribute.Int("skipped", vis.Skipped))
	vspan.End()

	res.Samples = vis.Samples
	res.Diagnostics = Diagnostics{
		CatalogSatellites: r.catalog.Len(),
		Propagations:      vis.Propagations,
		Skipped:           vis.Skipped,
		FailedSatellites:  vis.FailedSatellites,
	}

	_, hspan := r.tracer.Start(ctx, "handover.detect")
	res.Series = handover.SelectBest(vis.Samples, grid, r.deps.Weather)
	res.Detection = handover.Detect(res.Series, handover.Options{
		CensorTrailing: r.params.CensorTrailing,
		WindowEnd:      windowEnd,
	})
	res.Handover = handover.Summarize(res.Detection)
	hspan.SetAttributes(attribute.Int("switches", res.Detection.Switches), attribute.Int("events", len(res.Detection.Events)))
	hspan.End()
	r.deps.Metrics.ObserveHandovers(len(res.Detection.Events))

	_, sspan := r.tracer.Start(ctx, "survival.fit")
	model, err := survival.Fit(res.Detection.Events)
	switch {
	case errors.Is(err, survival.ErrInsufficientData):
		res.Status = metrics.StatusInsufficientData
		res.SurvivalError = err.Error()
		log.Info("survival analysis skipped", "reason", err.Error(), "events", len(res.Detection.Events))
	case err != nil:
		sspan.RecordError(err)
		sspan.End()
		return nil, fmt.Errorf("fit survival: %w", err)
	default:
		res.Survival = model
		if model.CoxError != "" {
			log.Warn("cox model not fitted", "error", model.CoxError)
		}
	}
	sspan.End()

	res.Stats = coverage.Aggregate(vis.Samples, res.Series, coverage.Params{
		Observer:        r.params.Observer,
		MinElevationDeg: r.params.MinElevationDeg,
		Duration:        r.params.Duration,
	})
	res.Windows = coverage.Windows(res.Series, r.params.WindowMinVisible, r.params.WindowMinDuration)
	res.Hourly = coverage.HourlyProfile(res.Series)
	res.FinishedAt = r.deps.Now()

	log.Info("analysis complete",
		"status", res.Status,
		"timestamps", len(grid),
		"samples", len(vis.Samples),
		"skipped", vis.Skipped,
		"handovers", len(res.Detection.Events),
		"coverage_pct", res.Stats.CoveragePercent,
		"duration_ms", res.FinishedAt.Sub(started).Milliseconds(),
	)
	return res, nil
}
