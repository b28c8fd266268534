package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/star/starcover/internal/analysis"
	"github.com/star/starcover/internal/export"
	"github.com/star/starcover/internal/visibility"
)

func newRunCmd(cfgFile *string) *cobra.Command {
	def := analysis.DefaultParams()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one analysis and write the export bundle",
		Example: `  starcover run --catalog starlink.tle --duration 6h
  starcover run --lat 51.5 --lon -0.12 --min-elevation 30 --out london`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalysis(cmd, *cfgFile)
		},
	}

	f := cmd.Flags()
	f.Float64("lat", def.Observer.LatitudeDeg, "observer latitude (deg)")
	f.Float64("lon", def.Observer.LongitudeDeg, "observer longitude (deg)")
	f.Float64("alt", def.Observer.AltitudeM, "observer altitude (m)")
	f.String("start", "", "window start, RFC 3339 (default now)")
	f.Duration("duration", def.Duration, "window length")
	f.Duration("interval", def.Interval, "sampling interval")
	f.Float64("min-elevation", def.MinElevationDeg, "minimum elevation for visibility (deg)")
	f.Int("workers", 0, "propagation workers (default number of CPUs)")
	f.String("weather", "", "observed weather CSV (time,rain,wind_ms); default is simulated")
	f.Int64("seed", 42, "simulated weather seed")
	f.Bool("censor", false, "keep the trailing hand-over as a censored observation")
	f.String("out", "output", "export directory")
	return cmd
}

func runAnalysis(cmd *cobra.Command, cfgFile string) error {
	a, err := setup(cmd, cfgFile, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := a.initTracing(ctx)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	params, err := a.cfg.AnalysisParams()
	if err != nil {
		return err
	}
	src, err := a.cfg.WeatherSource()
	if err != nil {
		return err
	}
	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	run, err := analysis.NewRun(cat, params, analysis.Deps{
		Engine:  visibility.NewEngine(a.cfg.Visibility.Workers, a.logger, visibility.WithMetrics(a.metrics)),
		Weather: src,
		Metrics: a.metrics,
		Logger:  a.logger,
	})
	if err != nil {
		return err
	}
	res, err := run.Execute(ctx)
	if err != nil {
		return err
	}

	manifest, err := export.WriteAll(a.cfg.Output.Dir, res)
	if err != nil {
		return fmt.Errorf("writing exports: %w", err)
	}
	a.logger.Info("exports written", "dir", a.cfg.Output.Dir, "files", len(manifest.Files))

	printSummary(cmd, res, a.cfg.Output.Dir)
	return nil
}

func printSummary(cmd *cobra.Command, res *analysis.Result, dir string) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"run %s: status=%s coverage=%.1f%% avg_visible=%.1f handovers=%d median_interval=%.1fmin out=%s\n",
		res.RunID, res.Status, res.Stats.CoveragePercent, res.Stats.AvgVisible,
		res.Handover.Events, res.Handover.MedianIntervalMin, dir)
}
