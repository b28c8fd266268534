// Command starcover estimates Starlink coverage, best-satellite hand-overs
// and hand-over survival for a ground observer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/star/starcover/internal/config"
	"github.com/star/starcover/internal/metrics"
	"github.com/star/starcover/internal/observability"
	"github.com/star/starcover/internal/tle"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "starcover",
		Short: "Starlink coverage, hand-over and survival analysis",
		Long: `starcover propagates the Starlink constellation over a time grid, tracks
which satellite an observer would be served by, and models how long each
serving satellite is kept before a hand-over.

Settings come from defaults, an optional config file (./starcover.yaml or
--config), STARCOVER_* environment variables and flags, in that order.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./starcover.{yaml,toml,json} if present)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("catalog", "", "read the orbit catalog from this TLE file instead of fetching")
	root.PersistentFlags().Bool("fetch", true, "fetch the catalog from the network before falling back to the cache")

	root.AddCommand(
		newRunCmd(&cfgFile),
		newServeCmd(&cfgFile),
		newCatalogCmd(&cfgFile),
	)
	return root
}

// app is the state shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
}

func setup(cmd *cobra.Command, cfgFile string, reg *prometheus.Registry) (*app, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := cfg.Log.NewLogger(os.Stdout)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	return &app{cfg: cfg, logger: logger, metrics: m}, nil
}

// initTracing installs the configured tracer provider. Span output goes to
// stderr so it never mixes with the JSON log stream.
func (a *app) initTracing(ctx context.Context) (func(), error) {
	shutdown, err := observability.InitTracing(ctx, a.cfg.Tracing, os.Stderr, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return func() { observability.ShutdownWithTimeout(context.Background(), shutdown, a.logger) }, nil
}

// loadCatalog resolves the catalog from file, network or cache and updates
// the catalog gauges.
func (a *app) loadCatalog(ctx context.Context) (*tle.Catalog, error) {
	loader := tle.NewLoader(
		a.cfg.LoaderConfig(),
		tle.NewFetcher(a.logger, a.cfg.Catalog.Sources...),
		tle.NewCache(a.cfg.Catalog.CacheDir, a.cfg.Catalog.MaxFiles),
		a.logger,
	)
	cat, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	a.metrics.SetCatalog(cat.Len(), time.Since(cat.Metadata().FetchedAt))
	return cat, nil
}
