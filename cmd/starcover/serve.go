package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/star/starcover/internal/analysis"
	"github.com/star/starcover/internal/api"
	"github.com/star/starcover/internal/auth"
	"github.com/star/starcover/internal/tle"
	"github.com/star/starcover/internal/visibility"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve catalog metadata and on-demand analyses over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, *cfgFile)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	return cmd
}

func serve(cmd *cobra.Command, cfgFile string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a, err := setup(cmd, cfgFile, reg)
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := a.initTracing(ctx)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	defaults, err := a.cfg.AnalysisParams()
	if err != nil {
		return err
	}
	src, err := a.cfg.WeatherSource()
	if err != nil {
		return err
	}

	store := tle.NewStore()
	if cat, err := a.loadCatalog(ctx); err != nil {
		a.logger.Warn("starting without orbit catalog", "error", err)
	} else {
		store.Set(cat)
	}

	go a.refreshCatalog(ctx, store)

	srv := api.NewServer(api.Options{
		Addr:               a.cfg.Server.Addr,
		Auth:               auth.Config{Enabled: a.cfg.Server.AuthEnabled, Token: a.cfg.Server.AuthToken},
		TrustProxy:         a.cfg.Server.TrustProxy,
		MaxConcurrent:      a.cfg.Server.MaxConcurrent,
		MaxConcurrentPerIP: a.cfg.Server.MaxConcurrentPerIP,
		AnalysisTimeout:    a.cfg.Server.AnalysisTimeout,
		Defaults:           defaults,
	}, store, analysis.Deps{
		Engine:  visibility.NewEngine(a.cfg.Visibility.Workers, a.logger, visibility.WithMetrics(a.metrics)),
		Weather: src,
		Metrics: a.metrics,
		Logger:  a.logger,
	})

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server",
			"addr", a.cfg.Server.Addr,
			"auth_enabled", a.cfg.Server.AuthEnabled,
			"catalog_fetch_enabled", a.cfg.Catalog.Fetch,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownGracePeriod)
	defer cancel()
	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

// refreshCatalog reloads the catalog every refresh interval and keeps the
// age gauge current. A failed reload keeps the previous catalog.
func (a *app) refreshCatalog(ctx context.Context, store *tle.Store) {
	ageTicker := time.NewTicker(10 * time.Second)
	defer ageTicker.Stop()

	var refresh <-chan time.Time
	if a.cfg.Catalog.RefreshInterval > 0 {
		t := time.NewTicker(a.cfg.Catalog.RefreshInterval)
		defer t.Stop()
		refresh = t.C
	}

	for {
		select {
		case <-ageTicker.C:
			if cat := store.Get(); cat != nil {
				a.metrics.SetCatalog(cat.Len(), time.Duration(store.AgeSeconds()*float64(time.Second)))
			}
		case <-refresh:
			cat, err := a.loadCatalog(ctx)
			if err != nil {
				a.logger.Warn("catalog refresh failed, keeping current catalog", "error", err)
				continue
			}
			store.Set(cat)
		case <-ctx.Done():
			return
		}
	}
}
