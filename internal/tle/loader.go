package tle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// LoaderConfig controls where a catalog comes from and what is acceptable.
type LoaderConfig struct {
	File          string        // explicit catalog file; skips fetch and cache
	Fetch         bool          // try the network sources
	MaxAge        time.Duration // newest epoch must be younger than this (0 disables)
	MinSatellites int           // reject catalogs smaller than this
}

// Loader resolves a catalog from a file, the network, or the on-disk cache.
type Loader struct {
	cfg     LoaderConfig
	fetcher *Fetcher
	cache   *Cache
	logger  *slog.Logger
	now     func() time.Time
}

// NewLoader creates a Loader. fetcher and cache may be nil.
func NewLoader(cfg LoaderConfig, fetcher *Fetcher, cache *Cache, logger *slog.Logger) *Loader {
	return &Loader{cfg: cfg, fetcher: fetcher, cache: cache, logger: logger, now: time.Now}
}

// Load returns a validated catalog. Order: explicit file, fresh fetch
// (written through to the cache), newest cached file.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	if l.cfg.File != "" {
		data, err := os.ReadFile(l.cfg.File)
		if err != nil {
			return nil, fmt.Errorf("reading catalog file: %w", err)
		}
		info, err := os.Stat(l.cfg.File)
		if err != nil {
			return nil, fmt.Errorf("stat catalog file: %w", err)
		}
		return l.build(data, "file:"+l.cfg.File, info.ModTime())
	}

	if l.cfg.Fetch && l.fetcher != nil {
		data, src, err := l.fetcher.Fetch(ctx)
		if err == nil {
			now := l.now()
			cat, buildErr := l.build(data, src, now)
			if buildErr == nil {
				if l.cache != nil {
					if _, err := l.cache.Write(data, now); err != nil {
						l.logger.Warn("failed to cache TLE data", "error", err)
					}
				}
				return cat, nil
			}
			l.logger.Warn("fetched catalog rejected, trying cache", "source_url", src, "error", buildErr)
		} else {
			l.logger.Warn("TLE fetch failed, trying cache", "error", err)
		}
	}

	if l.cache == nil {
		return nil, ErrEmptyCatalog
	}
	data, ts, err := l.cache.LoadLatest()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyCatalog, err)
	}
	l.logger.Warn("using cached TLE data, it may be out of date", "cached_at", ts.Format(time.RFC3339))
	return l.build(data, "cache", ts)
}

func (l *Loader) build(data []byte, source string, fetchedAt time.Time) (*Catalog, error) {
	entries, err := Parse(bytes.NewReader(data), l.logger)
	if err != nil {
		return nil, err
	}
	cat := NewCatalog(entries, source, fetchedAt)
	if err := cat.Validate(l.now(), l.cfg.MaxAge, l.cfg.MinSatellites); err != nil {
		return nil, err
	}

	md := cat.Metadata()
	l.logger.Info("orbit catalog loaded",
		"source", source,
		"count", md.Count,
		"epoch_min", md.EpochRange.Min.Format(time.RFC3339),
		"epoch_max", md.EpochRange.Max.Format(time.RFC3339),
	)
	return cat, nil
}
