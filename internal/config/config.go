// Package config loads starcover settings from defaults, an optional config
// file, STARCOVER_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/star/starcover/internal/analysis"
	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/observability"
	"github.com/star/starcover/internal/tle"
	"github.com/star/starcover/internal/weather"
)

// EnvPrefix prefixes every environment override, e.g. STARCOVER_OBSERVER_LATITUDE.
const EnvPrefix = "STARCOVER"

// defaultConfigName is looked up in the working directory when no file is
// given explicitly.
const defaultConfigName = "starcover"

var (
	ErrInvalidWorkers           = errors.New("config: visibility.workers must be >= 0")
	ErrInvalidStart             = errors.New("config: window.start must be RFC 3339")
	ErrInvalidRainProbability   = errors.New("config: weather.rain_probability must be within [0, 1]")
	ErrInvalidLogLevel          = errors.New("config: unknown log.level")
	ErrInvalidLogFormat         = errors.New("config: log.format must be json or text")
	ErrMissingAuthToken         = errors.New("config: server.auth_token is required when auth is enabled")
	ErrInvalidCatalogSettings   = errors.New("config: catalog limits must be non-negative")
	ErrInvalidServerConcurrency = errors.New("config: server concurrency limits must be positive")
)

// Config is the full set of starcover settings.
type Config struct {
	Observer   geo.Location                `mapstructure:"observer"`
	Window     WindowConfig                `mapstructure:"window"`
	Visibility VisibilityConfig            `mapstructure:"visibility"`
	Coverage   CoverageConfig              `mapstructure:"coverage"`
	Catalog    CatalogConfig               `mapstructure:"catalog"`
	Weather    WeatherConfig               `mapstructure:"weather"`
	Survival   SurvivalConfig              `mapstructure:"survival"`
	Output     OutputConfig                `mapstructure:"output"`
	Log        LogConfig                   `mapstructure:"log"`
	Tracing    observability.TracingConfig `mapstructure:"tracing"`
	Server     ServerConfig                `mapstructure:"server"`
}

// WindowConfig is the analysis time grid. An empty Start means now.
type WindowConfig struct {
	Start    string        `mapstructure:"start"`
	Duration time.Duration `mapstructure:"duration"`
	Interval time.Duration `mapstructure:"interval"`
}

type VisibilityConfig struct {
	MinElevation float64 `mapstructure:"min_elevation"`
	Workers      int     `mapstructure:"workers"`
}

type CoverageConfig struct {
	WindowMinVisible  int           `mapstructure:"window_min_visible"`
	WindowMinDuration time.Duration `mapstructure:"window_min_duration"`
}

type CatalogConfig struct {
	File            string        `mapstructure:"file"`
	Fetch           bool          `mapstructure:"fetch"`
	Sources         []string      `mapstructure:"sources"`
	CacheDir        string        `mapstructure:"cache_dir"`
	MaxFiles        int           `mapstructure:"max_files"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	MinSatellites   int           `mapstructure:"min_satellites"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// WeatherConfig selects observed conditions from File when set, and the
// seeded simulation otherwise.
type WeatherConfig struct {
	File            string  `mapstructure:"file"`
	Seed            int64   `mapstructure:"seed"`
	RainProbability float64 `mapstructure:"rain_probability"`
}

type SurvivalConfig struct {
	CensorTrailing bool `mapstructure:"censor_trailing"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Addr                string        `mapstructure:"addr"`
	AuthEnabled         bool          `mapstructure:"auth_enabled"`
	AuthToken           string        `mapstructure:"auth_token"`
	TrustProxy          bool          `mapstructure:"trust_proxy"`
	MaxConcurrent       int           `mapstructure:"max_concurrent"`
	MaxConcurrentPerIP  int           `mapstructure:"max_concurrent_per_ip"`
	AnalysisTimeout     time.Duration `mapstructure:"analysis_timeout"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

// FlagKeys maps command-line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"lat":           "observer.latitude",
	"lon":           "observer.longitude",
	"alt":           "observer.altitude",
	"start":         "window.start",
	"duration":      "window.duration",
	"interval":      "window.interval",
	"min-elevation": "visibility.min_elevation",
	"workers":       "visibility.workers",
	"catalog":       "catalog.file",
	"fetch":         "catalog.fetch",
	"weather":       "weather.file",
	"seed":          "weather.seed",
	"censor":        "survival.censor_trailing",
	"out":           "output.dir",
	"addr":          "server.addr",
	"log-level":     "log.level",
}

func setDefaults(v *viper.Viper) {
	def := analysis.DefaultParams()

	v.SetDefault("observer.latitude", def.Observer.LatitudeDeg)
	v.SetDefault("observer.longitude", def.Observer.LongitudeDeg)
	v.SetDefault("observer.altitude", def.Observer.AltitudeM)

	v.SetDefault("window.start", "")
	v.SetDefault("window.duration", def.Duration)
	v.SetDefault("window.interval", def.Interval)

	v.SetDefault("visibility.min_elevation", def.MinElevationDeg)
	v.SetDefault("visibility.workers", runtime.NumCPU())

	v.SetDefault("coverage.window_min_visible", coverage.DefaultWindowMinVisible)
	v.SetDefault("coverage.window_min_duration", coverage.DefaultWindowMinDuration)

	v.SetDefault("catalog.file", "")
	v.SetDefault("catalog.fetch", true)
	v.SetDefault("catalog.sources", tle.DefaultSources)
	v.SetDefault("catalog.cache_dir", "/tmp/starcover/tle")
	v.SetDefault("catalog.max_files", 5)
	v.SetDefault("catalog.max_age", 7*24*time.Hour)
	v.SetDefault("catalog.min_satellites", 1)
	v.SetDefault("catalog.refresh_interval", 6*time.Hour)

	v.SetDefault("weather.file", "")
	v.SetDefault("weather.seed", 42)
	v.SetDefault("weather.rain_probability", weather.DefaultRainProbability)

	v.SetDefault("survival.censor_trailing", false)
	v.SetDefault("output.dir", "output")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "starcover")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.auth_enabled", false)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.max_concurrent", 4)
	v.SetDefault("server.max_concurrent_per_ip", 1)
	v.SetDefault("server.analysis_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_grace_period", 5*time.Second)
}

// Load resolves the configuration. path may be empty, in which case
// ./starcover.{yaml,toml,json} is read if present. flags may be nil; only
// flags named in FlagKeys and explicitly set take part.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(defaultConfigName)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section. Analysis parameters are checked with the
// same rules a run applies.
func (c *Config) Validate() error {
	if _, err := c.AnalysisParams(); err != nil {
		return err
	}
	if c.Visibility.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Visibility.Workers)
	}
	if c.Catalog.MaxFiles < 0 || c.Catalog.MinSatellites < 0 || c.Catalog.MaxAge < 0 || c.Catalog.RefreshInterval < 0 {
		return ErrInvalidCatalogSettings
	}
	if c.Weather.RainProbability < 0 || c.Weather.RainProbability > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidRainProbability, c.Weather.RainProbability)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Server.AuthEnabled && c.Server.AuthToken == "" {
		return ErrMissingAuthToken
	}
	if c.Server.MaxConcurrent < 1 || c.Server.MaxConcurrentPerIP < 1 {
		return ErrInvalidServerConcurrency
	}
	return nil
}

// AnalysisParams converts the observer, window, visibility, coverage and
// survival sections into validated run parameters.
func (c *Config) AnalysisParams() (analysis.Params, error) {
	p := analysis.Params{
		Observer:          c.Observer,
		Duration:          c.Window.Duration,
		Interval:          c.Window.Interval,
		MinElevationDeg:   c.Visibility.MinElevation,
		CensorTrailing:    c.Survival.CensorTrailing,
		WindowMinVisible:  c.Coverage.WindowMinVisible,
		WindowMinDuration: c.Coverage.WindowMinDuration,
	}
	if c.Window.Start != "" {
		start, err := time.Parse(time.RFC3339, c.Window.Start)
		if err != nil {
			return analysis.Params{}, fmt.Errorf("%w: %q", ErrInvalidStart, c.Window.Start)
		}
		p.Start = start.UTC()
	}
	if err := p.Validate(); err != nil {
		return analysis.Params{}, err
	}
	return p, nil
}

// LoaderConfig returns the catalog acceptance rules.
func (c *Config) LoaderConfig() tle.LoaderConfig {
	return tle.LoaderConfig{
		File:          c.Catalog.File,
		Fetch:         c.Catalog.Fetch,
		MaxAge:        c.Catalog.MaxAge,
		MinSatellites: c.Catalog.MinSatellites,
	}
}

// WeatherSource opens the observed conditions table when one is configured
// and falls back to the seeded simulation.
func (c *Config) WeatherSource() (weather.Source, error) {
	if c.Weather.File != "" {
		tb, err := weather.LoadTableFile(c.Weather.File)
		if err != nil {
			return nil, fmt.Errorf("loading weather table: %w", err)
		}
		return tb, nil
	}
	return weather.NewSimulated(c.Weather.Seed, c.Weather.RainProbability), nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(l.Format) {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogFormat, l.Format)
	}
}
