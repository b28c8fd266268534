package tle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultSources are tried in order until one returns a usable catalog.
var DefaultSources = []string{
	"https://celestrak.org/NORAD/elements/gp.php?GROUP=starlink&FORMAT=tle",
	"https://celestrak.org/NORAD/elements/supplemental/starlink.txt",
	"https://celestrak.org/NORAD/elements/starlink.txt",
}

const maxBodyBytes = 50 << 20

// Fetcher retrieves raw TLE text from the first source that answers.
type Fetcher struct {
	sources    []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher. With no sources it uses DefaultSources.
func NewFetcher(logger *slog.Logger, sources ...string) *Fetcher {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	return &Fetcher{
		sources: sources,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Sources returns the configured source URLs in try order.
func (f *Fetcher) Sources() []string {
	return f.sources
}

// Fetch returns the body of the first source that succeeds, with its URL.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, string, error) {
	var errs []error
	for _, src := range f.sources {
		body, err := f.fetchOne(ctx, src)
		if err != nil {
			f.logger.Warn("TLE source failed", "source_url", src, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return body, src, nil
	}
	return nil, "", fmt.Errorf("all TLE sources failed: %w", errors.Join(errs...))
}

func (f *Fetcher) fetchOne(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, src)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", src, maxBodyBytes)
	}
	return body, nil
}
