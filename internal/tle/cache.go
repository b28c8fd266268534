package tle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

var errNoCachedCatalog = errors.New("no cached catalog found")

// Cache keeps the last few downloaded catalogs on disk as tle_<unix>.txt.
type Cache struct {
	dir      string
	maxFiles int
}

// NewCache creates a Cache rooted at dir that retains at most maxFiles files.
func NewCache(dir string, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Cache{dir: dir, maxFiles: maxFiles}
}

// Write stores data stamped with ts and prunes the oldest files.
func (c *Cache) Write(data []byte, ts time.Time) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	path := filepath.Join(c.dir, fmt.Sprintf("tle_%d.txt", ts.Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing cache file: %w", err)
	}
	return path, c.prune()
}

// LoadLatest returns the newest cached catalog text and its timestamp.
func (c *Cache) LoadLatest() ([]byte, time.Time, error) {
	files, err := c.stamped()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, errNoCachedCatalog
	}

	newest := files[len(files)-1]
	data, err := os.ReadFile(newest.path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, newest.ts, nil
}

type stampedFile struct {
	path string
	ts   time.Time
}

// stamped lists cache files oldest first.
func (c *Cache) stamped() ([]stampedFile, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "tle_*.txt"))
	if err != nil {
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	files := make([]stampedFile, 0, len(matches))
	for _, m := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "tle_"), ".txt")
		unix, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, stampedFile{path: m, ts: time.Unix(unix, 0).UTC()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ts.Before(files[j].ts) })
	return files, nil
}

func (c *Cache) prune() error {
	files, err := c.stamped()
	if err != nil {
		return err
	}
	for len(files) > c.maxFiles {
		if err := os.Remove(files[0].path); err != nil {
			return fmt.Errorf("pruning cache file %s: %w", files[0].path, err)
		}
		files = files[1:]
	}
	return nil
}
