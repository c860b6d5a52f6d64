// Package inventory caches the list of disks to monitor in a plain text
// file, one path per line. Building the list means querying every SOS
// service, so it is done at most once a day unless a refresh is asked for.
package inventory

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
)

// DefaultMaxAge is how long an inventory stays fresh.
const DefaultMaxAge = 24 * time.Hour

var (
	// ErrEmptyInventory is returned when the inventory holds no paths.
	ErrEmptyInventory = errors.New("disk inventory is empty")

	// ErrNoInventory is returned by Age when the file does not exist.
	ErrNoInventory = errors.New("disk inventory does not exist")
)

// Generator produces the disk paths for a new inventory.
type Generator func(ctx context.Context) ([]string, error)

// Cache manages one inventory file.
type Cache struct {
	fs       afero.Fs
	path     string
	clock    clock.Clock
	maxAge   time.Duration
	generate Generator
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for staleness checks.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithMaxAge sets how old the file may get before it is rebuilt.
func WithMaxAge(d time.Duration) Option {
	return func(cache *Cache) { cache.maxAge = d }
}

// New returns a Cache for the file at path. generate is called whenever
// the file must be rebuilt.
func New(fs afero.Fs, path string, generate Generator, opts ...Option) *Cache {
	c := &Cache{
		fs:       fs,
		path:     path,
		clock:    clock.WallClock,
		maxAge:   DefaultMaxAge,
		generate: generate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Path returns the inventory file path.
func (c *Cache) Path() string {
	return c.path
}

// Age returns how long ago the inventory was written.
func (c *Cache) Age() (time.Duration, error) {
	info, err := c.fs.Stat(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNoInventory
	}
	if err != nil {
		return 0, fmt.Errorf("checking inventory: %w", err)
	}
	return c.clock.Now().Sub(info.ModTime()), nil
}

// IsStale reports whether an inventory written at modTime is too old at
// now. An inventory exactly maxAge old is still fresh.
func (c *Cache) IsStale(modTime, now time.Time) bool {
	return now.Sub(modTime) > c.maxAge
}

// EnsureFresh makes sure a current inventory exists. A stale file, or
// any file when refresh is set, is removed; a missing file is rebuilt.
// It reports whether the inventory was rebuilt.
func (c *Cache) EnsureFresh(ctx context.Context, refresh bool) (bool, error) {
	log := logging.Get("inventory")

	info, err := c.fs.Stat(c.path)
	switch {
	case err == nil:
		now := c.clock.Now()
		stale := c.IsStale(info.ModTime(), now)
		if !stale && !refresh {
			log.Debug("inventory is fresh", "path", c.path, "age", now.Sub(info.ModTime()).Round(time.Second))
			return false, nil
		}
		log.Info("removing inventory", "path", c.path, "stale", stale, "refresh", refresh)
		if err := c.fs.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("removing inventory: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return false, fmt.Errorf("checking inventory: %w", err)
	}

	paths, err := c.generate(ctx)
	if err != nil {
		return false, fmt.Errorf("generating inventory: %w", err)
	}
	if err := c.Write(paths); err != nil {
		return false, err
	}

	log.Info("inventory rebuilt", "path", c.path, "disks", len(lo.Uniq(paths)))
	return true, nil
}

// Write replaces the inventory with paths, deduplicated in order. The
// file is written to a temporary name and renamed into place.
func (c *Cache) Write(paths []string) error {
	paths = lo.Uniq(lo.Filter(paths, func(p string, _ int) bool {
		return strings.TrimSpace(p) != ""
	}))
	if len(paths) == 0 {
		return ErrEmptyInventory
	}

	var buf bytes.Buffer
	for _, p := range paths {
		buf.WriteString(p)
		buf.WriteByte('\n')
	}

	dir := filepath.Dir(c.path)
	if err := c.fs.MkdirAll(dir, 0o775); err != nil {
		return fmt.Errorf("creating inventory directory: %w", err)
	}

	tmp, err := afero.TempFile(c.fs, dir, ".inventory-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = c.fs.Remove(tmpPath)
		return fmt.Errorf("writing inventory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = c.fs.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := c.fs.Rename(tmpPath, c.path); err != nil {
		_ = c.fs.Remove(tmpPath)
		return fmt.Errorf("renaming inventory: %w", err)
	}
	// Stamp with the cache clock so staleness is measured on one timeline.
	now := c.clock.Now()
	if err := c.fs.Chtimes(c.path, now, now); err != nil {
		logging.Get("inventory").Debug("cannot stamp inventory, freshness follows the file system clock",
			"path", c.path, "error", err)
	}
	return nil
}

// Read returns the non-blank lines of the inventory.
func (c *Cache) Read() ([]string, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}

	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			paths = append(paths, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	if len(paths) == 0 {
		return nil, ErrEmptyInventory
	}
	return paths, nil
}
