// Package journal keeps one JSON document per monitoring run so past runs
// can be listed and inspected.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/spf13/afero"

	"github.com/jamesainslie/sosmon/pkg/sosmon/remediate"
	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

var (
	// ErrNotFound is returned when no entry matches an ID.
	ErrNotFound = errors.New("journal entry not found")

	// ErrAmbiguousID is returned when an ID prefix matches several entries.
	ErrAmbiguousID = errors.New("journal entry ID is ambiguous")
)

// Entry describes one run.
type Entry struct {
	ID         string    `json:"id" yaml:"id"`
	Site       string    `json:"site,omitempty" yaml:"site,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	ExitCode   int       `json:"exit_code" yaml:"exit_code"`

	// FailedStage names the stage that aborted the run, if any.
	FailedStage string `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`

	Disks     []types.DiskRecord  `json:"disks,omitempty" yaml:"disks,omitempty"`
	Low       []types.DiskRecord  `json:"low,omitempty" yaml:"low,omitempty"`
	Outcomes  []remediate.Outcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
	Alerts    []string            `json:"alerts,omitempty" yaml:"alerts,omitempty"`
	EmailSent bool                `json:"email_sent" yaml:"email_sent"`
}

// Duration returns how long the run took.
func (e *Entry) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Journal stores entries as files in a directory.
type Journal struct {
	fs    afero.Fs
	dir   string
	clock clock.Clock
	mu    sync.Mutex
}

// New returns a journal rooted at dir. The directory is created on the
// first write.
func New(fs afero.Fs, dir string, clk clock.Clock) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("journal directory cannot be empty")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Journal{fs: fs, dir: dir, clock: clk}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

// NewEntry starts an entry stamped with the current time and a fresh ID
// like "run-2024-06-15T10-30-00-1b4e28ba".
func (j *Journal) NewEntry(site string) *Entry {
	now := j.clock.Now().UTC()
	id := fmt.Sprintf("run-%s-%s", now.Format("2006-01-02T15-04-05"), uuid.NewString()[:8])
	return &Entry{ID: id, Site: site, StartedAt: now}
}

// Write persists e, replacing any earlier version of it.
func (j *Journal) Write(e *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.fs.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}

	path := filepath.Join(j.dir, e.ID+".json")
	tmpPath := path + ".tmp"
	if err := afero.WriteFile(j.fs, tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := j.fs.Rename(tmpPath, path); err != nil {
		_ = j.fs.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// List returns entries newest first. A positive limit caps the count.
func (j *Journal) List(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get returns the entry whose ID is id or starts with it.
func (j *Journal) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readAll()
	if err != nil {
		return nil, err
	}

	var match *Entry
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
		if strings.HasPrefix(entries[i].ID, id) {
			if match != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
			}
			match = &entries[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

// Cleanup removes entries that started more than retentionDays ago and
// returns how many were removed.
func (j *Journal) Cleanup(retentionDays int) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.clock.Now().AddDate(0, 0, -retentionDays)

	entries, err := j.readAll()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.StartedAt.Before(cutoff) {
			continue
		}
		if err := j.fs.Remove(filepath.Join(j.dir, e.ID+".json")); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}

func (j *Journal) readAll() ([]Entry, error) {
	files, err := afero.ReadDir(j.fs, j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("reading journal directory: %w", err)
	}

	entries := []Entry{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := afero.ReadFile(j.fs, filepath.Join(j.dir, f.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			// Skip files that can't be parsed
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(a, b int) bool {
		return entries[a].StartedAt.After(entries[b].StartedAt)
	})
	return entries, nil
}
