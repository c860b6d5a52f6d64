package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
)

// Load reads and validates a snapshot. A missing file is returned as an
// error matching os.ErrNotExist; a malformed one as ErrInvalidSnapshot.
func Load(fs afero.Fs, path string) (Context, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Context{}, fmt.Errorf("reading site snapshot: %w", err)
	}

	var sc Context
	if err := json.Unmarshal(data, &sc); err != nil {
		return Context{}, fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, path, err)
	}
	if err := sc.Validate(); err != nil {
		return Context{}, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Save writes the snapshot atomically.
func Save(fs afero.Fs, path string, sc Context) error {
	data, err := json.MarshalIndent(sc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling site snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, ".site-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("writing site snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("renaming site snapshot: %w", err)
	}
	return nil
}

// LoadOrDerive returns the saved snapshot at path, deriving and saving a
// new one when none exists or refresh is set. A snapshot that exists but
// is malformed is an error; it is never silently replaced.
func LoadOrDerive(ctx context.Context, fs afero.Fs, path string, d *Deriver, code string, refresh bool) (Context, error) {
	log := logging.Get("site")

	if !refresh {
		sc, err := Load(fs, path)
		if err == nil {
			log.Debug("site snapshot loaded", "path", path)
			return sc, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return Context{}, err
		}
	}

	sc, err := d.Derive(ctx, code)
	if err != nil {
		return Context{}, err
	}
	if err := Save(fs, path, sc); err != nil {
		return Context{}, err
	}
	log.Info("site snapshot saved", "path", path, "site", sc.SiteName)
	return sc, nil
}
