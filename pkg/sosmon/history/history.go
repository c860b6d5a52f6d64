// Package history keeps disk usage samples from past runs in a Badger
// database so that growth can be reviewed and forecast.
package history

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

// Key prefixes
const (
	prefixSample = "s:" // s:<path>\x00<unix nanos> -> Sample
	prefixMeta   = "m:"
)

const schemaKey = prefixMeta + "__schema__"

// CurrentSchemaVersion is written on open.
const CurrentSchemaVersion = 1

// ErrNoSamples is returned when a disk has never been recorded.
var ErrNoSamples = errors.New("no samples recorded")

// Sample is one disk measurement.
type Sample struct {
	Path        string    `json:"path" yaml:"path"`
	At          time.Time `json:"at" yaml:"at"`
	TotalGB     int64     `json:"total_gb" yaml:"total_gb"`
	UsedGB      int64     `json:"used_gb" yaml:"used_gb"`
	AvailableGB int64     `json:"available_gb" yaml:"available_gb"`

	// RunID links the sample to the run journal.
	RunID string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
}

// Record returns the sample as a disk record.
func (s Sample) Record() types.DiskRecord {
	return types.DiskRecord{Path: s.Path, TotalGB: s.TotalGB, UsedGB: s.UsedGB, AvailableGB: s.AvailableGB}
}

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the sample storage backed by Badger DB.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	return open(badger.DefaultOptions(dir))
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	s := &Store{db: db}
	if s.Schema() == nil {
		if err := s.setSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()}); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Schema returns the stored schema, or nil if not set.
func (s *Store) Schema() *Schema {
	var schema *Schema
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})
	return schema
}

func (s *Store) setSchema(schema *Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

func diskPrefix(path string) []byte {
	return append([]byte(prefixSample+path), 0)
}

func sampleKey(path string, at time.Time) []byte {
	key := diskPrefix(path)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(at.UnixNano()))
	return append(key, ts[:]...)
}

// Record stores one sample per disk record, all stamped at.
func (s *Store) Record(at time.Time, runID string, records []types.DiskRecord) error {
	if len(records) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, rec := range records {
		data, err := json.Marshal(Sample{
			Path:        rec.Path,
			At:          at.UTC(),
			TotalGB:     rec.TotalGB,
			UsedGB:      rec.UsedGB,
			AvailableGB: rec.AvailableGB,
			RunID:       runID,
		})
		if err != nil {
			return err
		}
		if err := wb.Set(sampleKey(rec.Path, at), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Samples returns the samples of path in chronological order. A positive
// limit keeps only the most recent ones.
func (s *Store) Samples(path string, limit int) ([]Sample, error) {
	var samples []Sample

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := diskPrefix(path)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sample Sample
				if err := json.Unmarshal(val, &sample); err != nil {
					return err
				}
				samples = append(samples, sample)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoSamples)
	}

	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	return samples, nil
}

// Latest returns the most recent sample of path.
func (s *Store) Latest(path string) (Sample, error) {
	samples, err := s.Samples(path, 1)
	if err != nil {
		return Sample{}, err
	}
	return samples[0], nil
}

// Disks returns every recorded disk path, sorted.
func (s *Store) Disks() ([]string, error) {
	seen := make(map[string]struct{})

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixSample)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()[len(prefixSample):]
			if i := bytes.IndexByte(key, 0); i >= 0 {
				seen[string(key[:i])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	disks := make([]string, 0, len(seen))
	for d := range seen {
		disks = append(disks, d)
	}
	sort.Strings(disks)
	return disks, nil
}

// Prune deletes samples taken before cutoff and returns how many went.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	var stale [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		limit := uint64(cutoff.UnixNano())
		prefix := []byte(prefixSample)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) < 8 {
				continue
			}
			if binary.BigEndian.Uint64(key[len(key)-8:]) < limit {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(stale), nil
}
