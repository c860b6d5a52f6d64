// Package report renders disk usage results, both as the CSV snapshot
// kept in the data directory and in the formats offered by the usage
// command.
//
// Formatters are looked up by name in a registry:
//
//	formatter, err := report.Get("table")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    return err
//	}
package report

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

// Result is what the formatters render.
type Result struct {
	// Site is the site code the disks belong to.
	Site string

	// Disks are the measured disks in report order.
	Disks []types.DiskRecord

	// ThresholdGB marks disks at or below it as low.
	ThresholdGB int64

	// GeneratedAt is when the disks were measured.
	GeneratedAt time.Time

	// Warnings holds disks that could not be measured and similar notes.
	Warnings []string
}

// Low returns the disks at or below the threshold.
func (r *Result) Low() []types.DiskRecord {
	var low []types.DiskRecord
	for _, d := range r.Disks {
		if d.IsLow(r.ThresholdGB) {
			low = append(low, d)
		}
	}
	return low
}

// Totals sums the capacity, usage and free space of all disks in GB.
func (r *Result) Totals() (total, used, available int64) {
	for _, d := range r.Disks {
		total += d.TotalGB
		used += d.UsedGB
		available += d.AvailableGB
	}
	return total, used, available
}

// Formatter is the interface that all report formatters implement.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty formatter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown format: %s", name)
	}
	return factory(), nil
}

// Available returns the sorted names of all registered formatters.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names in the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
