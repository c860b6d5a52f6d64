// Package types provides the core data types shared by the sosmon packages.
// It includes the per-disk usage record and helpers for converting and
// formatting byte counts.
package types

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// DiskRecord captures the space figures of one disk at evaluation time.
// All values are whole gigabytes (2^30 bytes); fractions are discarded.
type DiskRecord struct {
	// Path is the canonical mount root of the disk.
	Path string `json:"path" yaml:"path"`

	// TotalGB is the capacity of the filesystem.
	TotalGB int64 `json:"total_gb" yaml:"total_gb"`

	// UsedGB is the space in use, including space reserved for root.
	UsedGB int64 `json:"used_gb" yaml:"used_gb"`

	// AvailableGB is the space available to unprivileged users.
	AvailableGB int64 `json:"available_gb" yaml:"available_gb"`
}

// Name returns the last path element of the disk, which is how the
// resize tooling identifies it.
func (d DiskRecord) Name() string {
	return filepath.Base(d.Path)
}

// IsLow reports whether the available space is at or below thresholdGB.
func (d DiskRecord) IsLow(thresholdGB int64) bool {
	return d.AvailableGB <= thresholdGB
}

// CSVRow returns the record as report columns: Disk, Total, Used, Available.
func (d DiskRecord) CSVRow() []string {
	return []string{
		d.Path,
		strconv.FormatInt(d.TotalGB, 10),
		strconv.FormatInt(d.UsedGB, 10),
		strconv.FormatInt(d.AvailableGB, 10),
	}
}

// BytesToGB converts a byte count to whole gigabytes, rounding down.
func BytesToGB(bytes uint64) int64 {
	return int64(bytes / uint64(GiB))
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatGB renders a whole-gigabyte value the way FormatSize would.
func FormatGB(gb int64) string {
	return FormatSize(gb * GiB)
}

// SortByName orders disk paths by their basename so that reports read in
// a predictable order. Paths sharing a basename fall back to full-path order.
func SortByName(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.SliceStable(sorted, func(i, j int) bool {
		bi, bj := filepath.Base(sorted[i]), filepath.Base(sorted[j])
		if bi != bj {
			return bi < bj
		}
		return sorted[i] < sorted[j]
	})
	return sorted
}
