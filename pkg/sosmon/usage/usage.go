// Package usage measures disks and picks out the ones running low.
package usage

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

// DefaultThresholdGB is the free space at or below which a disk is low.
const DefaultThresholdGB = 250

// Usage holds the raw byte counts of one filesystem.
type Usage struct {
	Total     uint64
	Used      uint64
	Available uint64
}

// Statter reports filesystem usage for a path.
type Statter interface {
	Stat(path string) (Usage, error)
}

// StatterFunc adapts a function to Statter.
type StatterFunc func(path string) (Usage, error)

// Stat implements Statter.
func (f StatterFunc) Stat(path string) (Usage, error) {
	return f(path)
}

// Statfs reads usage with statfs(2). Used counts every allocated block,
// including those reserved for root, while Available is what an ordinary
// user can still write.
func Statfs(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, err
	}

	frsize := uint64(st.Frsize)
	if frsize == 0 {
		frsize = uint64(st.Bsize)
	}
	return Usage{
		Total:     st.Blocks * frsize,
		Used:      (st.Blocks - st.Bfree) * frsize,
		Available: st.Bavail * frsize,
	}, nil
}

// Evaluator measures disks with a Statter.
type Evaluator struct {
	statter Statter
}

// NewEvaluator returns an Evaluator. A nil statter uses Statfs.
func NewEvaluator(s Statter) *Evaluator {
	if s == nil {
		s = StatterFunc(Statfs)
	}
	return &Evaluator{statter: s}
}

// Record measures one disk.
func (e *Evaluator) Record(path string) (types.DiskRecord, error) {
	u, err := e.statter.Stat(path)
	if err != nil {
		return types.DiskRecord{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return types.DiskRecord{
		Path:        path,
		TotalGB:     types.BytesToGB(u.Total),
		UsedGB:      types.BytesToGB(u.Used),
		AvailableGB: types.BytesToGB(u.Available),
	}, nil
}

// Evaluate measures every disk in basename order and returns all records
// along with those at or below thresholdGB. Disks that cannot be measured
// are logged and left out; their errors are joined into err while the
// remaining records are still returned.
func (e *Evaluator) Evaluate(ctx context.Context, disks []string, thresholdGB int64) (all, low []types.DiskRecord, err error) {
	log := logging.Get("usage")

	var errs []error
	for _, path := range types.SortByName(disks) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, ctxErr)
			break
		}

		rec, statErr := e.Record(path)
		if statErr != nil {
			log.Error("cannot measure disk", "path", path, "error", statErr)
			errs = append(errs, statErr)
			continue
		}

		all = append(all, rec)
		if rec.IsLow(thresholdGB) {
			low = append(low, rec)
		}
		log.Debug("disk measured",
			"path", path,
			"total_gb", rec.TotalGB,
			"used_gb", rec.UsedGB,
			"available_gb", rec.AvailableGB,
		)
	}

	log.Info("disks evaluated", "measured", len(all), "low", len(low), "threshold_gb", thresholdGB)
	return all, low, errors.Join(errs...)
}
