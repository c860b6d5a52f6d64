package usage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

const gib = uint64(types.GiB)

type fakeStatter map[string]Usage

func (f fakeStatter) Stat(path string) (Usage, error) {
	u, ok := f[path]
	if !ok {
		return Usage{}, os.ErrNotExist
	}
	return u, nil
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	stat := fakeStatter{
		"/nfs/site/disks/at":    {Total: 1000 * gib, Used: 750 * gib, Available: 250 * gib},
		"/nfs/site/disks/above": {Total: 1000 * gib, Used: 749 * gib, Available: 251 * gib},
		"/nfs/site/disks/below": {Total: 1000 * gib, Used: 900 * gib, Available: 100 * gib},
	}

	all, low, err := NewEvaluator(stat).Evaluate(context.Background(), []string{
		"/nfs/site/disks/below",
		"/nfs/site/disks/above",
		"/nfs/site/disks/at",
	}, 250)
	require.NoError(t, err)

	require.Len(t, all, 3)
	assert.Equal(t, []string{"/nfs/site/disks/above", "/nfs/site/disks/at", "/nfs/site/disks/below"},
		[]string{all[0].Path, all[1].Path, all[2].Path})

	require.Len(t, low, 2)
	assert.Equal(t, "/nfs/site/disks/at", low[0].Path)
	assert.Equal(t, "/nfs/site/disks/below", low[1].Path)
}

func TestEvaluate_HealthyDiskRecord(t *testing.T) {
	stat := fakeStatter{
		"/nfs/site/disks/disk": {Total: 500 * gib, Used: 300 * gib, Available: 200 * gib},
	}

	all, low, err := NewEvaluator(stat).Evaluate(context.Background(), []string{"/nfs/site/disks/disk"}, 100)
	require.NoError(t, err)
	assert.Empty(t, low)
	require.Len(t, all, 1)
	assert.Equal(t, types.DiskRecord{Path: "/nfs/site/disks/disk", TotalGB: 500, UsedGB: 300, AvailableGB: 200}, all[0])
}

func TestEvaluate_FloorsToWholeGB(t *testing.T) {
	stat := fakeStatter{
		"/d": {Total: 2*gib - 1, Used: gib + gib/2, Available: gib - 1},
	}

	rec, err := NewEvaluator(stat).Record("/d")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.TotalGB)
	assert.Equal(t, int64(1), rec.UsedGB)
	assert.Equal(t, int64(0), rec.AvailableGB)
}

func TestEvaluate_StatFailureSkipsDisk(t *testing.T) {
	stat := fakeStatter{
		"/nfs/site/disks/ok": {Total: 10 * gib, Used: 5 * gib, Available: 5 * gib},
	}

	all, low, err := NewEvaluator(stat).Evaluate(context.Background(), []string{
		"/nfs/site/disks/gone",
		"/nfs/site/disks/ok",
	}, 250)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), "/nfs/site/disks/gone")

	require.Len(t, all, 1)
	assert.Equal(t, "/nfs/site/disks/ok", all[0].Path)
	assert.Len(t, low, 1)
}

func TestEvaluate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	all, _, err := NewEvaluator(fakeStatter{}).Evaluate(ctx, []string{"/a"}, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, all)
}

func TestStatfs(t *testing.T) {
	u, err := Statfs(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, u.Total)
	assert.LessOrEqual(t, u.Available, u.Total)
	assert.LessOrEqual(t, u.Used, u.Total)

	_, err = Statfs("/definitely/not/here")
	assert.Error(t, err)

	rec, err := NewEvaluator(nil).Record(t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rec.TotalGB, rec.AvailableGB)
}
