package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

func sampleResult() *Result {
	return &Result{
		Site:        "sc",
		ThresholdGB: 250,
		GeneratedAt: time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC),
		Disks: []types.DiskRecord{
			{Path: "/nfs/site/disks/disk", TotalGB: 500, UsedGB: 300, AvailableGB: 200},
			{Path: "/nfs/site/disks/roomy", TotalGB: 2000, UsedGB: 1000, AvailableGB: 1000},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/sc_disk_usages.csv"

	require.NoError(t, fs.MkdirAll("/data", 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte("stale\n"), 0o644))

	err := WriteCSV(fs, path, []types.DiskRecord{
		{Path: "disk", TotalGB: 500, UsedGB: 300, AvailableGB: 200},
	})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "Disk,Total,Used,Available\ndisk,500,300,200\n", string(data))

	entries, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestWriteCSV_EmptyHasHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteCSV(fs, "/new/dir/out.csv", nil))

	data, err := afero.ReadFile(fs, "/new/dir/out.csv")
	require.NoError(t, err)
	assert.Equal(t, "Disk,Total,Used,Available\n", string(data))
}

func TestResult_LowAndTotals(t *testing.T) {
	r := sampleResult()

	low := r.Low()
	require.Len(t, low, 1)
	assert.Equal(t, "/nfs/site/disks/disk", low[0].Path)

	total, used, available := r.Totals()
	assert.Equal(t, int64(2500), total)
	assert.Equal(t, int64(1300), used)
	assert.Equal(t, int64(1200), available)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"csv", "json", "table", "yaml"}, Available())

	_, err := Get("xml")
	assert.Error(t, err)

	reg := NewRegistry()
	reg.Register("csv", func() Formatter { return &CSVFormatter{} })
	f, err := reg.Get("csv")
	require.NoError(t, err)
	assert.IsType(t, &CSVFormatter{}, f)
}

func TestFormatters(t *testing.T) {
	r := sampleResult()

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, (&CSVFormatter{}).Format(&buf, r))
		assert.Equal(t,
			"Disk,Total,Used,Available\n/nfs/site/disks/disk,500,300,200\n/nfs/site/disks/roomy,2000,1000,1000\n",
			buf.String())
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, (&JSONFormatter{}).Format(&buf, r))

		var doc document
		require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, "sc", doc.Site)
		assert.Equal(t, "2024-03-15T06:00:00Z", doc.GeneratedAt)
		require.Len(t, doc.Disks, 2)
		assert.True(t, doc.Disks[0].Low)
		assert.Equal(t, "disk", doc.Disks[0].Name)
		assert.False(t, doc.Disks[1].Low)
		assert.Equal(t, 1, doc.Summary.Low)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, (&YAMLFormatter{}).Format(&buf, r))

		var doc document
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
		assert.Equal(t, int64(250), doc.ThresholdGB)
		assert.Equal(t, 2, doc.Summary.Disks)
	})

	t.Run("table", func(t *testing.T) {
		r := sampleResult()
		r.Warnings = []string{"/nfs/site/disks/gone: no such file or directory"}

		var buf bytes.Buffer
		require.NoError(t, (&TableFormatter{}).Format(&buf, r))

		out := buf.String()
		assert.Contains(t, out, "/nfs/site/disks/disk")
		assert.Contains(t, out, "LOW")
		assert.Contains(t, out, "1 low")
		assert.Contains(t, out, "no such file or directory")
	})

	t.Run("table empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, (&TableFormatter{}).Format(&buf, &Result{ThresholdGB: 250}))
		assert.Contains(t, buf.String(), "No disks measured.")
	})
}

func TestSizeStyle(t *testing.T) {
	assert.Equal(t, DangerStyle.GetForeground(), SizeStyle(250, 250).GetForeground())
	assert.Equal(t, WarningStyle.GetForeground(), SizeStyle(400, 250).GetForeground())
	assert.Equal(t, SuccessStyle.GetForeground(), SizeStyle(501, 250).GetForeground())
}
