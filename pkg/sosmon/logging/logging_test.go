package logging_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
)

// These tests share the package's global state and must not run in parallel.

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{in: "debug", want: logging.LevelDebug},
		{in: "DEBUG", want: logging.LevelDebug},
		{in: "info", want: logging.LevelInfo},
		{in: "", want: logging.LevelInfo},
		{in: "warn", want: logging.LevelWarn},
		{in: "WARNING", want: logging.LevelWarn},
		{in: "error", want: logging.LevelError},
		{in: "CRITICAL", want: logging.LevelError},
		{in: "chatty", want: logging.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, logging.ErrInvalidLevel))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     logging.Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg:  logging.Config{Level: "info", Path: filepath.Join(dir, "a.log")},
		},
		{
			name: "component overrides",
			cfg: logging.Config{
				Level:      "info",
				Path:       filepath.Join(dir, "b.log"),
				Components: map[string]string{"remediate": "debug"},
			},
		},
		{
			name:    "invalid level",
			cfg:     logging.Config{Level: "loud", Path: filepath.Join(dir, "c.log")},
			wantErr: true,
		},
		{
			name:    "invalid console level",
			cfg:     logging.Config{Level: "info", ConsoleLevel: "loud", Path: filepath.Join(dir, "d.log")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := logging.Init(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, logging.Close())
		})
	}
}

func TestLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sosmon.log")
	require.NoError(t, logging.Init(logging.Config{Level: "debug", Path: path}))

	logger := logging.Get("inventory")
	logger.Info("inventory refreshed", "disks", 3)

	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "inventory refreshed")
	assert.Contains(t, string(data), "disks=3")
}

func TestLogger_ObtainedBeforeInitWritesAfterInit(t *testing.T) {
	logger := logging.Get("early-component")

	path := filepath.Join(t.TempDir(), "early.log")
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: path}))
	logger.Info("hello from an early logger")
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from an early logger")
}

func TestAlertsCaptured(t *testing.T) {
	logging.ResetAlerts()
	t.Cleanup(logging.ResetAlerts)

	logger := logging.Get("remediate")
	logger.Debug("not an alert")
	logger.Info("not an alert either")
	logger.Warn("low disk space", "disk", "sos_a")
	logger.Error("resize failed")

	alerts := logging.Alerts()
	require.Len(t, alerts, 2)

	assert.Equal(t, logging.LevelWarn, alerts[0].Level)
	assert.Equal(t, "remediate", alerts[0].Component)
	assert.Equal(t, "low disk space disk=sos_a", alerts[0].Message)
	assert.Equal(t, logging.LevelError, alerts[1].Level)

	lines := logging.Lines(alerts)
	assert.True(t, strings.Contains(lines[0], "[WARN] [remediate] low disk space"), lines[0])

	logging.ResetAlerts()
	assert.Empty(t, logging.Alerts())
}

func TestAlertBuffer_Overflow(t *testing.T) {
	b := logging.NewAlertBuffer(2)
	b.Add(logging.Alert{Message: "one"})
	b.Add(logging.Alert{Message: "two"})
	b.Add(logging.Alert{Message: "three"})

	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Message)
	assert.Equal(t, "three", entries[1].Message)
}
