package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_KeepsNumberedBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "check.log")
	w, err := NewRotatingWriter(path, RotationConfig{MaxSize: 1 << 20, MaxBackups: 2})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	for _, content := range []string{"first\n", "second\n", "third\n"} {
		_, err := w.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, w.Rotate())
	}

	backup1, err := os.ReadFile(w.BackupPath(1))
	require.NoError(t, err)
	assert.Equal(t, "third\n", string(backup1))

	backup2, err := os.ReadFile(w.BackupPath(2))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(backup2))

	_, err = os.Stat(w.BackupPath(3))
	assert.True(t, os.IsNotExist(err), "only MaxBackups backups are kept")
}

func TestRotatingWriter_RotatesOnSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "size.log")
	w, err := NewRotatingWriter(path, RotationConfig{MaxSize: 10, MaxBackups: 5})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	_, err = w.Write([]byte("12345678"))
	require.NoError(t, err)
	_, err = w.Write([]byte("abcdefgh"))
	require.NoError(t, err)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(current))

	backup, err := os.ReadFile(w.BackupPath(1))
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(backup))
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "closed.log"), RotationConfig{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
