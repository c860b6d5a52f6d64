package services

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/sosmon/pkg/sosmon/shell"
	"github.com/jamesainslie/sosmon/pkg/sosmon/shell/shelltest"
)

const exclusionsPath = "/data/excluded_services.txt"

func newEnumerator(exec shell.Executor, fs afero.Fs) *Enumerator {
	return &Enumerator{
		Exec:           exec,
		Sosadmin:       "sosadmin",
		FS:             fs,
		ExclusionsFile: exclusionsPath,
	}
}

func TestEnumerator_ExcludesListedServices(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, exclusionsPath, []byte("# retired\nB\n"), 0o644))
	exec := shelltest.New().On("sosadmin list", "A\nB\nC\n")

	got, err := newEnumerator(exec, fs).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, got)
}

func TestEnumerator_MissingExclusionFile(t *testing.T) {
	exec := shelltest.New().On("sosadmin list", "A\nB\nA\n")

	got, err := newEnumerator(exec, afero.NewMemMapFs()).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestEnumerator_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("command fails", func(t *testing.T) {
		cmdErr := &shell.CommandError{Kind: shell.TimedOut, Command: "sosadmin list"}
		exec := shelltest.New().OnError("sosadmin list", cmdErr)

		_, err := newEnumerator(exec, afero.NewMemMapFs()).List(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoServicesFound)
		assert.ErrorIs(t, err, shell.ErrTimedOut)
	})

	t.Run("empty output", func(t *testing.T) {
		exec := shelltest.New().On("sosadmin list", "\n\n")

		_, err := newEnumerator(exec, afero.NewMemMapFs()).List(ctx)
		assert.ErrorIs(t, err, ErrNoServicesFound)
	})

	t.Run("everything excluded", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, exclusionsPath, []byte("A\n"), 0o644))
		exec := shelltest.New().On("sosadmin list", "A\n")

		_, err := newEnumerator(exec, fs).List(ctx)
		assert.ErrorIs(t, err, ErrNoServicesFound)
	})
}

func TestEnumerator_PassesEnv(t *testing.T) {
	exec := shelltest.New().On("sosadmin list", "A\n")
	e := newEnumerator(exec, afero.NewMemMapFs())
	e.Env = []string{"SOS_SERVER_ROLE=repo"}

	_, err := e.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"SOS_SERVER_ROLE=repo"}, exec.Calls()[0].Env)
}

func TestReadExclusions(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "# header comment\n\n  svc_one  \nsvc_two\n#svc_three\n\t\n"
	require.NoError(t, afero.WriteFile(fs, "/x", []byte(content), 0o644))

	got, err := ReadExclusions(fs, "/x")
	require.NoError(t, err)
	assert.Equal(t, []string{"svc_one", "svc_two"}, got)

	_, err = ReadExclusions(fs, "/missing")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
