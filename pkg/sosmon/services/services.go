// Package services lists the SOS services hosted on this server.
package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
	"github.com/jamesainslie/sosmon/pkg/sosmon/shell"
)

// ErrNoServicesFound is returned when sosadmin fails or lists nothing.
var ErrNoServicesFound = errors.New("no SOS services found")

// Enumerator runs "sosadmin list" and drops excluded services.
type Enumerator struct {
	Exec     shell.Executor
	Sosadmin string
	Timeout  time.Duration
	Env      []string

	// FS and ExclusionsFile locate the exclusion list. A missing file
	// excludes nothing.
	FS             afero.Fs
	ExclusionsFile string
}

// List returns the services to monitor in the order sosadmin reports
// them, without duplicates or excluded names.
func (e *Enumerator) List(ctx context.Context) ([]string, error) {
	log := logging.Get("services")

	out, err := e.Exec.Run(ctx, shell.Command{
		Name:    e.Sosadmin,
		Args:    []string{"list"},
		Timeout: e.Timeout,
		Env:     e.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoServicesFound, err)
	}

	listed := lo.Uniq(out.Lines())
	if len(listed) == 0 {
		return nil, ErrNoServicesFound
	}

	excluded, err := e.exclusions()
	if err != nil {
		return nil, err
	}

	services := lo.Without(listed, excluded...)
	if skipped := lo.Intersect(listed, excluded); len(skipped) > 0 {
		log.Debug("excluding services", "services", strings.Join(skipped, ","))
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: all %d services are excluded", ErrNoServicesFound, len(listed))
	}

	log.Info("services found", "count", len(services), "excluded", len(listed)-len(services))
	return services, nil
}

func (e *Enumerator) exclusions() ([]string, error) {
	if e.ExclusionsFile == "" {
		return nil, nil
	}
	fs := e.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}

	names, err := ReadExclusions(fs, e.ExclusionsFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return names, err
}

// ReadExclusions reads one service name per line. Blank lines and lines
// starting with '#' are ignored.
func ReadExclusions(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading excluded services: %w", err)
	}

	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading excluded services: %w", err)
	}
	return names, nil
}
