// Package disks turns SOS service configuration into the list of disk
// roots to monitor.
//
// sosmgr prints one CSV row per service with its cache and primary (or
// replica) data paths. Each path is reduced to its disk root, prefixes are
// normalized, and the result is deduplicated in order of first appearance.
package disks

import (
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
	"github.com/jamesainslie/sosmon/pkg/sosmon/site"
)

var (
	// ErrNoDisksFound is returned when sosmgr fails or reports no paths.
	ErrNoDisksFound = errors.New("no SOS disks found")

	// ErrUnknownRole is returned for a server role other than repo or replica.
	ErrUnknownRole = errors.New("unknown server role")
)

// localPrimary marks rows whose last field is the primary repository path.
const localPrimary = "local"

// Resolver queries sosmgr for the data paths of a set of services.
type Resolver struct {
	Exec    shell.Executor
	Sosmgr  string
	Role    site.Role
	Timeout time.Duration
	Env     []string

	opts options
}

type options struct {
	marker     string
	depth      int
	normalizer *Normalizer
	existsFS   afero.Fs
}

// Option configures a Resolver.
type Option func(*options)

// WithDepth sets the canonicalization depth.
func WithDepth(depth int) Option {
	return func(o *options) { o.depth = depth }
}

// WithMarker sets the marker directory appended before canonicalization.
func WithMarker(marker string) Option {
	return func(o *options) { o.marker = marker }
}

// WithNormalizer replaces the default prefix normalizer.
func WithNormalizer(n *Normalizer) Option {
	return func(o *options) { o.normalizer = n }
}

// WithExistenceCheck skips raw paths that do not exist on fs.
func WithExistenceCheck(fs afero.Fs) Option {
	return func(o *options) { o.existsFS = fs }
}

// NewResolver returns a Resolver for the given role.
func NewResolver(exec shell.Executor, sosmgr string, role site.Role, opts ...Option) *Resolver {
	o := options{
		marker:     DefaultMarker,
		depth:      DefaultDepth,
		normalizer: DefaultNormalizer(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Resolver{Exec: exec, Sosmgr: sosmgr, Role: role, opts: o}
}

// QueryArgs returns the sosmgr arguments for role.
func QueryArgs(role site.Role, services []string) ([]string, error) {
	args := []string{"service", "get", "-o", "csv"}
	switch role {
	case site.RoleRepo:
		args = append(args, "-cpa", "-ppa", "-pcl")
	case site.RoleReplica:
		args = append(args, "-cpa", "-ppa", "-rpa", "-pcl", "-rcl")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return append(args, "-s", strings.Join(services, ",")), nil
}

// Resolve returns the deduplicated, normalized disk roots of services.
func (r *Resolver) Resolve(ctx context.Context, services []string) ([]string, error) {
	log := logging.Get("disks")

	args, err := QueryArgs(r.Role, services)
	if err != nil {
		return nil, err
	}

	out, err := r.Exec.Run(ctx, shell.Command{
		Name:    r.Sosmgr,
		Args:    args,
		Timeout: r.Timeout,
		Env:     r.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDisksFound, err)
	}

	raw := ParseRows(out.Stdout)
	if len(raw) == 0 {
		return nil, ErrNoDisksFound
	}

	var roots []string
	for _, p := range raw {
		if r.opts.existsFS != nil {
			if _, err := r.opts.existsFS.Stat(p); errors.Is(err, os.ErrNotExist) {
				log.Warn("disk path does not exist, skipping", "path", p)
				continue
			}
		}

		root, err := CanonicalizeWithMarker(p, r.opts.marker, r.opts.depth)
		if err != nil {
			log.Error("cannot canonicalize disk path", "path", p, "error", err)
			continue
		}
		roots = append(roots, r.opts.normalizer.Normalize(root))
	}

	roots = lo.Uniq(roots)
	if len(roots) == 0 {
		return nil, ErrNoDisksFound
	}

	log.Info("disks resolved", "services", len(services), "paths", len(raw), "disks", len(roots))
	return roots, nil
}

// ParseRows extracts raw data paths from sosmgr CSV output.
//
// Rows with more than five fields come from replicas and contribute their
// last field. Other rows contribute the cache path (third from last),
// preceded by the primary path (last) when the second-to-last field is
// "local". Header rows, blank rows and rows with fewer than three fields
// are skipped.
func ParseRows(stdout string) []string {
	log := logging.Get("disks")

	var paths []string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := lo.Map(strings.Split(line, ","), func(f string, _ int) string {
			return strings.TrimSpace(f)
		})
		if strings.EqualFold(fields[0], "site") {
			continue
		}

		n := len(fields)
		switch {
		case n > 5:
			paths = appendPath(paths, fields[n-1])
		case n >= 3:
			if strings.EqualFold(fields[n-2], localPrimary) {
				paths = appendPath(paths, fields[n-1])
			}
			paths = appendPath(paths, fields[n-3])
		default:
			log.Warn("malformed sosmgr row, skipping", "row", line)
		}
	}
	return paths
}

func appendPath(paths []string, p string) []string {
	if p == "" {
		return paths
	}
	return append(paths, p)
}
