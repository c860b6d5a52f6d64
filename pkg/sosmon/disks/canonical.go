package disks

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultMarker is the leaf directory SOS keeps under every disk.
const DefaultMarker = "pg_data"

// DefaultDepth keeps the first four path components, the disk root.
const DefaultDepth = 5

// ErrPathTooShallow is returned when a path has fewer components than
// the requested depth allows.
var ErrPathTooShallow = errors.New("path too shallow")

// Canonicalize maps a service data path to the root of the disk it lives
// on. The marker directory is appended, and the ancestor that keeps the
// first depth-1 components is returned:
//
//	Canonicalize("/nfs/sc/disks/sos_x/a/b", 5) == "/nfs/sc/disks/sos_x"
//
// Applying it to its own result returns the same path.
func Canonicalize(path string, depth int) (string, error) {
	return CanonicalizeWithMarker(path, DefaultMarker, depth)
}

// CanonicalizeWithMarker is Canonicalize with a custom marker directory.
func CanonicalizeWithMarker(path, marker string, depth int) (string, error) {
	if depth < 1 {
		return "", fmt.Errorf("invalid depth %d", depth)
	}

	clean := filepath.Clean(path)
	components := strings.FieldsFunc(clean, func(r rune) bool { return r == filepath.Separator })

	keep := depth - 1
	if len(components) < keep {
		return "", fmt.Errorf("%w: %s has %d levels, need %d",
			ErrPathTooShallow, filepath.Join(clean, marker), len(components)+1, depth)
	}

	root := filepath.Join(components[:keep]...)
	if filepath.IsAbs(clean) {
		root = string(filepath.Separator) + root
	}
	return root, nil
}

// Normalizer rewrites site-specific disk prefixes into a common form so
// that inventories compare equally across sites.
type Normalizer struct {
	pattern     *regexp.Regexp
	replacement string
}

// DefaultNormalizer maps /nfs/<anything>/disks to /nfs/site/disks.
func DefaultNormalizer() *Normalizer {
	return &Normalizer{
		pattern:     regexp.MustCompile(`^/nfs/.*/disks`),
		replacement: "/nfs/site/disks",
	}
}

// NewNormalizer compiles pattern. An empty pattern disables rewriting.
func NewNormalizer(pattern, replacement string) (*Normalizer, error) {
	if pattern == "" {
		return &Normalizer{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling normalize pattern: %w", err)
	}
	return &Normalizer{pattern: re, replacement: replacement}, nil
}

// Normalize returns path with its prefix rewritten.
func (n *Normalizer) Normalize(path string) string {
	if n == nil || n.pattern == nil {
		return path
	}
	return n.pattern.ReplaceAllLiteralString(path, n.replacement)
}
