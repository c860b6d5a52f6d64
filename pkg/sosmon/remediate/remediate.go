// Package remediate decides what to do about disks that are low on space
// and files resize requests with stod when allowed.
//
// A disk resized within the lookback window is never resized again; it is
// flagged for investigation instead. A history query that fails counts as
// no resize on record.
package remediate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
	"github.com/jamesainslie/sosmon/pkg/sosmon/shell"
	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

// DefaultLookbackDays is how far back resize history is checked.
const DefaultLookbackDays = 2

// ResizeFloorGB is the smallest disk that may be resized automatically.
const ResizeFloorGB = 100

// ErrBelowResizeFloor is returned by NewSize for disks under ResizeFloorGB.
var ErrBelowResizeFloor = errors.New("disk is below the automatic resize floor")

// ErrResizeNotConfirmed is returned when stod exits cleanly without
// confirming the resize.
var ErrResizeNotConfirmed = errors.New("stod did not confirm the resize")

var (
	resizeHistoryPattern = regexp.MustCompile(`stod\s+resize,\d{2}/\d{2}/\d{4}\s+\d{2}:\d{2}:\d{2}`)
	resizeSuccessPattern = regexp.MustCompile(`(?i)successfully`)
)

// Kind is the result of remediating one disk.
type Kind int

const (
	// WarnOnly means the disk was reported and resizing is disabled.
	WarnOnly Kind = iota
	// RecentlyResized means a resize is already on record in the lookback window.
	RecentlyResized
	// Refused means the disk is too small to resize automatically.
	Refused
	// Resized means stod confirmed the resize.
	Resized
	// ResizeFailed means the resize request failed or was not confirmed.
	ResizeFailed
)

var kindNames = map[Kind]string{
	WarnOnly:        "warn-only",
	RecentlyResized: "recently-resized",
	Refused:         "refused",
	Resized:         "resized",
	ResizeFailed:    "resize-failed",
}

// String returns the kind's name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown remediation kind %q", b)
}

// Outcome records what happened to one low disk.
type Outcome struct {
	Disk      types.DiskRecord `json:"disk" yaml:"disk"`
	Kind      Kind             `json:"kind" yaml:"kind"`
	NewSizeGB int64            `json:"new_size_gb,omitempty" yaml:"new_size_gb,omitempty"`
	Detail    string           `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// NewSize computes the size to request for a disk of currentGB. Disks of
// a terabyte or more round down to 100GB, smaller ones to 10GB, and
// addGB is added on top. Disks under 100GB are refused.
func NewSize(currentGB, addGB int64) (int64, error) {
	var factor int64
	switch {
	case currentGB >= 1000:
		factor = 100
	case currentGB >= ResizeFloorGB:
		factor = 10
	default:
		return 0, fmt.Errorf("%w: %dGB", ErrBelowResizeFloor, currentGB)
	}
	return currentGB/factor*factor + addGB, nil
}

// Controller files resize requests through stod.
type Controller struct {
	Exec       shell.Executor
	Stod       string
	Stodstatus string

	// Cell is the site code passed to stod resize.
	Cell string

	LookbackDays int
	Timeout      time.Duration
	Env          []string
}

// HistoryArgs returns the stodstatus arguments that look up the latest
// resize of diskName within days.
func HistoryArgs(diskName string, days int) []string {
	return []string{
		"requests",
		"--field", "Type,SubmitTime",
		"--format", "csv",
		"--history", strconv.Itoa(days) + "d",
		"--number", "1",
		fmt.Sprintf("description=~'%s' && type=~'resize'", diskName),
	}
}

// ResizeArgs returns the stod arguments that grow path to sizeGB.
func ResizeArgs(cell, path string, sizeGB int64) []string {
	return []string{
		"resize",
		"--cell", cell,
		"--path", path,
		"--size", strconv.FormatInt(sizeGB, 10) + "GB",
		"--immediate",
		"--exceed-forecast",
	}
}

// RecentlyResized reports whether stodstatus has a resize of disk on record.
func (c *Controller) RecentlyResized(ctx context.Context, disk types.DiskRecord) (bool, error) {
	days := c.LookbackDays
	if days <= 0 {
		days = DefaultLookbackDays
	}

	out, err := c.Exec.Run(ctx, shell.Command{
		Name:    c.Stodstatus,
		Args:    HistoryArgs(disk.Name(), days),
		Timeout: c.Timeout,
		Env:     c.Env,
	})
	if err != nil {
		return false, fmt.Errorf("querying resize history of %s: %w", disk.Name(), err)
	}

	// The whole stdout is searched; the CSV row is never split.
	return resizeHistoryPattern.MatchString(out.Stdout), nil
}

// Resize asks stod to grow disk to sizeGB.
func (c *Controller) Resize(ctx context.Context, disk types.DiskRecord, sizeGB int64) error {
	out, err := c.Exec.Run(ctx, shell.Command{
		Name:    c.Stod,
		Args:    ResizeArgs(c.Cell, disk.Path, sizeGB),
		Timeout: c.Timeout,
		Env:     c.Env,
	})
	if err != nil {
		return fmt.Errorf("resizing %s: %w", disk.Path, err)
	}
	if !resizeSuccessPattern.MatchString(out.Stdout) {
		return fmt.Errorf("resizing %s: %w", disk.Path, ErrResizeNotConfirmed)
	}
	return nil
}

// Remediate handles each low disk in order. Failures are logged and
// recorded in the outcome; processing always continues with the next disk.
func (c *Controller) Remediate(ctx context.Context, low []types.DiskRecord, addGB int64) []Outcome {
	log := logging.Get("remediate")

	outcomes := make([]Outcome, 0, len(low))
	for _, disk := range low {
		log.Warn(fmt.Sprintf("%s Size: %dGB; Avail: %dGB *** Low disk space", disk.Path, disk.TotalGB, disk.AvailableGB))
		outcomes = append(outcomes, c.remediateOne(ctx, disk, addGB))
	}
	return outcomes
}

func (c *Controller) remediateOne(ctx context.Context, disk types.DiskRecord, addGB int64) Outcome {
	log := logging.Get("remediate")
	outcome := Outcome{Disk: disk}

	recent, err := c.RecentlyResized(ctx, disk)
	if err != nil {
		log.Warn("cannot read resize history, assuming no recent resize", "disk", disk.Name(), "error", err)
	}
	if recent {
		log.Warn(fmt.Sprintf("Disk %s size has been recently increased. Investigation needed.", disk.Name()))
		outcome.Kind = RecentlyResized
		return outcome
	}

	if addGB <= 0 {
		outcome.Kind = WarnOnly
		return outcome
	}

	size, err := NewSize(disk.TotalGB, addGB)
	if err != nil {
		log.Error("auto-resizing is not supported", "disk", disk.Name(), "error", err)
		outcome.Kind = Refused
		outcome.Detail = err.Error()
		return outcome
	}
	outcome.NewSizeGB = size

	log.Info("resizing disk", "disk", disk.Name(), "size_gb", disk.TotalGB, "add_gb", addGB, "new_size_gb", size)
	if err := c.Resize(ctx, disk, size); err != nil {
		log.Error("resize failed", "disk", disk.Name(), "error", err)
		outcome.Kind = ResizeFailed
		outcome.Detail = err.Error()
		return outcome
	}

	log.Info("disk size increased", "disk", disk.Name(), "new_size_gb", size)
	outcome.Kind = Resized
	return outcome
}
