// Package runlock keeps two monitoring runs from overlapping on one host.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
)

// DefaultPath is the lock file used by the cron job.
const DefaultPath = "/tmp/sos_check_disks.lock"

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is an exclusive advisory lock on a file. The kernel drops it when
// the process exits, so a crashed run never blocks the next one.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the lock at path without blocking. When another process
// (or another open of the same file) holds it, ErrAlreadyRunning is
// returned. On success the file holds this process's PID and start time.
func Acquire(path string) (*Lock, error) {
	log := logging.Get("runlock")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating lock directory: %w", err)
		}
	}

	var f *os.File
	for attempt := 0; ; attempt++ {
		var err error
		f, err = lockFile(path)
		if err != nil {
			return nil, err
		}
		// A releasing holder may have unlinked the file we locked.
		if stillLinked(f, path) {
			break
		}
		_ = f.Close()
		if attempt == maxAttempts-1 {
			return nil, fmt.Errorf("locking %s: lock file replaced %d times", path, maxAttempts)
		}
	}

	if err := f.Truncate(0); err == nil {
		_, _ = fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	}

	log.Debug("lock acquired", "path", path, "pid", os.Getpid())
	return &Lock{path: path, file: f}, nil
}

// maxAttempts bounds how often Acquire retries a lock file that was
// replaced under it.
const maxAttempts = 5

func lockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid := HolderPID(path); pid > 0 {
				return nil, fmt.Errorf("%w (pid %d holds %s)", ErrAlreadyRunning, pid, path)
			}
			return nil, fmt.Errorf("%w (%s is locked)", ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return f, nil
}

// stillLinked reports whether path still names the file open as f.
func stillLinked(f *os.File, path string) bool {
	open, err := f.Stat()
	if err != nil {
		return false
	}
	named, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(open, named)
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. It is safe to call more than
// once and on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	// Remove before unlocking so a waiter never locks a file we then delete.
	removeErr := os.Remove(l.path)
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	logging.Get("runlock").Debug("lock released", "path", l.path)
	return errors.Join(removeErr, closeErr)
}

// HolderPID reads the PID recorded in the lock file, or 0 if none.
func HolderPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	first, _, _ := strings.Cut(string(data), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0
	}
	return pid
}
