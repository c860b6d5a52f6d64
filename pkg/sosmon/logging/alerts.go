package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultAlertCapacity is the number of alerts kept per run. Older alerts
// are dropped once it is reached; a run producing more than this has bigger
// problems than a truncated email.
const DefaultAlertCapacity = 500

// Alert is a warning or error logged during a run.
type Alert struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
}

// String renders the alert as one line of an alert email.
func (a Alert) String() string {
	return fmt.Sprintf("[%s] [%s] [%s] %s",
		a.Time.Format("2006-01-02 15:04:05"),
		strings.ToUpper(a.Level.String()),
		a.Component,
		a.Message,
	)
}

// AlertBuffer holds the most recent alerts in a ring buffer.
type AlertBuffer struct {
	entries []Alert
	maxSize int
	start   int
	count   int
	mu      sync.RWMutex
}

// NewAlertBuffer creates a buffer holding at most maxSize alerts.
func NewAlertBuffer(maxSize int) *AlertBuffer {
	if maxSize <= 0 {
		maxSize = DefaultAlertCapacity
	}
	return &AlertBuffer{
		entries: make([]Alert, maxSize),
		maxSize: maxSize,
	}
}

// Add appends an alert, overwriting the oldest one when full.
func (b *AlertBuffer) Add(a Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.start + b.count) % b.maxSize
	b.entries[idx] = a

	if b.count < b.maxSize {
		b.count++
	} else {
		b.start = (b.start + 1) % b.maxSize
	}
}

// Entries returns a copy of the buffered alerts, oldest first.
func (b *AlertBuffer) Entries() []Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Alert, b.count)
	for i := 0; i < b.count; i++ {
		result[i] = b.entries[(b.start+i)%b.maxSize]
	}
	return result
}

// Len returns the number of buffered alerts.
func (b *AlertBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Clear removes all alerts.
func (b *AlertBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = 0
	b.count = 0
}

// Lines renders alerts as email body lines.
func Lines(alerts []Alert) []string {
	lines := make([]string, len(alerts))
	for i, a := range alerts {
		lines[i] = a.String()
	}
	return lines
}
