// Package common provides shared utilities including stage timing.
package common

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Timer measures one request from start to Stop and records named laps
// (decode, preprocess, infer, ...) along the way.
type Timer struct {
	start    time.Time
	last     time.Time
	name     string
	duration time.Duration
	laps     []Lap
}

// Lap is the duration of one named stage.
type Lap struct {
	Name     string
	Duration time.Duration
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	now := time.Now()
	return &Timer{start: now, last: now}
}

// NewNamedTimer creates a new timer with the given name.
func NewNamedTimer(name string) *Timer {
	t := NewTimer()
	t.name = name
	return t
}

// Lap records the time since the previous lap (or start) under name.
func (t *Timer) Lap(name string) time.Duration {
	now := time.Now()
	d := now.Sub(t.last)
	t.last = now
	t.laps = append(t.laps, Lap{Name: name, Duration: d})
	return d
}

// Laps returns the recorded laps in order.
func (t *Timer) Laps() []Lap {
	return t.laps
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Elapsed returns the time since start without stopping.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the timer name (empty string if unnamed).
func (t *Timer) Name() string {
	return t.name
}

// LogAttrs renders the laps as slog attributes in milliseconds.
func (t *Timer) LogAttrs() []any {
	attrs := make([]any, 0, 2*len(t.laps)+2)
	for _, l := range t.laps {
		attrs = append(attrs, l.Name+"_ms", float64(l.Duration.Microseconds())/1000)
	}
	return append(attrs, slog.Float64("total_ms", float64(t.duration.Microseconds())/1000))
}

// String returns a formatted string representation of the timer.
func (t *Timer) String() string {
	var b strings.Builder
	if t.name != "" {
		b.WriteString(t.name)
		b.WriteString(": ")
	}
	b.WriteString(t.duration.String())
	for _, l := range t.laps {
		_, _ = fmt.Fprintf(&b, " %s=%v", l.Name, l.Duration)
	}
	return b.String()
}
