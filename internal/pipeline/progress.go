package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives progress while many files are predicted.
// Calls are serialized by the caller.
type ProgressCallback interface {
	// OnStart is called once with the number of files.
	OnStart(total int)

	// OnItem is called after each file, successful or not.
	OnItem(done, total int, item FileResult)

	// OnComplete is called once all files are finished.
	OnComplete(summary Summary)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)                 {}
func (NoOpProgressCallback) OnItem(int, int, FileResult) {}
func (NoOpProgressCallback) OnComplete(Summary)          {}

// ConsoleProgressCallback redraws a single status line on a terminal.
type ConsoleProgressCallback struct {
	writer         io.Writer
	prefix         string
	width          int
	updateInterval time.Duration
	lastUpdate     time.Time
	startTime      time.Time
	failed         int
	mutex          sync.Mutex
}

// NewConsoleProgressCallback creates a console progress reporter.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		width:          30,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithWidth sets the progress bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	if width > 0 {
		c.width = width
	}
	return c
}

// WithUpdateInterval sets the minimum time between redraws.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.updateInterval = interval
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	c.failed = 0
	_, _ = fmt.Fprintf(c.writer, "%s0/%d images\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnItem(done, total int, item FileResult) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if item.Err != nil {
		c.failed++
		_, _ = fmt.Fprintf(c.writer, "\n%s%s: %v\n", c.prefix, item.Path, item.Err)
	}

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && done < total {
		return
	}
	c.lastUpdate = now
	c.draw(done, total, now)
}

func (c *ConsoleProgressCallback) OnComplete(summary Summary) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, _ = fmt.Fprintf(c.writer, "\n%s%d succeeded, %d failed in %v\n",
		c.prefix, summary.Succeeded, summary.Failed, summary.Duration.Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) draw(done, total int, now time.Time) {
	if total == 0 {
		return
	}
	filled := c.width * done / total
	bar := strings.Repeat("#", filled) + strings.Repeat(".", c.width-filled)
	status := fmt.Sprintf("\r%s[%s] %d/%d", c.prefix, bar, done, total)
	if c.failed > 0 {
		status += fmt.Sprintf(" (%d failed)", c.failed)
	}
	if elapsed := now.Sub(c.startTime); elapsed > 0 && done > 0 {
		status += fmt.Sprintf(" %.1f img/s", float64(done)/elapsed.Seconds())
	}
	_, _ = fmt.Fprint(c.writer, status)
}

// LogProgressCallback logs progress with slog every interval files.
type LogProgressCallback struct {
	logger   *slog.Logger
	level    slog.Level
	interval int
	lastLog  int
}

// NewLogProgressCallback creates a log-based progress reporter.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: 10}
}

// WithInterval sets how frequently to log progress (every N files).
func (l *LogProgressCallback) WithInterval(interval int) *LogProgressCallback {
	if interval > 0 {
		l.interval = interval
	}
	return l
}

func (l *LogProgressCallback) OnStart(total int) {
	l.lastLog = 0
	l.logger.Log(context.Background(), l.level, "Batch prediction started", "total", total)
}

func (l *LogProgressCallback) OnItem(done, total int, item FileResult) {
	if item.Err != nil {
		l.logger.Warn("Prediction failed", "file", item.Path, "error", item.Err)
	}
	if done-l.lastLog >= l.interval || done == total {
		l.lastLog = done
		l.logger.Log(context.Background(), l.level, "Batch progress", "done", done, "total", total)
	}
}

func (l *LogProgressCallback) OnComplete(summary Summary) {
	l.logger.Log(context.Background(), l.level, "Batch prediction completed",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.Duration.Round(time.Millisecond),
	)
}

// MultiProgressCallback fans out to several callbacks.
type MultiProgressCallback []ProgressCallback

func (m MultiProgressCallback) OnStart(total int) {
	for _, cb := range m {
		cb.OnStart(total)
	}
}

func (m MultiProgressCallback) OnItem(done, total int, item FileResult) {
	for _, cb := range m {
		cb.OnItem(done, total, item)
	}
}

func (m MultiProgressCallback) OnComplete(summary Summary) {
	for _, cb := range m {
		cb.OnComplete(summary)
	}
}
