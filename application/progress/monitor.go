package progress

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"vidextract/domain/extraction"
)

const (
	DefaultInterval    = 100 * time.Millisecond
	DefaultWaitTimeout = 5 * time.Second

	endSentinel = "end"
)

// StopReason tells why Poll returned
type StopReason string

const (
	StopEnded       StopReason = "ended"
	StopCancelled   StopReason = "cancelled"
	StopClosed      StopReason = "closed"
	StopUnavailable StopReason = "unavailable"
)

// Window maps the telemetry of one invocation onto the whole job
type Window struct {
	TotalDurationMs int64
	// OffsetMs is added to the engine's reported time. Seeking frame
	// tasks report time relative to their seek point.
	OffsetMs   int64
	TotalTasks int
}

// Monitor turns an engine telemetry stream into throttled Progress events
type Monitor struct {
	reader      extraction.TelemetryReader
	interval    time.Duration
	waitTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Option is a functional option for configuring Monitor
type Option func(*Monitor)

// WithInterval sets the polling interval, which is also the minimum
// spacing between two events
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithWaitTimeout bounds how long Poll waits for the stream to appear
func WithWaitTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.waitTimeout = d
	}
}

// WithLogger sets the logger for stream failures
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// NewMonitor creates a monitor reading telemetry through reader
func NewMonitor(reader extraction.TelemetryReader, opts ...Option) *Monitor {
	m := &Monitor{
		reader:      reader,
		interval:    DefaultInterval,
		waitTimeout: DefaultWaitTimeout,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Interval returns the polling interval
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Poll follows the stream at path until the end sentinel, ctx
// cancellation or a read failure. Stream problems are logged and never
// returned: progress is advisory.
func (m *Monitor) Poll(ctx context.Context, path string, w Window, onEvent func(extraction.Progress)) StopReason {
	rc, reason := m.open(ctx, path)
	if rc == nil {
		return reason
	}
	defer rc.Close()

	var (
		br       = bufio.NewReader(rc)
		pending  string
		lastMs   int64 = -1
		lastEmit time.Time
	)

	for {
		if ctx.Err() != nil {
			return StopCancelled
		}

		chunk, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			m.logger.Warn("telemetry read failed", "path", path, "error", err)
			return StopClosed
		}
		pending += chunk
		if err != nil {
			// Partial line: wait for the engine to write more
			if !m.sleep(ctx) {
				return StopCancelled
			}
			continue
		}

		line := strings.TrimSpace(pending)
		pending = ""

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if key == "progress" && value == endSentinel {
			return StopEnded
		}

		outMs, ok := parseOutTime(key, value)
		if !ok || outMs <= lastMs {
			continue
		}
		lastMs = outMs

		now := m.now()
		if !lastEmit.IsZero() && now.Sub(lastEmit) < m.interval {
			continue
		}
		lastEmit = now
		if onEvent != nil {
			onEvent(w.event(outMs))
		}
	}
}

// open waits for the stream to exist, at most waitTimeout
func (m *Monitor) open(ctx context.Context, path string) (io.ReadCloser, StopReason) {
	deadline := m.now().Add(m.waitTimeout)
	for {
		rc, err := m.reader.Open(path)
		if err == nil {
			return rc, ""
		}
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("telemetry unavailable", "path", path, "error", err)
			return nil, StopUnavailable
		}
		if !m.now().Before(deadline) {
			m.logger.Debug("telemetry never appeared", "path", path, "waited", m.waitTimeout)
			return nil, StopUnavailable
		}
		if !m.sleep(ctx) {
			return nil, StopCancelled
		}
	}
}

func (m *Monitor) sleep(ctx context.Context) bool {
	t := time.NewTimer(m.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// event converts the engine's elapsed time into a job-level Progress
func (w Window) event(outMs int64) extraction.Progress {
	elapsed := w.OffsetMs + outMs
	pct := Percentage(elapsed, w.TotalDurationMs)

	current := int(pct * float64(w.TotalTasks))
	if current > w.TotalTasks {
		current = w.TotalTasks
	}
	if elapsed > w.TotalDurationMs && w.TotalDurationMs > 0 {
		elapsed = w.TotalDurationMs
	}
	return extraction.Progress{
		Current:     current,
		Total:       w.TotalTasks,
		Percentage:  pct,
		TimestampMs: elapsed,
	}
}

// Percentage returns elapsed/total clamped to [0,1]
func Percentage(elapsedMs, totalMs int64) float64 {
	if totalMs <= 0 || elapsedMs <= 0 {
		return 0
	}
	p := float64(elapsedMs) / float64(totalMs)
	if p > 1 {
		return 1
	}
	return p
}

// parseOutTime reads the engine's elapsed output time in milliseconds.
// out_time_us and out_time_ms both carry microseconds.
func parseOutTime(key, value string) (int64, bool) {
	switch key {
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return us / 1000, true
	case "out_time":
		return parseClock(value)
	}
	return 0, false
}

// parseClock parses HH:MM:SS.ffffff
func parseClock(value string) (int64, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || h < 0 {
		return 0, false
	}
	mnt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || mnt < 0 || mnt > 59 {
		return 0, false
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, false
	}
	return (h*3600+mnt*60)*1000 + int64(sec*1000), true
}
