package progress

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"vidextract/domain/extraction"
)

// mockReader serves a fixed telemetry body after missing opens attempts
type mockReader struct {
	mu      sync.Mutex
	body    string
	missing int
	opens   int
	openErr error
	readErr error
}

func (m *mockReader) Open(path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return nil, m.openErr
	}
	if m.opens <= m.missing {
		return nil, fs.ErrNotExist
	}
	var r io.Reader = strings.NewReader(m.body)
	if m.readErr != nil {
		r = io.MultiReader(r, errReader{m.readErr})
	}
	return io.NopCloser(r), nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

type osReader struct{}

func (osReader) Open(path string) (io.ReadCloser, error) { return os.Open(path) }

func collect(events *[]extraction.Progress) func(extraction.Progress) {
	return func(p extraction.Progress) { *events = append(*events, p) }
}

func TestMonitor_Poll(t *testing.T) {
	reader := &mockReader{body: strings.Join([]string{
		"frame=10",
		"out_time_us=1000000",
		"out_time_ms=1000000",
		"out_time=00:00:01.000000",
		"progress=continue",
		"out_time_us=2500000",
		"progress=end",
		"out_time_us=9000000",
	}, "\n") + "\n"}

	m := NewMonitor(reader, WithInterval(0))
	var events []extraction.Progress
	reason := m.Poll(context.Background(), "p.txt", Window{TotalDurationMs: 10000, TotalTasks: 10}, collect(&events))

	if reason != StopEnded {
		t.Fatalf("reason = %s, want %s", reason, StopEnded)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].TimestampMs != 1000 || events[0].Current != 1 || events[0].Percentage != 0.1 {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].TimestampMs != 2500 || events[1].Current != 2 || events[1].Total != 10 {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestMonitor_Poll_SkipsBadLines(t *testing.T) {
	reader := &mockReader{body: strings.Join([]string{
		"garbage without separator",
		"out_time_us=N/A",
		"out_time_us=-5",
		"out_time_us=3000000",
		"out_time=bogus",
		"out_time_us=2000000",
		"out_time=00:00:04.500000",
		"progress=end",
	}, "\n") + "\n"}

	m := NewMonitor(reader, WithInterval(0))
	var events []extraction.Progress
	m.Poll(context.Background(), "p.txt", Window{TotalDurationMs: 6000, TotalTasks: 3}, collect(&events))

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].TimestampMs != 3000 || events[1].TimestampMs != 4500 {
		t.Errorf("events = %+v", events)
	}
}

func TestMonitor_Poll_Throttles(t *testing.T) {
	var lines []string
	for i := 1; i <= 100; i++ {
		lines = append(lines, "out_time_us="+strconv.Itoa(i*10000))
	}
	lines = append(lines, "progress=end")
	reader := &mockReader{body: strings.Join(lines, "\n") + "\n"}

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMonitor(reader, WithInterval(time.Hour), WithClock(func() time.Time { return fixed }))

	var events []extraction.Progress
	reason := m.Poll(context.Background(), "p.txt", Window{TotalDurationMs: 1000, TotalTasks: 1}, collect(&events))

	if reason != StopEnded {
		t.Fatalf("reason = %s", reason)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events within one interval, want 1", len(events))
	}
}

func TestMonitor_Poll_OffsetAndClamp(t *testing.T) {
	reader := &mockReader{body: "out_time_us=3000000\nout_time_us=20000000\nprogress=end\n"}
	m := NewMonitor(reader, WithInterval(0))

	var events []extraction.Progress
	m.Poll(context.Background(), "p.txt", Window{TotalDurationMs: 10000, OffsetMs: 2000, TotalTasks: 4}, collect(&events))

	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Percentage != 0.5 || events[0].Current != 2 || events[0].TimestampMs != 5000 {
		t.Errorf("offset event = %+v", events[0])
	}
	if events[1].Percentage != 1 || events[1].Current != 4 || events[1].TimestampMs != 10000 {
		t.Errorf("clamped event = %+v", events[1])
	}
}

func TestMonitor_Poll_WaitsForStream(t *testing.T) {
	reader := &mockReader{missing: 3, body: "out_time_us=0\nprogress=end\n"}
	m := NewMonitor(reader, WithInterval(time.Millisecond), WithWaitTimeout(time.Second))

	reason := m.Poll(context.Background(), "p.txt", Window{TotalDurationMs: 1}, nil)
	if reason != StopEnded {
		t.Fatalf("reason = %s, want %s", reason, StopEnded)
	}
	if reader.opens != 4 {
		t.Errorf("opens = %d, want 4", reader.opens)
	}
}

func TestMonitor_Poll_StreamNeverAppears(t *testing.T) {
	reader := &mockReader{missing: 1 << 30}
	m := NewMonitor(reader, WithInterval(time.Millisecond), WithWaitTimeout(20*time.Millisecond))

	if reason := m.Poll(context.Background(), "p.txt", Window{}, nil); reason != StopUnavailable {
		t.Errorf("reason = %s, want %s", reason, StopUnavailable)
	}
}

func TestMonitor_Poll_ReadError(t *testing.T) {
	tests := []struct {
		name   string
		reader *mockReader
		want   StopReason
	}{
		{name: "open fails", reader: &mockReader{openErr: errors.New("permission denied")}, want: StopUnavailable},
		{name: "read fails", reader: &mockReader{body: "out_time_us=1\n", readErr: errors.New("disk gone")}, want: StopClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.reader, WithInterval(time.Millisecond))
			if got := m.Poll(context.Background(), "p.txt", Window{TotalDurationMs: 1000}, nil); got != tt.want {
				t.Errorf("reason = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMonitor_Poll_Cancelled(t *testing.T) {
	reader := &mockReader{body: "out_time_us=1000\n"}
	m := NewMonitor(reader, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if reason := m.Poll(ctx, "p.txt", Window{TotalDurationMs: 1000}, nil); reason != StopCancelled {
		t.Errorf("reason = %s, want %s", reason, StopCancelled)
	}
}

func TestMonitor_Poll_GrowingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.txt")
	m := NewMonitor(osReader{}, WithInterval(2*time.Millisecond), WithWaitTimeout(2*time.Second))

	done := make(chan StopReason, 1)
	var (
		mu     sync.Mutex
		events []extraction.Progress
	)
	go func() {
		done <- m.Poll(context.Background(), path, Window{TotalDurationMs: 4000, TotalTasks: 4}, func(p extraction.Progress) {
			mu.Lock()
			events = append(events, p)
			mu.Unlock()
		})
	}()

	time.Sleep(10 * time.Millisecond)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	writes := []string{"out_time_us=1000000\n", "out_ti", "me_us=3000000\n", "progress=end\n"}
	for _, w := range writes {
		if _, err := f.WriteString(w); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case reason := <-done:
		if reason != StopEnded {
			t.Fatalf("reason = %s", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[1].TimestampMs != 3000 {
		t.Errorf("events = %+v", events)
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		elapsed, total int64
		want           float64
	}{
		{elapsed: 0, total: 1000, want: 0},
		{elapsed: 250, total: 1000, want: 0.25},
		{elapsed: 5000, total: 1000, want: 1},
		{elapsed: -10, total: 1000, want: 0},
		{elapsed: 10, total: 0, want: 0},
	}
	for _, tt := range tests {
		if got := Percentage(tt.elapsed, tt.total); got != tt.want {
			t.Errorf("Percentage(%d, %d) = %v, want %v", tt.elapsed, tt.total, got, tt.want)
		}
	}
}
