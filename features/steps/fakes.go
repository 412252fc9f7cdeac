//go:build integration

package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"vidextract/cmd"
	"vidextract/domain/extraction"
	"vidextract/infrastructure/config"
	"vidextract/infrastructure/ffmpeg"
	"vidextract/infrastructure/filesystem"
)

// fakeEngine stands in for ffmpeg. It writes every requested output file,
// a finished telemetry block, and fails on outputs named in failOn.
type fakeEngine struct {
	mu       sync.Mutex
	commands []extraction.Command
	failOn   map[string]bool
	// hold, when set, keeps every invocation running until it is closed
	hold chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{failOn: make(map[string]bool)}
}

func (e *fakeEngine) Invoke(ctx context.Context, c extraction.Command) extraction.InvokeOutcome {
	e.mu.Lock()
	e.commands = append(e.commands, c)
	hold := e.hold
	fail := e.failOn[filepath.Base(c.OutputPath)]
	e.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return extraction.InvokeOutcome{Err: ctx.Err()}
		}
	}
	if fail {
		return extraction.InvokeOutcome{ExitCode: 1, Diagnostic: "Conversion failed!"}
	}
	if c.TelemetryPath != "" {
		body := fmt.Sprintf("out_time_ms=%d\nprogress=end\n", c.SeekMs*1000)
		_ = os.WriteFile(c.TelemetryPath, []byte(body), 0o644)
	}
	if err := os.WriteFile(c.OutputPath, []byte("output"), 0o644); err != nil {
		return extraction.InvokeOutcome{Err: err}
	}
	return extraction.InvokeOutcome{}
}

func (e *fakeEngine) seeks() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []int64
	for _, c := range e.commands {
		out = append(out, c.SeekMs)
	}
	return out
}

func (e *fakeEngine) invocations() []extraction.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]extraction.Command(nil), e.commands...)
}

// fakeInspector reports a fixed source layout for every path
type fakeInspector struct {
	source extraction.SourceDescriptor
	err    error
}

func (i *fakeInspector) Probe(ctx context.Context, path string) (extraction.SourceDescriptor, error) {
	if i.err != nil {
		return extraction.SourceDescriptor{}, i.err
	}
	return i.source, nil
}

// fakeProber reports a fixed amount of free space
type fakeProber struct {
	available uint64
}

func (p *fakeProber) AvailableBytes(path string) (uint64, error) {
	return p.available, nil
}

// sourceLayout builds a descriptor with one video stream and n audio streams
func sourceLayout(durationMs int64, fps float64, audioStreams int) extraction.SourceDescriptor {
	src := extraction.SourceDescriptor{
		DurationMs: durationMs,
		Width:      1920,
		Height:     1080,
		FrameRate:  fps,
		Codec:      "h264",
		Streams:    []extraction.Stream{{Index: 0, Type: extraction.StreamVideo, Codec: "h264"}},
	}
	for i := 0; i < audioStreams; i++ {
		src.Streams = append(src.Streams, extraction.Stream{
			Index: i + 1, Type: extraction.StreamAudio, Codec: "aac", SampleRate: 48000, Channels: 2,
		})
	}
	return src
}

// testConfig returns defaults rooted in dir with short polling intervals
func testConfig(dir string) *config.Config {
	cfg := config.Defaults()
	cfg.Paths = config.PathsConfig{
		WorkDir:   filepath.Join(dir, "work"),
		OutputDir: filepath.Join(dir, "extractions"),
		JobsDir:   filepath.Join(dir, "jobs"),
	}
	cfg.Progress.PollInterval = 5 * time.Millisecond
	cfg.Progress.TelemetryWait = 50 * time.Millisecond
	cfg.Jobs.PollInterval = 10 * time.Millisecond
	cfg.Jobs.BackoffIncrement = 10 * time.Millisecond
	return cfg
}

// testDependencies uses the real stager and telemetry reader with a fake
// engine, inspector and prober
func testDependencies(engine *fakeEngine, inspector *fakeInspector, prober *fakeProber) cmd.Dependencies {
	return cmd.Dependencies{
		Invoker:   engine,
		Inspector: inspector,
		Stager:    filesystem.NewStager(),
		Prober:    prober,
		Telemetry: ffmpeg.FileTelemetry{},
		Logger:    slog.New(slog.DiscardHandler),
	}
}

// writeSource creates a placeholder video file
func writeSource(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, []byte("not really a video"), 0o644)
}

// parseInts parses a comma-separated list of integers
func parseInts(list string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// countFiles counts regular files in dir; a missing dir counts as zero
func countFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() {
			n++
		}
	}
	return n, nil
}
