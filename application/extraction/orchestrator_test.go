package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vidextract/application/progress"
	"vidextract/domain/extraction"
)

// mockInvoker pretends to be the engine: it writes the output file and,
// optionally, synthetic telemetry
type mockInvoker struct {
	mu         sync.Mutex
	commands   []extraction.Command
	failOn     map[string]bool
	skipOutput bool
	telemetry  []string
	delay      time.Duration
	onInvoke   func(cmd extraction.Command)

	active    int32
	maxActive int32
}

func (m *mockInvoker) Invoke(ctx context.Context, cmd extraction.Command) extraction.InvokeOutcome {
	n := atomic.AddInt32(&m.active, 1)
	defer atomic.AddInt32(&m.active, -1)
	for {
		peak := atomic.LoadInt32(&m.maxActive)
		if n <= peak || atomic.CompareAndSwapInt32(&m.maxActive, peak, n) {
			break
		}
	}

	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	m.mu.Unlock()

	if m.onInvoke != nil {
		m.onInvoke(cmd)
	}
	if m.telemetry != nil {
		body := strings.Join(m.telemetry, "\n") + "\n"
		if err := os.WriteFile(cmd.TelemetryPath, []byte(body), 0o644); err != nil {
			return extraction.InvokeOutcome{Err: err}
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.failOn[filepath.Base(cmd.OutputPath)] {
		return extraction.InvokeOutcome{ExitCode: 1, Diagnostic: "Conversion failed!"}
	}
	if !m.skipOutput {
		if err := os.WriteFile(cmd.OutputPath, []byte("data"), 0o644); err != nil {
			return extraction.InvokeOutcome{Err: err}
		}
	}
	return extraction.InvokeOutcome{}
}

func (m *mockInvoker) outputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.commands {
		out = append(out, filepath.Base(c.OutputPath))
	}
	return out
}

type mockStager struct {
	calls      int32
	shouldFail bool
	failError  error
}

func (m *mockStager) Stage(ctx context.Context, src, dst string) error {
	atomic.AddInt32(&m.calls, 1)
	if m.shouldFail {
		return m.failError
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("source"), 0o600)
}

type mockProber struct {
	available uint64
}

func (m *mockProber) AvailableBytes(path string) (uint64, error) {
	return m.available, nil
}

type mockVerifier struct {
	reject string
}

func (m *mockVerifier) Verify(path string, maxDimension int) error {
	if filepath.Base(path) == m.reject {
		return errors.New("not a jpeg")
	}
	return nil
}

type osTelemetry struct{}

func (osTelemetry) Open(path string) (io.ReadCloser, error) { return os.Open(path) }

type fixture struct {
	invoker  *mockInvoker
	stager   *mockStager
	prober   *mockProber
	workDir  string
	outDir   string
	orch     *Orchestrator
	verifier *mockVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		invoker: &mockInvoker{},
		stager:  &mockStager{},
		prober:  &mockProber{available: 1 << 40},
		workDir: filepath.Join(root, "work"),
		outDir:  filepath.Join(root, "out"),
	}
	f.build()
	return f
}

func (f *fixture) build(opts ...Option) {
	monitor := progress.NewMonitor(osTelemetry{},
		progress.WithInterval(time.Millisecond),
		progress.WithWaitTimeout(20*time.Millisecond))
	opts = append([]Option{WithWorkDir(f.workDir)}, opts...)
	if f.verifier != nil {
		opts = append(opts, WithVerifier(f.verifier))
	}
	f.orch = NewOrchestrator(f.invoker, f.stager, f.prober, monitor, opts...)
}

func (f *fixture) request(cfg extraction.Config) Request {
	return Request{
		JobID:      "job-1",
		Kind:       extraction.KindFrames,
		SourcePath: "/videos/clip.mp4",
		Source:     extraction.SourceDescriptor{DurationMs: 2000, Width: 1920, Height: 1080, FrameRate: 30},
		Config:     cfg,
		OutputDir:  f.outDir,
	}
}

func (f *fixture) assertWorkDirGone(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(f.workDir, "job-1")); !os.IsNotExist(err) {
		t.Errorf("working directory still present (err=%v)", err)
	}
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func timestampsConfig(batch int, ts ...int64) extraction.Config {
	cfg := extraction.FromTimestamps(ts)
	cfg.BatchSize = batch
	return cfg
}

func TestOrchestrator_Run_FramesInIndexOrder(t *testing.T) {
	f := newFixture(t)
	f.invoker.delay = 10 * time.Millisecond

	result := f.orch.Run(context.Background(), f.request(timestampsConfig(2, 0, 500, 1000)))

	success, ok := result.(extraction.Success)
	if !ok {
		t.Fatalf("expected Success, got %#v", result)
	}
	if success.TotalCount != 3 || len(success.Paths) != 3 {
		t.Fatalf("TotalCount = %d, paths = %v", success.TotalCount, success.Paths)
	}
	if !sort.StringsAreSorted(success.Paths) {
		t.Errorf("paths not in index order: %v", success.Paths)
	}
	wantDir := filepath.Join(f.outDir, "full")
	if success.OutputDirectory != wantDir {
		t.Errorf("OutputDirectory = %s, want %s", success.OutputDirectory, wantDir)
	}
	for _, p := range success.Paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing output %s", p)
		}
	}
	if got := atomic.LoadInt32(&f.invoker.maxActive); got > 2 {
		t.Errorf("max concurrent invocations = %d, want <= 2", got)
	}

	seeks := map[int64]bool{}
	for _, c := range f.invoker.commands {
		seeks[c.SeekMs] = true
		if c.QScale != 5 || c.ScaleWidth != 1920 || c.ScaleHeight != 1080 {
			t.Errorf("unexpected filters in %+v", c)
		}
		if !strings.HasPrefix(c.TelemetryPath, filepath.Join(f.workDir, "job-1")) {
			t.Errorf("telemetry outside working directory: %s", c.TelemetryPath)
		}
	}
	if len(seeks) != 3 || !seeks[0] || !seeks[500] || !seeks[1000] {
		t.Errorf("seek offsets = %v", seeks)
	}
	f.assertWorkDirGone(t)
}

func TestOrchestrator_Run_BatchesInOrder(t *testing.T) {
	f := newFixture(t)
	f.invoker.delay = 5 * time.Millisecond

	result := f.orch.Run(context.Background(), f.request(timestampsConfig(3, 0, 100, 200, 300, 400, 500, 600, 700)))
	if _, ok := result.(extraction.Success); !ok {
		t.Fatalf("expected Success, got %#v", result)
	}

	last := -1
	for _, name := range f.invoker.outputs() {
		index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "frame_"), ".jpg"))
		if err != nil {
			t.Fatalf("unexpected output name %s", name)
		}
		batch := index / 3
		if batch < last {
			t.Fatalf("batch %d started after batch %d: %v", batch, last, f.invoker.outputs())
		}
		last = batch
	}
}

func TestOrchestrator_Run_RejectsBeforeIO(t *testing.T) {
	invalid := extraction.Default()
	invalid.JPEGQuality = 0

	tests := []struct {
		name      string
		mutate    func(*Request)
		available uint64
		check     func(t *testing.T, r extraction.Result)
	}{
		{
			name:   "invalid config",
			mutate: func(r *Request) { r.Config = invalid },
			check: func(t *testing.T, r extraction.Result) {
				e, ok := r.(extraction.Error)
				if !ok || e.Kind != extraction.ErrorConfig || e.HasFailedIndex() {
					t.Errorf("expected config Error, got %#v", r)
				}
			},
		},
		{
			name:   "unknown kind",
			mutate: func(r *Request) { r.Kind = "subtitles" },
			check: func(t *testing.T, r extraction.Result) {
				if e, ok := r.(extraction.Error); !ok || e.Kind != extraction.ErrorConfig {
					t.Errorf("expected config Error, got %#v", r)
				}
			},
		},
		{
			name:   "zero duration",
			mutate: func(r *Request) { r.Source.DurationMs = 0 },
			check: func(t *testing.T, r extraction.Result) {
				e, ok := r.(extraction.Error)
				if !ok || e.Message != "invalid source duration" || e.Kind != extraction.ErrorPrecondition {
					t.Errorf("expected invalid duration Error, got %#v", r)
				}
			},
		},
		{
			name:      "insufficient storage",
			mutate:    func(r *Request) {},
			available: 1024,
			check: func(t *testing.T, r extraction.Result) {
				s, ok := r.(extraction.InsufficientStorage)
				if !ok {
					t.Fatalf("expected InsufficientStorage, got %#v", r)
				}
				if s.AvailableBytes != 1024 || s.RequiredBytes <= s.AvailableBytes {
					t.Errorf("unexpected numbers %+v", s)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.available > 0 {
				f.prober.available = tt.available
			}
			req := f.request(timestampsConfig(2, 0, 500))
			tt.mutate(&req)

			result := f.orch.Run(context.Background(), req)
			tt.check(t, result)

			if calls := atomic.LoadInt32(&f.stager.calls); calls != 0 {
				t.Errorf("stager called %d time(s)", calls)
			}
			if len(f.invoker.commands) != 0 {
				t.Error("engine invoked")
			}
		})
	}
}

func TestOrchestrator_Run_StagingFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, r extraction.Result)
	}{
		{
			name: "missing source",
			err:  fmt.Errorf("%w: /videos/clip.mp4", extraction.ErrSourceNotFound),
			check: func(t *testing.T, r extraction.Result) {
				if s, ok := r.(extraction.SourceNotFound); !ok || s.Path != "/videos/clip.mp4" {
					t.Errorf("expected SourceNotFound, got %#v", r)
				}
			},
		},
		{
			name: "copy timeout",
			err:  errors.New("staging timed out after 30s"),
			check: func(t *testing.T, r extraction.Result) {
				if !extraction.Retryable(r) {
					t.Errorf("expected transient Error, got %#v", r)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.stager.shouldFail = true
			f.stager.failError = tt.err

			tt.check(t, f.orch.Run(context.Background(), f.request(timestampsConfig(2, 0))))
			f.assertWorkDirGone(t)
		})
	}
}

func TestOrchestrator_Run_NoExtractableStreams(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{name: "timestamps outside duration", mutate: func(r *Request) { r.Config = timestampsConfig(2, 5000, 9000) }},
		{name: "audio job without audio", mutate: func(r *Request) {
			r.Kind = extraction.KindAudio
			r.Source.Streams = []extraction.Stream{{Type: extraction.StreamVideo}}
		}},
		{name: "frame job without video", mutate: func(r *Request) {
			r.Source.Streams = []extraction.Stream{{Type: extraction.StreamAudio}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request(timestampsConfig(2, 0))
			tt.mutate(&req)

			result := f.orch.Run(context.Background(), req)
			if _, ok := result.(extraction.NoExtractableStreams); !ok {
				t.Fatalf("expected NoExtractableStreams, got %#v", result)
			}
			f.assertWorkDirGone(t)
		})
	}
}

func TestOrchestrator_Run_TaskFailure(t *testing.T) {
	tests := []struct {
		name      string
		cleanup   bool
		wantFiles []string
	}{
		{name: "cleanup removes partial output", cleanup: true},
		{name: "partial output kept", cleanup: false, wantFiles: []string{"frame_000000.jpg", "frame_000001.jpg", "frame_000002.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.invoker.failOn = map[string]bool{"frame_000003.jpg": true}
			cfg := timestampsConfig(2, 0, 100, 200, 300, 400, 500)
			cfg.CleanupOnError = tt.cleanup

			result := f.orch.Run(context.Background(), f.request(cfg))

			e, ok := result.(extraction.Error)
			if !ok {
				t.Fatalf("expected Error, got %#v", result)
			}
			if e.FailedIndex != 3 || e.Kind != extraction.ErrorTransient {
				t.Errorf("error = %+v", e)
			}
			if !strings.Contains(e.Message, "Conversion failed!") {
				t.Errorf("diagnostic missing from %q", e.Message)
			}

			for _, name := range f.invoker.outputs() {
				if name == "frame_000004.jpg" || name == "frame_000005.jpg" {
					t.Errorf("batch after failure was started (%s)", name)
				}
			}

			got := listFiles(t, filepath.Join(f.outDir, "full"))
			if strings.Join(got, ",") != strings.Join(tt.wantFiles, ",") {
				t.Errorf("output files = %v, want %v", got, tt.wantFiles)
			}
			f.assertWorkDirGone(t)
		})
	}
}

func TestOrchestrator_Run_LowestFailedIndex(t *testing.T) {
	f := newFixture(t)
	f.invoker.failOn = map[string]bool{"frame_000002.jpg": true, "frame_000001.jpg": true}

	result := f.orch.Run(context.Background(), f.request(timestampsConfig(4, 0, 100, 200, 300)))
	if e, ok := result.(extraction.Error); !ok || e.FailedIndex != 1 {
		t.Fatalf("expected failure at index 1, got %#v", result)
	}
}

func TestOrchestrator_Run_MissingOutput(t *testing.T) {
	f := newFixture(t)
	f.invoker.skipOutput = true

	result := f.orch.Run(context.Background(), f.request(timestampsConfig(1, 0)))
	e, ok := result.(extraction.Error)
	if !ok || e.FailedIndex != 0 || !strings.Contains(e.Message, "no output") {
		t.Fatalf("expected missing output error, got %#v", result)
	}
}

func TestOrchestrator_Run_VerifiesFrames(t *testing.T) {
	f := newFixture(t)
	f.verifier = &mockVerifier{reject: "frame_000001.jpg"}
	f.build()

	result := f.orch.Run(context.Background(), f.request(timestampsConfig(2, 0, 100)))
	e, ok := result.(extraction.Error)
	if !ok || e.FailedIndex != 1 || !strings.Contains(e.Message, "verification") {
		t.Fatalf("expected verification failure, got %#v", result)
	}
}

func TestOrchestrator_Run_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	req := f.request(timestampsConfig(2, 0, 100, 200))
	req.Cancel = &extraction.CancelFlag{}
	req.Cancel.Cancel()

	result := f.orch.Run(context.Background(), req)

	c, ok := result.(extraction.Cancelled)
	if !ok {
		t.Fatalf("expected Cancelled, got %#v", result)
	}
	if c.Completed != 0 {
		t.Errorf("Completed = %d, want 0", c.Completed)
	}
	if len(f.invoker.commands) != 0 {
		t.Error("engine invoked after cancellation")
	}
	if _, err := os.Stat(f.outDir); !os.IsNotExist(err) {
		t.Error("output directory created by a cancelled job was left behind")
	}
	f.assertWorkDirGone(t)
}

func TestOrchestrator_Run_CancelledMidJob(t *testing.T) {
	f := newFixture(t)
	flag := &extraction.CancelFlag{}
	f.invoker.onInvoke = func(cmd extraction.Command) {
		if filepath.Base(cmd.OutputPath) == "frame_000002.jpg" {
			flag.Cancel()
		}
	}
	req := f.request(timestampsConfig(2, 0, 100, 200, 300, 400, 500))
	req.Cancel = flag

	result := f.orch.Run(context.Background(), req)

	c, ok := result.(extraction.Cancelled)
	if !ok {
		t.Fatalf("expected Cancelled, got %#v", result)
	}
	if c.Completed > 4 {
		t.Errorf("Completed = %d", c.Completed)
	}
	for _, name := range f.invoker.outputs() {
		if name == "frame_000004.jpg" || name == "frame_000005.jpg" {
			t.Errorf("batch started after cancellation (%s)", name)
		}
	}
	if files := listFiles(t, filepath.Join(f.outDir, "full")); len(files) != 0 {
		t.Errorf("partial output left behind: %v", files)
	}
	f.assertWorkDirGone(t)
}

func TestOrchestrator_Run_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.invoker.onInvoke = func(extraction.Command) { cancel() }

	result := f.orch.Run(ctx, f.request(timestampsConfig(1, 0, 100)))
	if _, ok := result.(extraction.Cancelled); !ok {
		t.Fatalf("expected Cancelled, got %#v", result)
	}
}

func TestOrchestrator_Run_AudioTracks(t *testing.T) {
	f := newFixture(t)
	req := f.request(extraction.Default())
	req.Kind = extraction.KindAudio
	req.Config.AudioFormat = extraction.AudioFormatWAV
	req.Source.Streams = []extraction.Stream{
		{Index: 0, Type: extraction.StreamVideo, Codec: "h264"},
		{Index: 1, Type: extraction.StreamAudio, Codec: "aac", SampleRate: 48000, Channels: 2},
		{Index: 2, Type: extraction.StreamAudio, Codec: "ac3", SampleRate: 44100, Channels: 6},
	}

	result := f.orch.Run(context.Background(), req)

	success, ok := result.(extraction.Success)
	if !ok {
		t.Fatalf("expected Success, got %#v", result)
	}
	if success.OutputDirectory != filepath.Join(f.outDir, "audio") {
		t.Errorf("OutputDirectory = %s", success.OutputDirectory)
	}
	if len(success.AudioTracks) != 2 {
		t.Fatalf("AudioTracks = %+v", success.AudioTracks)
	}
	second := success.AudioTracks[1]
	if second.Codec != "ac3" || second.Channels != 6 || filepath.Base(second.Path) != "audio_track_1.wav" {
		t.Errorf("second track = %+v", second)
	}
	for _, c := range f.invoker.commands {
		if c.AudioFormat != "wav" || c.AudioBitrate != "192k" {
			t.Errorf("unexpected audio command %+v", c)
		}
	}
}

func TestOrchestrator_Run_Progress(t *testing.T) {
	f := newFixture(t)
	f.invoker.telemetry = []string{"out_time_us=0", "out_time_us=40000", "progress=end"}

	var (
		mu     sync.Mutex
		events []extraction.Progress
	)
	req := f.request(timestampsConfig(2, 0, 500, 1000, 1500))
	req.Config.ProgressUpdateInterval = 2
	req.OnProgress = func(p extraction.Progress) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, p)
	}

	result := f.orch.Run(context.Background(), req)
	if _, ok := result.(extraction.Success); !ok {
		t.Fatalf("expected Success, got %#v", result)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	for _, e := range events {
		if e.Percentage < 0 || e.Percentage > 1 || e.Total != 4 {
			t.Errorf("bad event %+v", e)
		}
	}
	final := events[len(events)-1]
	if final.Current != 4 || final.Percentage != 1 || final.TimestampMs != 2000 {
		t.Errorf("final event = %+v", final)
	}
}

func TestOrchestrator_Run_ProgressGatedAcrossTasks(t *testing.T) {
	const (
		tasks    = 20
		interval = 100 * time.Millisecond
	)
	f := newFixture(t)
	f.invoker.telemetry = []string{"out_time_us=10000", "out_time_us=20000", "out_time_us=30000", "progress=end"}
	f.invoker.delay = 150 * time.Millisecond
	monitor := progress.NewMonitor(osTelemetry{},
		progress.WithInterval(interval),
		progress.WithWaitTimeout(time.Second))
	f.orch = NewOrchestrator(f.invoker, f.stager, f.prober, monitor, WithWorkDir(f.workDir))

	ts := make([]int64, tasks)
	for i := range ts {
		ts[i] = int64(i) * 50
	}
	req := f.request(timestampsConfig(tasks, ts...))
	req.Config.ProgressUpdateInterval = tasks

	var (
		mu     sync.Mutex
		events []extraction.Progress
	)
	req.OnProgress = func(p extraction.Progress) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, p)
	}

	start := time.Now()
	result := f.orch.Run(context.Background(), req)
	took := time.Since(start)
	if _, ok := result.(extraction.Success); !ok {
		t.Fatalf("expected Success, got %#v", result)
	}

	mu.Lock()
	defer mu.Unlock()
	// one telemetry event per elapsed interval, plus the completion event
	limit := int(took/interval) + 2
	if len(events) > limit {
		t.Errorf("got %d events in %v, want at most %d", len(events), took, limit)
	}
	if last := events[len(events)-1]; last.Current != tasks {
		t.Errorf("final event = %+v", last)
	}
}
