package extraction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vidextract/application/progress"
	"vidextract/domain/extraction"
	"vidextract/domain/storage"

	"github.com/google/uuid"
)

const (
	DefaultFrameEstimateBytes      uint64 = 100 * 1024
	DefaultAudioTrackEstimateBytes uint64 = 1000 * 1024
)

// Request is one extraction job
type Request struct {
	// JobID names the working directory. A random id is used when empty.
	JobID      string
	Kind       extraction.Kind
	SourcePath string
	Source     extraction.SourceDescriptor
	Config     extraction.Config
	OutputDir  string

	// Cancel is checked between batches and before every task
	Cancel *extraction.CancelFlag

	// OnProgress receives advisory progress. Calls are serialized.
	OnProgress func(extraction.Progress)
}

// Orchestrator turns a Request into exactly one terminal Result
type Orchestrator struct {
	invoker       extraction.TranscodeInvoker
	stager        extraction.SourceStager
	prober        storage.SpaceProber
	monitor       *progress.Monitor
	verifier      extraction.FrameVerifier
	workDir       string
	margin        uint64
	frameEstimate uint64
	audioEstimate uint64
	logger        *slog.Logger
}

// Option is a functional option for configuring Orchestrator
type Option func(*Orchestrator)

// WithWorkDir sets the parent of per-job working directories
func WithWorkDir(dir string) Option {
	return func(o *Orchestrator) {
		o.workDir = dir
	}
}

// WithSafetyMargin sets the fixed byte margin of the storage check
func WithSafetyMargin(bytes uint64) Option {
	return func(o *Orchestrator) {
		o.margin = bytes
	}
}

// WithEstimates sets the expected size of one frame and one audio track
func WithEstimates(frameBytes, audioTrackBytes uint64) Option {
	return func(o *Orchestrator) {
		if frameBytes > 0 {
			o.frameEstimate = frameBytes
		}
		if audioTrackBytes > 0 {
			o.audioEstimate = audioTrackBytes
		}
	}
}

// WithVerifier checks every produced frame
func WithVerifier(v extraction.FrameVerifier) Option {
	return func(o *Orchestrator) {
		o.verifier = v
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an orchestrator over the given ports
func NewOrchestrator(invoker extraction.TranscodeInvoker, stager extraction.SourceStager, prober storage.SpaceProber, monitor *progress.Monitor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		invoker:       invoker,
		stager:        stager,
		prober:        prober,
		monitor:       monitor,
		workDir:       filepath.Join(os.TempDir(), "vidextract"),
		margin:        storage.DefaultSafetyMargin,
		frameEstimate: DefaultFrameEstimateBytes,
		audioEstimate: DefaultAudioTrackEstimateBytes,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the mutable state of one orchestration, discarded when it returns
type run struct {
	req         Request
	log         *slog.Logger
	jobDir      string
	staged      string
	outDir      string
	createdDirs []string
	tasks       []extraction.Task
	attempted   int
	completed   int
	paths       []string
	sub         *subscription
}

type taskResult struct {
	task    extraction.Task
	skipped bool
	err     error
}

// Run executes the request. It never panics past its boundary and never
// returns nil.
func (o *Orchestrator) Run(ctx context.Context, req Request) extraction.Result {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	r := &run{
		req: req,
		log: o.logger.With("job", req.JobID, "kind", string(req.Kind)),
		sub: &subscription{fn: req.OnProgress, now: time.Now},
	}
	if o.monitor != nil {
		r.sub.interval = o.monitor.Interval()
	}

	result := o.execute(ctx, r)
	o.finish(r, result)
	return result
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (result extraction.Result) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("extraction panicked", "panic", p)
			result = extraction.JobError(extraction.ErrorTransient, "internal error: %v", p)
		}
	}()

	req := r.req
	cfg := req.Config

	// 1. Configuration
	if err := cfg.Validate(); err != nil {
		return extraction.JobError(extraction.ErrorConfig, "%v", err)
	}
	if _, err := extraction.ParseKind(string(req.Kind)); err != nil {
		return extraction.JobError(extraction.ErrorConfig, "%v", err)
	}
	if req.OutputDir == "" {
		return extraction.JobError(extraction.ErrorConfig, "output directory is required")
	}
	if req.Source.DurationMs <= 0 {
		return extraction.JobError(extraction.ErrorPrecondition, "%v", extraction.ErrInvalidDuration)
	}

	var (
		timestamps []int64
		streams    []int
		err        error
	)
	if req.Kind == extraction.KindFrames {
		timestamps, err = cfg.ResolveFrameTimestamps(req.Source)
	} else {
		streams, err = cfg.ResolveAudioStreams(req.Source)
	}
	if err != nil {
		return extraction.JobError(extraction.ErrorPrecondition, "%v", err)
	}

	// 2. Storage
	count, avg := len(timestamps), o.frameEstimate
	if req.Kind == extraction.KindAudio {
		count, avg = len(streams), o.audioEstimate
	}
	decision := storage.NewGuard(o.prober, req.OutputDir, o.margin).Check(count, avg)
	if !decision.Approved {
		r.log.Warn("storage check refused job",
			"required", decision.Required, "available", decision.Available, "error", decision.Err)
		return extraction.InsufficientStorage{RequiredBytes: decision.Required, AvailableBytes: decision.Available}
	}

	// 3. Working copy
	r.jobDir = filepath.Join(o.workDir, req.JobID)
	r.staged = filepath.Join(r.jobDir, "source"+filepath.Ext(req.SourcePath))
	if err := o.stager.Stage(ctx, req.SourcePath, r.staged); err != nil {
		if errors.Is(err, extraction.ErrSourceNotFound) {
			return extraction.SourceNotFound{Path: req.SourcePath}
		}
		return extraction.JobError(extraction.ErrorTransient, "%v", err)
	}

	// 4. Tasks
	switch req.Kind {
	case extraction.KindFrames:
		if !req.Source.HasVideo() {
			return extraction.NoExtractableStreams{Reason: "source has no video stream"}
		}
		if len(timestamps) == 0 {
			return extraction.NoExtractableStreams{Reason: "no frame timestamps fall within the source duration"}
		}
		r.outDir = filepath.Join(req.OutputDir, cfg.QualityLevel.Subdirectory())
		r.tasks = extraction.PlanFrameTasks(timestamps, r.outDir)
	case extraction.KindAudio:
		if len(streams) == 0 {
			return extraction.NoExtractableStreams{Reason: "source has no audio streams"}
		}
		r.outDir = filepath.Join(req.OutputDir, extraction.AudioSubdirectory)
		r.tasks = extraction.PlanAudioTasks(streams, r.outDir, cfg.ResolvedAudioFormat())
	}
	if err := o.prepareOutput(r); err != nil {
		return extraction.JobError(extraction.ErrorTransient, "failed to create output directory: %v", err)
	}
	r.paths = make([]string, len(r.tasks))

	batches := extraction.Batches(r.tasks, cfg.BatchSize)
	r.log.Info("extraction started", "tasks", len(r.tasks), "batches", len(batches), "batch_size", cfg.BatchSize)

	// 5. Batches, strictly in order
	for _, batch := range batches {
		if o.cancelled(ctx, req) {
			return extraction.Cancelled{Completed: r.completed}
		}

		results := o.runBatch(ctx, r, batch)
		r.attempted += len(batch)

		var (
			failed    *taskResult
			cancelled bool
		)
		for i := range results {
			res := &results[i]
			switch {
			case res.skipped:
				cancelled = true
			case res.err != nil:
				if failed == nil || res.task.Index < failed.task.Index {
					failed = res
				}
			default:
				r.paths[res.task.Index] = res.task.OutputPath
				r.completed++
			}
		}

		// 6. Abort on the first failing batch
		if cancelled || (failed != nil && o.cancelled(ctx, req)) {
			return extraction.Cancelled{Completed: r.completed}
		}
		if failed != nil {
			r.log.Warn("task failed", "index", failed.task.Index, "error", failed.err)
			return extraction.TaskError(failed.task.Index, "%v", failed.err)
		}
		o.reportCompletion(r, len(batch))
	}

	// 7. Success
	success := extraction.Success{
		OutputDirectory: r.outDir,
		TotalCount:      len(r.paths),
		Paths:           r.paths,
	}
	if req.Kind == extraction.KindAudio {
		success.AudioTracks = audioTracks(req.Source, r.tasks)
	}
	return success
}

func (o *Orchestrator) runBatch(ctx context.Context, r *run, batch []extraction.Task) []taskResult {
	results := make([]taskResult, len(batch))
	var wg sync.WaitGroup
	for i, task := range batch {
		wg.Add(1)
		go func(i int, task extraction.Task) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					results[i] = taskResult{task: task, err: fmt.Errorf("task panicked: %v", p)}
				}
			}()
			results[i] = o.runTask(ctx, r, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runTask(ctx context.Context, r *run, task extraction.Task) taskResult {
	if o.cancelled(ctx, r.req) {
		return taskResult{task: task, skipped: true}
	}

	cfg := r.req.Config
	telemetry := filepath.Join(r.jobDir, fmt.Sprintf("progress_%d.txt", task.Index))
	cmd := extraction.Command{
		Kind:          task.Kind,
		InputPath:     r.staged,
		OutputPath:    task.OutputPath,
		TelemetryPath: telemetry,
	}
	window := progress.Window{TotalDurationMs: r.req.Source.DurationMs, TotalTasks: len(r.tasks)}

	if task.Kind == extraction.KindFrames {
		cmd.SeekMs = task.TimestampMs
		cmd.MaxDimension = cfg.MaxFrameDimension
		cmd.QScale = cfg.EngineQScale()
		if w, h, ok := r.req.Source.ScaledDimensions(cfg.MaxFrameDimension); ok {
			cmd.ScaleWidth, cmd.ScaleHeight = w, h
		}
		window.OffsetMs = task.TimestampMs
	} else {
		cmd.StreamIndex = task.StreamIndex
		cmd.AudioFormat = cfg.ResolvedAudioFormat()
		cmd.AudioBitrate = cfg.ResolvedAudioBitrate()
	}

	monitorDone := o.startMonitor(ctx, r, telemetry, window)
	start := time.Now()
	outcome := o.invoker.Invoke(ctx, cmd)
	monitorDone()

	if err := os.Remove(telemetry); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.log.Debug("failed to remove telemetry", "path", telemetry, "error", err)
	}

	if !outcome.Succeeded() {
		return taskResult{task: task, err: errors.New(outcome.Summary())}
	}
	if _, err := os.Stat(task.OutputPath); err != nil {
		return taskResult{task: task, err: fmt.Errorf("engine produced no output at %s", task.OutputPath)}
	}
	if task.Kind == extraction.KindFrames && o.verifier != nil {
		if err := o.verifier.Verify(task.OutputPath, cfg.MaxFrameDimension); err != nil {
			return taskResult{task: task, err: fmt.Errorf("frame verification failed: %w", err)}
		}
	}

	r.log.Debug("task finished", "index", task.Index, "took", time.Since(start))
	return taskResult{task: task}
}

// startMonitor follows the task's telemetry until the returned stop
// function is called or the job is cancelled
func (o *Orchestrator) startMonitor(ctx context.Context, r *run, path string, w progress.Window) (stop func()) {
	if o.monitor == nil {
		return func() {}
	}

	monCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-r.req.Cancel.Done():
			cancel()
		case <-monCtx.Done():
		}
	}()

	polled := make(chan struct{})
	go func() {
		defer close(polled)
		o.monitor.Poll(monCtx, path, w, r.sub.telemetry)
	}()

	return func() {
		cancel()
		<-polled
		<-done
	}
}

func (o *Orchestrator) cancelled(ctx context.Context, req Request) bool {
	return req.Cancel.Requested() || ctx.Err() != nil
}

// reportCompletion emits a task-completion event every
// ProgressUpdateInterval tasks and after the last one
func (o *Orchestrator) reportCompletion(r *run, batchLen int) {
	every := r.req.Config.ProgressUpdateInterval
	before := r.completed - batchLen
	total := len(r.tasks)
	if r.completed != total && before/every == r.completed/every {
		return
	}

	duration := r.req.Source.DurationMs
	var elapsed int64
	switch {
	case r.completed == total:
		elapsed = duration
	case r.req.Kind == extraction.KindFrames:
		elapsed = r.tasks[r.completed-1].TimestampMs
	default:
		elapsed = duration * int64(r.completed) / int64(total)
	}
	r.sub.emit(extraction.Progress{
		Current:     r.completed,
		Total:       total,
		Percentage:  progress.Percentage(elapsed, duration),
		TimestampMs: elapsed,
	})
}

func (o *Orchestrator) prepareOutput(r *run) error {
	for _, dir := range []string{r.req.OutputDir, r.outDir} {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			r.createdDirs = append(r.createdDirs, dir)
		}
	}
	return os.MkdirAll(r.outDir, 0o755)
}

// finish removes the working directory on every path, and partial output
// when the job did not succeed and CleanupOnError is set
func (o *Orchestrator) finish(r *run, result extraction.Result) {
	if r.jobDir != "" {
		if err := os.RemoveAll(r.jobDir); err != nil {
			r.log.Warn("failed to remove working directory", "path", r.jobDir, "error", err)
		}
	}

	switch result.(type) {
	case extraction.Success:
		r.log.Info("extraction finished", "items", r.completed, "output", r.outDir)
		return
	case extraction.Error, extraction.Cancelled:
	default:
		r.log.Info("extraction refused", "outcome", string(result.Outcome()), "detail", extraction.Describe(result))
		o.removeCreatedDirs(r)
		return
	}

	r.log.Info("extraction aborted", "outcome", string(result.Outcome()), "completed", r.completed)
	if !r.req.Config.CleanupOnError {
		return
	}
	for _, task := range r.tasks[:r.attempted] {
		if err := os.Remove(task.OutputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("failed to remove partial output", "path", task.OutputPath, "error", err)
		}
	}
	o.removeCreatedDirs(r)
}

// removeCreatedDirs removes directories this run created, if still empty
func (o *Orchestrator) removeCreatedDirs(r *run) {
	for i := len(r.createdDirs) - 1; i >= 0; i-- {
		os.Remove(r.createdDirs[i])
	}
}

func audioTracks(src extraction.SourceDescriptor, tasks []extraction.Task) []extraction.AudioTrack {
	streams := src.AudioStreams()
	out := make([]extraction.AudioTrack, 0, len(tasks))
	for _, task := range tasks {
		track := extraction.AudioTrack{Index: task.StreamIndex, Path: task.OutputPath}
		if task.StreamIndex < len(streams) {
			s := streams[task.StreamIndex]
			track.Codec = s.Codec
			track.SampleRate = s.SampleRate
			track.Channels = s.Channels
			track.BitRate = s.BitRate
		}
		out = append(out, track)
	}
	return out
}

// subscription serializes progress delivery to the caller. Telemetry
// from all monitors of a run shares one gate, so the caller sees at most
// one telemetry event per interval however many tasks run at once.
type subscription struct {
	mu       sync.Mutex
	fn       func(extraction.Progress)
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

// telemetry delivers a monitor event unless one went out less than an
// interval ago
func (s *subscription) telemetry(p extraction.Progress) {
	if s.fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		return
	}
	s.last = now
	s.fn(p)
}

// emit delivers a task-completion event, bypassing the gate
func (s *subscription) emit(p extraction.Progress) {
	if s.fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = s.now()
	s.fn(p)
}
