package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	appextract "vidextract/application/extraction"
	"vidextract/application/progress"
	"vidextract/domain/extraction"
	"vidextract/domain/storage"
	"vidextract/infrastructure/config"
	"vidextract/infrastructure/ffmpeg"
	"vidextract/infrastructure/ffprobe"
	"vidextract/infrastructure/filesystem"
	"vidextract/infrastructure/imaging"
)

// engineVerifyTimeout bounds the ffmpeg -version check before CLI work
const engineVerifyTimeout = 5 * time.Second

// Dependencies are the adapters extraction commands run against.
// Tests replace them with fakes.
type Dependencies struct {
	Invoker   extraction.TranscodeInvoker
	Inspector extraction.MediaInspector
	Stager    extraction.SourceStager
	Prober    storage.SpaceProber
	Telemetry extraction.TelemetryReader
	Verifier  extraction.FrameVerifier
	Logger    *slog.Logger
}

// ProductionDependencies wires ffmpeg, ffprobe and the local filesystem
func ProductionDependencies(cfg *config.Config, logger *slog.Logger) Dependencies {
	return Dependencies{
		Invoker: ffmpeg.NewInvoker(ffmpeg.WithFFmpegPath(cfg.FFmpeg.FFmpegPath)),
		Inspector: ffprobe.NewInspector(
			ffprobe.WithFFprobePath(cfg.FFmpeg.FFprobePath),
			ffprobe.WithTimeout(cfg.FFmpeg.ProbeTimeout),
		),
		Stager: filesystem.NewStager(
			filesystem.WithStageTimeout(cfg.FFmpeg.StageTimeout),
			filesystem.WithStagerLogger(logger),
		),
		Prober:    filesystem.NewSpaceProber(),
		Telemetry: ffmpeg.FileTelemetry{},
		Verifier:  imaging.NewVerifier(),
		Logger:    logger,
	}
}

// Orchestrator builds the job orchestrator from cfg
func (d Dependencies) Orchestrator(cfg *config.Config) *appextract.Orchestrator {
	monitor := progress.NewMonitor(d.Telemetry,
		progress.WithInterval(cfg.Progress.PollInterval),
		progress.WithWaitTimeout(cfg.Progress.TelemetryWait),
		progress.WithLogger(d.Logger),
	)

	opts := []appextract.Option{
		appextract.WithWorkDir(cfg.Paths.WorkDir),
		appextract.WithSafetyMargin(cfg.Storage.SafetyMarginBytes()),
		appextract.WithEstimates(cfg.Storage.FrameEstimateBytes(), cfg.Storage.AudioTrackEstimateBytes()),
		appextract.WithLogger(d.Logger),
	}
	if d.Verifier != nil {
		opts = append(opts, appextract.WithVerifier(d.Verifier))
	}
	return appextract.NewOrchestrator(d.Invoker, d.Stager, d.Prober, monitor, opts...)
}

// verifyEngine runs VerifyInstalled on adapters that support it
func verifyEngine(ctx context.Context, adapters ...any) error {
	for _, a := range adapters {
		verifiable, ok := a.(interface{ VerifyInstalled(context.Context) error })
		if !ok {
			continue
		}
		verifyCtx, cancel := context.WithTimeout(ctx, engineVerifyTimeout)
		err := verifiable.VerifyInstalled(verifyCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ffmpeg verification failed: %w", err)
		}
	}
	return nil
}

// ExtractionOptions are the command-line overrides of an extraction config.
// Zero values leave the preset's value alone.
type ExtractionOptions struct {
	Preset       string
	Quality      string
	JPEGQuality  int
	MaxDimension int
	IntervalMs   int64
	AllFrames    bool
	Timestamps   []int64
	BatchSize    int
	AudioFormat  string
	AudioBitrate string
	NoCleanup    bool
}

// ResolveExtractionConfig applies opts over the named preset, or the
// config file defaults when no preset is given
func ResolveExtractionConfig(cfg *config.Config, opts ExtractionOptions) (extraction.Config, error) {
	base := cfg.Extraction

	if opts.Quality != "" {
		level, err := extraction.ParseQualityLevel(strings.ToLower(opts.Quality))
		if err != nil {
			return extraction.Config{}, &ValidationError{Message: err.Error()}
		}
		if opts.Preset == "" {
			base = extraction.ForQuality(level)
		}
		base.QualityLevel = level
	}

	if opts.Preset != "" {
		preset, err := config.NewConfigManager(cfg, cfgFile).GetPreset(opts.Preset)
		if errors.Is(err, config.ErrPresetNotFound) {
			return extraction.Config{}, &ValidationError{
				Message:    fmt.Sprintf("preset %q not found", opts.Preset),
				Suggestion: config.SuggestAddPresetCommand(opts.Preset),
			}
		}
		if err != nil {
			return extraction.Config{}, err
		}
		level := base.QualityLevel
		base = preset.Config
		if opts.Quality != "" {
			base.QualityLevel = level
		}
	}

	if opts.JPEGQuality != 0 {
		base.JPEGQuality = opts.JPEGQuality
	}
	if opts.MaxDimension != 0 {
		base.MaxFrameDimension = opts.MaxDimension
	}
	if opts.IntervalMs != 0 {
		base.FrameIntervalMs = opts.IntervalMs
		base.ExtractAllFrames = false
	}
	if opts.AllFrames {
		base.ExtractAllFrames = true
	}
	if len(opts.Timestamps) > 0 {
		base.CustomTimestamps = append([]int64(nil), opts.Timestamps...)
	}
	if opts.BatchSize != 0 {
		base.BatchSize = opts.BatchSize
	}
	if opts.AudioFormat != "" {
		base.AudioFormat = strings.ToLower(opts.AudioFormat)
	}
	if opts.AudioBitrate != "" {
		base.AudioBitrate = opts.AudioBitrate
	}
	if opts.NoCleanup {
		base.CleanupOnError = false
	}

	base = base.WithDefaults()
	if err := base.Validate(); err != nil {
		return extraction.Config{}, &ValidationError{Message: err.Error()}
	}
	return base, nil
}
