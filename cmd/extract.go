package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	appextract "vidextract/application/extraction"
	"vidextract/domain/extraction"
	"vidextract/infrastructure/config"
	"vidextract/infrastructure/filesystem"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ExtractInput contains the input parameters for the extract commands
type ExtractInput struct {
	Kind       extraction.Kind
	SourcePath string
	// OutputDir defaults to <output_dir>/<sanitized source name>
	OutputDir    string
	Options      ExtractionOptions
	ShowProgress bool
}

// extractFlags are shared by extract-frames, extract-audio and jobs enqueue
type extractFlags struct {
	source string
	output string
	opts   ExtractionOptions
}

func (f *extractFlags) register(cmd *cobra.Command, kind extraction.Kind) {
	cmd.Flags().StringVar(&f.source, "source", "", "Path to source video file (required)")
	cmd.Flags().StringVar(&f.output, "output", "", "Output directory (default <output_dir>/<source name>)")
	cmd.Flags().StringVar(&f.opts.Preset, "preset", "", "Named preset (see 'vidextract config list presets')")
	cmd.Flags().IntVar(&f.opts.BatchSize, "batch-size", 0, "Engine invocations run in parallel per batch")
	cmd.Flags().BoolVar(&f.opts.NoCleanup, "keep-partial", false, "Keep partial output when the job fails")
	cmd.MarkFlagRequired("source")

	if kind == extraction.KindFrames {
		cmd.Flags().StringVar(&f.opts.Quality, "quality", "", "Quality level: thumbnail, preview or full")
		cmd.Flags().IntVar(&f.opts.JPEGQuality, "jpeg-quality", 0, "JPEG quality 1-100")
		cmd.Flags().IntVar(&f.opts.MaxDimension, "max-dimension", 0, "Largest frame side in pixels")
		cmd.Flags().Int64Var(&f.opts.IntervalMs, "interval", 0, "Extract one frame every N milliseconds")
		cmd.Flags().BoolVar(&f.opts.AllFrames, "all-frames", false, "Extract every frame")
		cmd.Flags().Int64SliceVar(&f.opts.Timestamps, "timestamps", nil, "Extract frames at these millisecond offsets")
		return
	}
	cmd.Flags().StringVar(&f.opts.AudioFormat, "format", "", "Audio format: mp3 or wav")
	cmd.Flags().StringVar(&f.opts.AudioBitrate, "bitrate", "", "MP3 bitrate, e.g. 192k")
}

func (f *extractFlags) input(kind extraction.Kind) ExtractInput {
	return ExtractInput{
		Kind:         kind,
		SourcePath:   f.source,
		OutputDir:    f.output,
		Options:      f.opts,
		ShowProgress: true,
	}
}

// runExtractCommand wires production adapters and stops on Ctrl-C
func runExtractCommand(cmd *cobra.Command, input ExtractInput) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	_, err = RunExtractWithDependencies(ctx, cfg, ProductionDependencies(cfg, logger), input, cmd.OutOrStdout())
	return err
}

// defaultOutputDir places a source's artifacts under the configured output root
func defaultOutputDir(cfg *config.Config, source string) string {
	return filepath.Join(cfg.Paths.OutputDir, extraction.SanitizeName(source))
}

// RunExtractWithDependencies runs one foreground extraction with injected
// dependencies (for testing). Any result other than Success is returned
// as an error alongside the result.
func RunExtractWithDependencies(
	ctx context.Context,
	cfg *config.Config,
	deps Dependencies,
	input ExtractInput,
	output io.Writer,
) (extraction.Result, error) {
	extractCfg, err := ResolveExtractionConfig(cfg, input.Options)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(output, "[1/4] Checking %s...\n", input.SourcePath)
	if err := filesystem.NewChecker().CheckSource(input.SourcePath); err != nil {
		if errors.Is(err, extraction.ErrSourceNotFound) {
			return extraction.SourceNotFound{Path: input.SourcePath}, err
		}
		return nil, &ValidationError{Message: err.Error()}
	}
	if err := verifyEngine(ctx, deps.Invoker, deps.Inspector); err != nil {
		return nil, err
	}

	fmt.Fprintf(output, "[2/4] Probing source...\n")
	src, err := deps.Inspector.Probe(ctx, input.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe source: %w", err)
	}
	fmt.Fprintf(output, "      %s\n", describeSource(src))

	outputDir := input.OutputDir
	if outputDir == "" {
		outputDir = defaultOutputDir(cfg, input.SourcePath)
	}

	fmt.Fprintf(output, "[3/4] Extracting %s into %s...\n", input.Kind, outputDir)
	req := appextract.Request{
		JobID:      uuid.NewString(),
		Kind:       input.Kind,
		SourcePath: input.SourcePath,
		Source:     src,
		Config:     extractCfg,
		OutputDir:  outputDir,
		Cancel:     &extraction.CancelFlag{},
	}

	var bar *progressRenderer
	if input.ShowProgress {
		bar = newProgressRenderer(output, "      ")
		req.OnProgress = bar.Show
	}

	result := deps.Orchestrator(cfg).Run(ctx, req)

	_, ok := result.(extraction.Success)
	if bar != nil {
		bar.Finish(ok)
	}

	fmt.Fprintf(output, "[4/4] %s\n", extraction.Describe(result))
	if !ok {
		return result, fmt.Errorf("extraction %s", extraction.Describe(result))
	}
	return result, nil
}

func describeSource(src extraction.SourceDescriptor) string {
	w, h := src.DisplayDimensions()
	return fmt.Sprintf("%.1fs, %dx%d @ %.2f fps, %d audio stream(s)",
		float64(src.DurationMs)/1000, w, h, src.EffectiveFrameRate(), len(src.AudioStreams()))
}
