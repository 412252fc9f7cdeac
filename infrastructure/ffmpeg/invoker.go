package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"vidextract/domain/extraction"
)

// DefaultVerifyTimeout bounds the ffmpeg -version check
const DefaultVerifyTimeout = 5 * time.Second

// statsPeriod is how often ffmpeg rewrites its -progress output
const statsPeriod = "0.1"

// Invoker implements extraction.TranscodeInvoker using ffmpeg
type Invoker struct {
	ffmpegPath string
	runner     CommandRunner
}

// Option is a functional option for configuring Invoker
type Option func(*Invoker)

// WithFFmpegPath sets a custom ffmpeg executable path
func WithFFmpegPath(path string) Option {
	return func(i *Invoker) {
		if path != "" {
			i.ffmpegPath = path
		}
	}
}

// WithCommandRunner sets a custom command runner (for testing)
func WithCommandRunner(runner CommandRunner) Option {
	return func(i *Invoker) {
		i.runner = runner
	}
}

// NewInvoker creates a new FFmpeg-based invoker
func NewInvoker(opts ...Option) *Invoker {
	i := &Invoker{
		ffmpegPath: "ffmpeg",
		runner:     &ExecCommandRunner{},
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Invoke implements extraction.TranscodeInvoker
func (i *Invoker) Invoke(ctx context.Context, cmd extraction.Command) extraction.InvokeOutcome {
	args, err := BuildArgs(cmd)
	if err != nil {
		return extraction.InvokeOutcome{Err: err}
	}

	err = i.runner.Run(ctx, i.ffmpegPath, args...)
	if err == nil {
		return extraction.InvokeOutcome{}
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return extraction.InvokeOutcome{
			ExitCode:   exitErr.Code,
			Diagnostic: lastLines(exitErr.Stderr, 3),
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return extraction.InvokeOutcome{Err: fmt.Errorf("ffmpeg interrupted: %w", ctxErr)}
	}
	return extraction.InvokeOutcome{Err: fmt.Errorf("ffmpeg failed to start: %w", err)}
}

// VerifyInstalled checks that ffmpeg is available
func (i *Invoker) VerifyInstalled(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultVerifyTimeout)
	defer cancel()

	_, err := i.runner.Output(ctx, i.ffmpegPath, "-version")
	if err != nil {
		return fmt.Errorf("ffmpeg not found or not executable: %w", err)
	}
	return nil
}

// BuildArgs turns a command into ffmpeg flags
func BuildArgs(cmd extraction.Command) ([]string, error) {
	if cmd.InputPath == "" || cmd.OutputPath == "" {
		return nil, errors.New("input and output paths are required")
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}

	switch cmd.Kind {
	case extraction.KindFrames:
		// Input seeking: -ss before -i
		args = append(args, "-ss", formatSeconds(cmd.SeekMs), "-i", cmd.InputPath, "-frames:v", "1")
		if vf := scaleFilter(cmd); vf != "" {
			args = append(args, "-vf", vf)
		}
		if cmd.QScale > 0 {
			args = append(args, "-q:v", strconv.Itoa(cmd.QScale))
		}

	case extraction.KindAudio:
		args = append(args, "-i", cmd.InputPath, "-map", "0:a:"+strconv.Itoa(cmd.StreamIndex), "-vn")
		switch cmd.AudioFormat {
		case extraction.AudioFormatWAV:
			args = append(args, "-c:a", "pcm_s16le")
		case extraction.AudioFormatMP3, "":
			args = append(args, "-c:a", "libmp3lame")
			if cmd.AudioBitrate != "" {
				args = append(args, "-b:a", cmd.AudioBitrate)
			}
		default:
			return nil, fmt.Errorf("unsupported audio format %q", cmd.AudioFormat)
		}

	default:
		return nil, fmt.Errorf("unsupported command kind %q", cmd.Kind)
	}

	if cmd.TelemetryPath != "" {
		args = append(args, "-progress", cmd.TelemetryPath, "-stats_period", statsPeriod)
	}
	return append(args, cmd.OutputPath), nil
}

func scaleFilter(cmd extraction.Command) string {
	if cmd.ScaleWidth > 0 && cmd.ScaleHeight > 0 {
		return fmt.Sprintf("scale=%d:%d", cmd.ScaleWidth, cmd.ScaleHeight)
	}
	if cmd.MaxDimension > 0 {
		// Never upscale when the source size was unknown
		return fmt.Sprintf("scale=w='min(iw,%d)':h='min(ih,%d)':force_original_aspect_ratio=decrease", cmd.MaxDimension, cmd.MaxDimension)
	}
	return ""
}

func formatSeconds(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

// FileTelemetry implements extraction.TelemetryReader over the local filesystem
type FileTelemetry struct{}

// Open opens the progress file ffmpeg writes
func (FileTelemetry) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Ensure Invoker implements extraction.TranscodeInvoker
var _ extraction.TranscodeInvoker = (*Invoker)(nil)

var _ extraction.TelemetryReader = FileTelemetry{}
