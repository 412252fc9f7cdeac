package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"vidextract/domain/extraction"
	"vidextract/infrastructure/ffmpeg"
)

// DefaultTimeout bounds one ffprobe call
const DefaultTimeout = 30 * time.Second

// Inspector implements extraction.MediaInspector using ffprobe
type Inspector struct {
	ffprobePath string
	runner      ffmpeg.CommandRunner
	timeout     time.Duration
}

// Option is a functional option for configuring Inspector
type Option func(*Inspector)

// WithFFprobePath sets a custom ffprobe executable path
func WithFFprobePath(path string) Option {
	return func(i *Inspector) {
		if path != "" {
			i.ffprobePath = path
		}
	}
}

// WithCommandRunner sets a custom command runner (for testing)
func WithCommandRunner(runner ffmpeg.CommandRunner) Option {
	return func(i *Inspector) {
		i.runner = runner
	}
}

// WithTimeout bounds each probe
func WithTimeout(d time.Duration) Option {
	return func(i *Inspector) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// NewInspector creates a new ffprobe-based inspector
func NewInspector(opts ...Option) *Inspector {
	i := &Inspector{
		ffprobePath: "ffprobe",
		runner:      &ffmpeg.ExecCommandRunner{},
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Probe implements extraction.MediaInspector
func (i *Inspector) Probe(ctx context.Context, path string) (extraction.SourceDescriptor, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return extraction.SourceDescriptor{}, fmt.Errorf("%w: %s", extraction.ErrSourceNotFound, path)
	}
	if err != nil {
		return extraction.SourceDescriptor{}, fmt.Errorf("failed to stat source: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	out, err := i.runner.Output(ctx, i.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	if err != nil {
		return extraction.SourceDescriptor{}, fmt.Errorf("ffprobe %q: %w", path, err)
	}

	src, err := ParseProbeJSON(out)
	if err != nil {
		return extraction.SourceDescriptor{}, err
	}
	if src.SizeBytes == 0 {
		src.SizeBytes = info.Size()
	}
	return src, nil
}

// VerifyInstalled checks that ffprobe is available
func (i *Inspector) VerifyInstalled(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ffmpeg.DefaultVerifyTimeout)
	defer cancel()

	if _, err := i.runner.Output(ctx, i.ffprobePath, "-version"); err != nil {
		return fmt.Errorf("ffprobe not found or not executable: %w", err)
	}
	return nil
}

// --- ffprobe JSON wire types ---

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

type probeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	BitRate      string            `json:"bit_rate"`
	Duration     string            `json:"duration"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	RFrameRate   string            `json:"r_frame_rate"`
	Channels     int               `json:"channels"`
	SampleRate   string            `json:"sample_rate"`
	Disposition  map[string]int    `json:"disposition"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// ParseProbeJSON converts raw ffprobe JSON into a SourceDescriptor.
// Exported for testing without a real ffprobe binary.
func ParseProbeJSON(data []byte) (extraction.SourceDescriptor, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return extraction.SourceDescriptor{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	src := extraction.SourceDescriptor{
		DurationMs: secondsToMs(raw.Format.Duration),
		BitRate:    parseInt64(raw.Format.BitRate),
		SizeBytes:  parseInt64(raw.Format.Size),
	}

	var primary *probeStream
	for idx := range raw.Streams {
		s := &raw.Streams[idx]
		stream := extraction.Stream{
			Index:    s.Index,
			Type:     streamType(s.CodecType),
			Codec:    s.CodecName,
			Channels: s.Channels,
			BitRate:  parseInt64(s.BitRate),
			Language: s.Tags["language"],
		}
		if stream.Type == extraction.StreamAudio {
			stream.SampleRate = int(parseInt64(s.SampleRate))
		}
		src.Streams = append(src.Streams, stream)

		if stream.Type == extraction.StreamVideo && s.Disposition["attached_pic"] != 1 && primary == nil {
			primary = s
		}
	}

	if primary != nil {
		src.Width = primary.Width
		src.Height = primary.Height
		src.Codec = primary.CodecName
		src.Rotation = rotation(primary)
		src.FrameRate = parseFrameRate(primary.AvgFrameRate)
		if src.FrameRate == 0 {
			src.FrameRate = parseFrameRate(primary.RFrameRate)
		}
		if src.DurationMs == 0 {
			src.DurationMs = secondsToMs(primary.Duration)
		}
	}
	return src, nil
}

func streamType(codecType string) extraction.StreamType {
	switch codecType {
	case "video":
		return extraction.StreamVideo
	case "audio":
		return extraction.StreamAudio
	case "subtitle":
		return extraction.StreamSubtitle
	}
	return extraction.StreamData
}

// parseFrameRate parses "n/d" or a plain number; 0 when unknown
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 || n <= 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return f
}

// rotation reads the rotate tag, then display matrix side data,
// normalized to 0, 90, 180 or 270
func rotation(s *probeStream) int {
	deg := 0.0
	if v, ok := s.Tags["rotate"]; ok {
		deg, _ = strconv.ParseFloat(v, 64)
	} else {
		for _, sd := range s.SideDataList {
			if sd.Rotation != 0 {
				deg = sd.Rotation
				break
			}
		}
	}
	r := int(math.Round(deg)) % 360
	if r < 0 {
		r += 360
	}
	return r
}

func secondsToMs(s string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) {
		return 0
	}
	return int64(math.Round(f * 1000))
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Ensure Inspector implements extraction.MediaInspector
var _ extraction.MediaInspector = (*Inspector)(nil)
