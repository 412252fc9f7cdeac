package extraction

import (
	"fmt"
	"regexp"
)

// QualityLevel selects the output tier of a frame extraction
type QualityLevel string

const (
	QualityThumbnail QualityLevel = "thumbnail"
	QualityPreview   QualityLevel = "preview"
	QualityFull      QualityLevel = "full"
)

// ParseQualityLevel parses a quality level name
func ParseQualityLevel(s string) (QualityLevel, error) {
	switch QualityLevel(s) {
	case QualityThumbnail, QualityPreview, QualityFull:
		return QualityLevel(s), nil
	}
	return "", fmt.Errorf("unknown quality level %q (expected thumbnail, preview or full)", s)
}

// Subdirectory returns the output folder name for the quality level
func (q QualityLevel) Subdirectory() string {
	if q == "" {
		return string(QualityFull)
	}
	return string(q)
}

// Audio output formats
const (
	AudioFormatMP3 = "mp3"
	AudioFormatWAV = "wav"
)

const (
	DefaultJPEGQuality            = 85
	DefaultMaxFrameDimension      = 1920
	DefaultFrameIntervalMs        = 1000
	DefaultBatchSize              = 50
	DefaultProgressUpdateInterval = 10
	DefaultAudioBitrate           = "192k"
)

var bitratePattern = regexp.MustCompile(`^\d+k$`)

// Config describes how a source is turned into frames or audio tracks.
// Values are treated as immutable once handed to a job.
type Config struct {
	QualityLevel           QualityLevel `yaml:"quality_level"`
	JPEGQuality            int          `yaml:"jpeg_quality"`
	MaxFrameDimension      int          `yaml:"max_frame_dimension"`
	ExtractAllFrames       bool         `yaml:"extract_all_frames"`
	FrameIntervalMs        int64        `yaml:"frame_interval_ms"`
	CustomTimestamps       []int64      `yaml:"custom_timestamps,omitempty"`
	BatchSize              int          `yaml:"batch_size"`
	CleanupOnError         bool         `yaml:"cleanup_on_error"`
	ProgressUpdateInterval int          `yaml:"progress_update_interval"`
	AudioFormat            string       `yaml:"audio_format"`
	AudioBitrate           string       `yaml:"audio_bitrate"`
}

// ValidationError reports the first field of a Config that is out of range
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Unwrap lets callers match ErrInvalidConfig with errors.Is
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks every numeric range and enum of the config
func (c Config) Validate() error {
	switch {
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return &ValidationError{Field: "jpeg_quality", Message: fmt.Sprintf("%d is not within 1-100", c.JPEGQuality)}
	case c.MaxFrameDimension <= 0:
		return &ValidationError{Field: "max_frame_dimension", Message: "must be greater than 0"}
	case c.FrameIntervalMs <= 0:
		return &ValidationError{Field: "frame_interval_ms", Message: "must be greater than 0"}
	case c.BatchSize <= 0:
		return &ValidationError{Field: "batch_size", Message: "must be greater than 0"}
	case c.ProgressUpdateInterval <= 0:
		return &ValidationError{Field: "progress_update_interval", Message: "must be greater than 0"}
	case c.CustomTimestamps != nil && len(c.CustomTimestamps) == 0:
		return &ValidationError{Field: "custom_timestamps", Message: "must list at least one timestamp"}
	}

	if c.QualityLevel != "" {
		if _, err := ParseQualityLevel(string(c.QualityLevel)); err != nil {
			return &ValidationError{Field: "quality_level", Message: err.Error()}
		}
	}
	switch c.AudioFormat {
	case "", AudioFormatMP3, AudioFormatWAV:
	default:
		return &ValidationError{Field: "audio_format", Message: fmt.Sprintf("%q is not mp3 or wav", c.AudioFormat)}
	}
	if c.AudioBitrate != "" && !bitratePattern.MatchString(c.AudioBitrate) {
		return &ValidationError{Field: "audio_bitrate", Message: fmt.Sprintf("%q must look like 192k", c.AudioBitrate)}
	}
	return nil
}

// Valid reports whether Validate accepts the config
func (c Config) Valid() bool {
	return c.Validate() == nil
}

// EngineQScale maps JPEG quality (1-100, higher is better) to the
// engine's qscale (1-31, lower is better)
func (c Config) EngineQScale() int {
	q := c.JPEGQuality
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return ((100-q)*30)/100 + 1
}

// ResolvedAudioFormat returns the audio container, defaulting to mp3
func (c Config) ResolvedAudioFormat() string {
	if c.AudioFormat == "" {
		return AudioFormatMP3
	}
	return c.AudioFormat
}

// ResolvedAudioBitrate returns the audio bitrate, defaulting to 192k
func (c Config) ResolvedAudioBitrate() string {
	if c.AudioBitrate == "" {
		return DefaultAudioBitrate
	}
	return c.AudioBitrate
}

// WithDefaults fills zero-valued fields from Default. Booleans are left alone.
func (c Config) WithDefaults() Config {
	d := Default()
	if c.QualityLevel == "" {
		c.QualityLevel = d.QualityLevel
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.MaxFrameDimension == 0 {
		c.MaxFrameDimension = d.MaxFrameDimension
	}
	if c.FrameIntervalMs == 0 {
		c.FrameIntervalMs = d.FrameIntervalMs
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ProgressUpdateInterval == 0 {
		c.ProgressUpdateInterval = d.ProgressUpdateInterval
	}
	if c.AudioFormat == "" {
		c.AudioFormat = d.AudioFormat
	}
	if c.AudioBitrate == "" {
		c.AudioBitrate = d.AudioBitrate
	}
	return c
}
