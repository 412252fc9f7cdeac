package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vidextract/domain/extraction"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the config file lives unless --config says otherwise
const DefaultPath = "config/config.yaml"

// Config represents the complete application configuration
type Config struct {
	Paths      PathsConfig                  `yaml:"paths"`
	FFmpeg     FFmpegConfig                 `yaml:"ffmpeg"`
	Extraction extraction.Config            `yaml:"extraction"`
	Storage    StorageConfig                `yaml:"storage"`
	Jobs       JobsConfig                   `yaml:"jobs"`
	Progress   ProgressConfig               `yaml:"progress"`
	Retention  RetentionConfig              `yaml:"retention"`
	Google     GoogleConfig                 `yaml:"google"`
	Presets    map[string]extraction.Config `yaml:"presets,omitempty"`
}

// PathsConfig contains the working, output and job store directories
type PathsConfig struct {
	WorkDir   string `yaml:"work_dir"`
	OutputDir string `yaml:"output_dir"`
	JobsDir   string `yaml:"jobs_dir"`
}

// FFmpegConfig locates the engine binaries and bounds their slow steps
type FFmpegConfig struct {
	FFmpegPath   string        `yaml:"ffmpeg_path"`
	FFprobePath  string        `yaml:"ffprobe_path"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// StorageConfig contains the free-space estimate settings
type StorageConfig struct {
	SafetyMarginMB       uint64 `yaml:"safety_margin_mb"`
	FrameEstimateKB      uint64 `yaml:"frame_estimate_kb"`
	AudioTrackEstimateKB uint64 `yaml:"audio_track_estimate_kb"`
}

// JobsConfig contains background job settings
type JobsConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	BackoffIncrement time.Duration `yaml:"backoff_increment"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	LeaseDuration    time.Duration `yaml:"lease_duration"`
}

// ProgressConfig contains telemetry polling settings
type ProgressConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	TelemetryWait time.Duration `yaml:"telemetry_wait"`
}

// RetentionConfig controls pruning of old extraction directories
type RetentionConfig struct {
	KeepLast int `yaml:"keep_last"`
}

// GoogleConfig contains Google API settings
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	OutputFolderID  string `yaml:"output_folder_id"`
}

// Defaults returns the configuration used when no file exists
func Defaults() *Config {
	return &Config{
		Paths: PathsConfig{
			WorkDir:   filepath.Join(os.TempDir(), "vidextract"),
			OutputDir: "extractions",
			JobsDir:   ".vidextract/jobs",
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
			ProbeTimeout: 30 * time.Second,
			StageTimeout: 30 * time.Second,
		},
		Extraction: extraction.Default(),
		Storage: StorageConfig{
			SafetyMarginMB:       100,
			FrameEstimateKB:      100,
			AudioTrackEstimateKB: 1000,
		},
		Jobs: JobsConfig{
			MaxRetries:       3,
			BackoffIncrement: 10 * time.Second,
			PollInterval:     250 * time.Millisecond,
			MaxConcurrent:    1,
			LeaseDuration:    30 * time.Second,
		},
		Progress: ProgressConfig{
			PollInterval:  100 * time.Millisecond,
			TelemetryWait: 5 * time.Second,
		},
		Retention: RetentionConfig{KeepLast: 5},
		Google: GoogleConfig{
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
		},
	}
}

// Load reads and parses the configuration from the specified YAML file.
// Keys missing from the file keep their defaults; a missing file yields
// Defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Extraction.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction defaults in config file: %w", err)
	}
	for name, p := range cfg.Presets {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid preset %q in config file: %w", name, err)
		}
	}

	return cfg, nil
}

// Save writes the configuration to the specified YAML file
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Environment variables that override file values
const (
	EnvWorkDir   = "VIDEXTRACT_WORK_DIR"
	EnvOutputDir = "VIDEXTRACT_OUTPUT_DIR"
	EnvJobsDir   = "VIDEXTRACT_JOBS_DIR"
	EnvFFmpeg    = "VIDEXTRACT_FFMPEG"
	EnvFFprobe   = "VIDEXTRACT_FFPROBE"
)

// ApplyEnv overrides paths from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key    string
		target *string
	}{
		{EnvWorkDir, &c.Paths.WorkDir},
		{EnvOutputDir, &c.Paths.OutputDir},
		{EnvJobsDir, &c.Paths.JobsDir},
		{EnvFFmpeg, &c.FFmpeg.FFmpegPath},
		{EnvFFprobe, &c.FFmpeg.FFprobePath},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.target = v
		}
	}
}

// SafetyMarginBytes returns the storage margin in bytes
func (s StorageConfig) SafetyMarginBytes() uint64 {
	return s.SafetyMarginMB << 20
}

// FrameEstimateBytes returns the per-frame estimate in bytes
func (s StorageConfig) FrameEstimateBytes() uint64 {
	return s.FrameEstimateKB << 10
}

// AudioTrackEstimateBytes returns the per-track estimate in bytes
func (s StorageConfig) AudioTrackEstimateBytes() uint64 {
	return s.AudioTrackEstimateKB << 10
}
