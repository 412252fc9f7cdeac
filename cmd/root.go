package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"vidextract/infrastructure/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	verbose   bool
	cfg       *config.Config
	cfgErr    error
	logger    = slog.New(slog.DiscardHandler)
	envLoaded bool
)

var rootCmd = &cobra.Command{
	Use:   "vidextract",
	Short: "Extract frames and audio tracks from video files",
	Long: `vidextract turns video files into still frames and audio tracks using ffmpeg:

  - Extract every frame, one frame per interval, or frames at chosen timestamps
  - Extract each audio track as MP3 or WAV
  - Queue extractions as durable background jobs with retries
  - Prune old extractions and publish results to Google Drive

Example:
  vidextract extract-frames --source lecture.mp4 --preset every-5s`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log extraction details to stderr")
}

func initConfig() {
	if !envLoaded {
		// .env is optional
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
		}
		envLoaded = true
	}

	if cfgFile == "" {
		cfgFile = config.DefaultPath
	}

	cfg, cfgErr = config.Load(cfgFile)
	if cfgErr == nil {
		cfg.ApplyEnv(os.LookupEnv)
	}

	logger = newLogger(os.Stderr, verbose)
}

// newLogger logs warnings by default and everything with --verbose
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// GetConfig returns the loaded configuration or the reason it could not be loaded
func GetConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, fmt.Errorf("failed to load %s: %w", cfgFile, cfgErr)
	}
	if cfg == nil {
		return config.Defaults(), nil
	}
	return cfg, nil
}

// ValidationError is a user-facing error with an optional command that fixes it
type ValidationError struct {
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s\n\nTo fix this, run:\n  %s", e.Message, e.Suggestion)
	}
	return e.Message
}
