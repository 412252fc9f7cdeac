package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"vidextract/domain/extraction"
	"vidextract/infrastructure/config"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// Prompter interface for interactive prompts (allows mocking in tests)
type Prompter interface {
	Input(message string, defaultValue string) (string, error)
	Confirm(message string, defaultValue bool) (bool, error)
	Select(message string, options []string, defaultValue string) (string, error)
}

// SurveyPrompter implements Prompter using the survey library
type SurveyPrompter struct{}

func (p *SurveyPrompter) Input(message string, defaultValue string) (string, error) {
	result := ""
	prompt := &survey.Input{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (p *SurveyPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return false, err
	}
	return result, nil
}

func (p *SurveyPrompter) Select(message string, options []string, defaultValue string) (string, error) {
	result := ""
	prompt := &survey.Select{
		Message: message,
		Options: options,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return "", err
	}
	return result, nil
}

// DefaultPrompter is the prompter used in production
var DefaultPrompter Prompter = &SurveyPrompter{}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create configuration file interactively",
	Long: `Prompts for configuration values and creates config.yaml.

This command guides you through choosing output and working directories,
the ffmpeg binaries, the default extraction preset and, optionally, the
Google Drive folder used by 'vidextract publish'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath
		}
		return RunSetupWithPrompter(DefaultPrompter, path, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

// RunSetupWithPrompter runs the setup with a given prompter (for testing)
func RunSetupWithPrompter(prompter Prompter, configPath string, output io.Writer) error {
	if _, err := os.Stat(configPath); err == nil {
		overwrite, err := prompter.Confirm(configPath+" already exists. Overwrite?", false)
		if err != nil {
			return fmt.Errorf("prompt cancelled")
		}
		if !overwrite {
			fmt.Fprintln(output, "Setup cancelled.")
			return nil
		}
	}

	fmt.Fprintln(output, "Welcome to vidextract setup!")
	fmt.Fprintln(output)

	cfg := config.Defaults()

	if err := promptPaths(prompter, cfg); err != nil {
		return err
	}
	if err := promptEngine(prompter, cfg); err != nil {
		return err
	}
	if err := promptExtraction(prompter, cfg); err != nil {
		return err
	}
	if err := promptGoogle(prompter, cfg); err != nil {
		return err
	}

	if err := config.Save(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(output)
	fmt.Fprintf(output, "Configuration saved to %s\n", configPath)
	return nil
}

// ask prompts for a value, falling back to the default on empty input
func ask(prompter Prompter, message, defaultValue string) (string, error) {
	value, err := prompter.Input(message, defaultValue)
	if err != nil {
		return "", fmt.Errorf("prompt cancelled")
	}
	if value == "" {
		value = defaultValue
	}
	return value, nil
}

func promptPaths(prompter Prompter, cfg *config.Config) error {
	var err error
	if cfg.Paths.OutputDir, err = ask(prompter, "Where should extracted frames and audio go?", cfg.Paths.OutputDir); err != nil {
		return err
	}
	if cfg.Paths.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if cfg.Paths.WorkDir, err = ask(prompter, "Where should working copies of sources go?", cfg.Paths.WorkDir); err != nil {
		return err
	}
	if cfg.Paths.JobsDir, err = ask(prompter, "Where should background jobs be stored?", cfg.Paths.JobsDir); err != nil {
		return err
	}
	return nil
}

func promptEngine(prompter Prompter, cfg *config.Config) error {
	var err error
	if cfg.FFmpeg.FFmpegPath, err = ask(prompter, "Path to ffmpeg?", cfg.FFmpeg.FFmpegPath); err != nil {
		return err
	}
	if cfg.FFmpeg.FFprobePath, err = ask(prompter, "Path to ffprobe?", cfg.FFmpeg.FFprobePath); err != nil {
		return err
	}
	return nil
}

func promptExtraction(prompter Prompter, cfg *config.Config) error {
	name, err := prompter.Select("Default extraction preset?", extraction.PresetNames(), "balanced")
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	preset, err := extraction.Named(name)
	if err != nil {
		return err
	}
	cfg.Extraction = preset

	keep, err := ask(prompter, "How many extractions should 'prune' keep?", strconv.Itoa(cfg.Retention.KeepLast))
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(keep)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid keep count %q", keep)
	}
	cfg.Retention.KeepLast = n
	return nil
}

func promptGoogle(prompter Prompter, cfg *config.Config) error {
	enabled, err := prompter.Confirm("Publish results to Google Drive?", false)
	if err != nil {
		return fmt.Errorf("prompt cancelled")
	}
	if !enabled {
		return nil
	}

	if cfg.Google.CredentialsFile, err = ask(prompter, "Path to Google OAuth credentials file?", cfg.Google.CredentialsFile); err != nil {
		return err
	}
	folder, err := ask(prompter, "Google Drive folder ID for published extractions?", "")
	if err != nil {
		return err
	}
	if folder == "" {
		return fmt.Errorf("folder ID is required")
	}
	cfg.Google.OutputFolderID = folder
	return nil
}
