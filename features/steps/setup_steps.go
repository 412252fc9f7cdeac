//go:build integration

package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vidextract/cmd"
	"vidextract/infrastructure/config"

	"github.com/cucumber/godog"
)

type setupContext struct {
	tempDir         string
	configPath      string
	originalContent string
	output          *bytes.Buffer
	err             error
}

var SharedSetupContext = &setupContext{}

// MockPrompter implements cmd.Prompter for testing. It answers any prompt
// whose message contains one of its keys and falls back to the default.
type MockPrompter struct {
	answers map[string]string
	asked   []string
}

func NewMockPrompter(answers map[string]string) *MockPrompter {
	return &MockPrompter{answers: answers}
}

func (m *MockPrompter) answer(message string) (string, bool) {
	m.asked = append(m.asked, message)
	lower := strings.ToLower(message)
	for key, value := range m.answers {
		if strings.Contains(lower, key) {
			return value, true
		}
	}
	return "", false
}

func (m *MockPrompter) Input(message string, defaultValue string) (string, error) {
	if v, ok := m.answer(message); ok {
		return v, nil
	}
	return defaultValue, nil
}

func (m *MockPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	if v, ok := m.answer(message); ok {
		return strings.EqualFold(v, "y"), nil
	}
	return defaultValue, nil
}

func (m *MockPrompter) Select(message string, options []string, defaultValue string) (string, error) {
	v, ok := m.answer(message)
	if !ok {
		return defaultValue, nil
	}
	for _, o := range options {
		if o == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("%q is not one of %v", v, options)
}

func InitializeSetupScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedSetupContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "setup-test-*")
		if err != nil {
			return c, err
		}
		testCtx.tempDir = tempDir
		testCtx.configPath = filepath.Join(tempDir, "config", "config.yaml")
		testCtx.originalContent = ""
		testCtx.output = &bytes.Buffer{}
		testCtx.err = nil
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if testCtx.tempDir != "" {
			os.RemoveAll(testCtx.tempDir)
		}
		return c, nil
	})

	ctx.Step(`^no config file exists for setup$`, testCtx.noConfigFileExistsForSetup)
	ctx.Step(`^a config file already exists for setup$`, testCtx.aConfigFileAlreadyExistsForSetup)
	ctx.Step(`^I run the setup command with answers:$`, testCtx.iRunTheSetupCommandWithAnswers)
	ctx.Step(`^the setup command should succeed$`, testCtx.theSetupCommandShouldSucceed)
	ctx.Step(`^the setup command should fail with "([^"]*)"$`, testCtx.theSetupCommandShouldFailWith)
	ctx.Step(`^the setup should be cancelled$`, testCtx.theSetupShouldBeCancelled)
	ctx.Step(`^the existing config should be unchanged$`, testCtx.theExistingConfigShouldBeUnchanged)
	ctx.Step(`^the setup config should have output_dir "([^"]*)"$`, testCtx.theSetupConfigShouldHaveOutputDir)
	ctx.Step(`^the setup config should have ffmpeg_path "([^"]*)"$`, testCtx.theSetupConfigShouldHaveFFmpegPath)
	ctx.Step(`^the setup config should keep the last (\d+) extractions$`, testCtx.theSetupConfigShouldKeepTheLastExtractions)
	ctx.Step(`^the setup config should default to sampling every (\d+) ms$`, testCtx.theSetupConfigShouldDefaultToSamplingEvery)
	ctx.Step(`^the setup config should have output_folder_id "([^"]*)"$`, testCtx.theSetupConfigShouldHaveOutputFolderID)
}

func (s *setupContext) noConfigFileExistsForSetup() error {
	return os.MkdirAll(filepath.Dir(s.configPath), 0755)
}

func (s *setupContext) aConfigFileAlreadyExistsForSetup() error {
	if err := os.MkdirAll(filepath.Dir(s.configPath), 0755); err != nil {
		return err
	}
	content := `paths:
  output_dir: "/original/extractions"
retention:
  keep_last: 9
`
	s.originalContent = content
	return os.WriteFile(s.configPath, []byte(content), 0644)
}

func (s *setupContext) iRunTheSetupCommandWithAnswers(table *godog.Table) error {
	answers := make(map[string]string)
	for i, row := range table.Rows {
		if i == 0 {
			continue // header
		}
		answers[strings.ToLower(row.Cells[0].Value)] = row.Cells[1].Value
	}
	s.output.Reset()
	s.err = cmd.RunSetupWithPrompter(NewMockPrompter(answers), s.configPath, s.output)
	return nil
}

func (s *setupContext) theSetupCommandShouldSucceed() error {
	if s.err != nil {
		return fmt.Errorf("setup command failed: %w", s.err)
	}
	if _, err := os.Stat(s.configPath); err != nil {
		return fmt.Errorf("config file was not written: %w", err)
	}
	return nil
}

func (s *setupContext) theSetupCommandShouldFailWith(msg string) error {
	if s.err == nil {
		return fmt.Errorf("expected error containing %q, got none", msg)
	}
	if !strings.Contains(s.err.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, s.err.Error())
	}
	return nil
}

func (s *setupContext) theSetupShouldBeCancelled() error {
	if s.err != nil {
		return fmt.Errorf("expected a clean cancel, got %v", s.err)
	}
	if !strings.Contains(s.output.String(), "Setup cancelled.") {
		return fmt.Errorf("expected cancel message, got:\n%s", s.output.String())
	}
	return nil
}

func (s *setupContext) theExistingConfigShouldBeUnchanged() error {
	data, err := os.ReadFile(s.configPath)
	if err != nil {
		return err
	}
	if string(data) != s.originalContent {
		return fmt.Errorf("config was modified:\n%s", data)
	}
	return nil
}

func (s *setupContext) load() (*config.Config, error) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (s *setupContext) theSetupConfigShouldHaveOutputDir(expected string) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	if cfg.Paths.OutputDir != expected {
		return fmt.Errorf("expected output_dir %q, got %q", expected, cfg.Paths.OutputDir)
	}
	return nil
}

func (s *setupContext) theSetupConfigShouldHaveFFmpegPath(expected string) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	if cfg.FFmpeg.FFmpegPath != expected {
		return fmt.Errorf("expected ffmpeg_path %q, got %q", expected, cfg.FFmpeg.FFmpegPath)
	}
	return nil
}

func (s *setupContext) theSetupConfigShouldKeepTheLastExtractions(n int) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	if cfg.Retention.KeepLast != n {
		return fmt.Errorf("expected keep_last %d, got %d", n, cfg.Retention.KeepLast)
	}
	return nil
}

func (s *setupContext) theSetupConfigShouldDefaultToSamplingEvery(interval int) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	if cfg.Extraction.ExtractAllFrames || cfg.Extraction.FrameIntervalMs != int64(interval) {
		return fmt.Errorf("expected sampling every %dms, got all=%v interval=%d",
			interval, cfg.Extraction.ExtractAllFrames, cfg.Extraction.FrameIntervalMs)
	}
	return nil
}

func (s *setupContext) theSetupConfigShouldHaveOutputFolderID(expected string) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	if cfg.Google.OutputFolderID != expected {
		return fmt.Errorf("expected output_folder_id %q, got %q", expected, cfg.Google.OutputFolderID)
	}
	return nil
}
