//go:build integration

package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vidextract/cmd"
	"vidextract/domain/extraction"
	"vidextract/infrastructure/config"

	"github.com/cucumber/godog"
)

type configPresetContext struct {
	tempDir    string
	configPath string
	config     *config.Config
	options    cmd.ExtractionOptions
	output     *bytes.Buffer
	err        error
}

var SharedConfigPresetContext = &configPresetContext{}

func InitializeConfigPresetScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedConfigPresetContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "config-preset-test-*")
		if err != nil {
			return c, err
		}
		testCtx.tempDir = tempDir
		testCtx.configPath = filepath.Join(tempDir, "config.yaml")
		testCtx.config = nil
		testCtx.options = cmd.ExtractionOptions{}
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

	ctx.Step(`^a config file with default settings$`, testCtx.aConfigFileWithDefaultSettings)
	ctx.Step(`^a custom preset "([^"]*)" sampling every (\d+) ms$`, testCtx.aCustomPresetSamplingEveryMs)
	ctx.Step(`^the preset is based on "([^"]*)"$`, testCtx.thePresetIsBasedOn)
	ctx.Step(`^the preset samples every (\d+) ms$`, testCtx.thePresetSamplesEveryMs)
	ctx.Step(`^the preset uses JPEG quality (\d+)$`, testCtx.thePresetUsesJPEGQuality)
	ctx.Step(`^I add the preset "([^"]*)"$`, testCtx.iAddThePreset)
	ctx.Step(`^I update the preset "([^"]*)"$`, testCtx.iUpdateThePreset)
	ctx.Step(`^I update the default settings$`, testCtx.iUpdateTheDefaultSettings)
	ctx.Step(`^I remove the preset "([^"]*)"$`, testCtx.iRemoveThePreset)
	ctx.Step(`^I list the presets$`, testCtx.iListThePresets)
	ctx.Step(`^the config command should succeed$`, testCtx.theConfigCommandShouldSucceed)
	ctx.Step(`^the config command should fail with "([^"]*)"$`, testCtx.theConfigCommandShouldFailWith)
	ctx.Step(`^the config output should contain "([^"]*)"$`, testCtx.theConfigOutputShouldContain)
	ctx.Step(`^the saved preset "([^"]*)" should sample every (\d+) ms at JPEG quality (\d+)$`, testCtx.theSavedPresetShouldSample)
	ctx.Step(`^the saved config should not contain preset "([^"]*)"$`, testCtx.theSavedConfigShouldNotContainPreset)
	ctx.Step(`^the saved default settings should sample every (\d+) ms$`, testCtx.theSavedDefaultSettingsShouldSampleEvery)
}

func (c *configPresetContext) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.config = cfg
	return nil
}

func (c *configPresetContext) aConfigFileWithDefaultSettings() error {
	c.config = config.Defaults()
	return config.Save(c.config, c.configPath)
}

func (c *configPresetContext) aCustomPresetSamplingEveryMs(name string, interval int) error {
	if err := c.load(); err != nil {
		return err
	}
	if c.config.Presets == nil {
		c.config.Presets = make(map[string]extraction.Config)
	}
	c.config.Presets[name] = extraction.Sampled(int64(interval))
	return config.Save(c.config, c.configPath)
}

func (c *configPresetContext) thePresetIsBasedOn(base string) error {
	c.options.Preset = base
	return nil
}

func (c *configPresetContext) thePresetSamplesEveryMs(interval int) error {
	c.options.IntervalMs = int64(interval)
	return nil
}

func (c *configPresetContext) thePresetUsesJPEGQuality(q int) error {
	c.options.JPEGQuality = q
	return nil
}

func (c *configPresetContext) iAddThePreset(name string) error {
	if err := c.load(); err != nil {
		return err
	}
	c.output.Reset()
	c.err = cmd.RunConfigAddWithDependencies(c.config, c.configPath, "preset", name, c.options, c.output)
	return nil
}

func (c *configPresetContext) iUpdateThePreset(name string) error {
	if err := c.load(); err != nil {
		return err
	}
	c.output.Reset()
	c.err = cmd.RunConfigUpdateWithDependencies(c.config, c.configPath, "preset", name, c.options, c.output)
	return nil
}

func (c *configPresetContext) iUpdateTheDefaultSettings() error {
	if err := c.load(); err != nil {
		return err
	}
	c.output.Reset()
	c.err = cmd.RunConfigUpdateWithDependencies(c.config, c.configPath, "default", "", c.options, c.output)
	return nil
}

func (c *configPresetContext) iRemoveThePreset(name string) error {
	if err := c.load(); err != nil {
		return err
	}
	c.output.Reset()
	c.err = cmd.RunConfigRemoveWithDependencies(c.config, c.configPath, "preset", name, c.output)
	return nil
}

func (c *configPresetContext) iListThePresets() error {
	if err := c.load(); err != nil {
		return err
	}
	c.output.Reset()
	c.err = cmd.RunConfigListWithDependencies(c.config, c.configPath, "presets", c.output)
	return nil
}

func (c *configPresetContext) theConfigCommandShouldSucceed() error {
	if c.err != nil {
		return fmt.Errorf("expected success, got: %v", c.err)
	}
	return nil
}

func (c *configPresetContext) theConfigCommandShouldFailWith(msg string) error {
	if c.err == nil {
		return fmt.Errorf("expected error containing %q, got none", msg)
	}
	if !strings.Contains(c.err.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, c.err.Error())
	}
	return nil
}

func (c *configPresetContext) theConfigOutputShouldContain(text string) error {
	if !strings.Contains(c.output.String(), text) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", text, c.output.String())
	}
	return nil
}

func (c *configPresetContext) theSavedPresetShouldSample(name string, interval, quality int) error {
	if err := c.load(); err != nil {
		return err
	}
	preset, err := config.NewConfigManager(c.config, c.configPath).GetPreset(name)
	if errors.Is(err, config.ErrPresetNotFound) {
		return fmt.Errorf("preset %q not saved", name)
	}
	if err != nil {
		return err
	}
	if preset.Config.SamplingStrategy() != extraction.SampleInterval {
		return fmt.Errorf("expected interval sampling, got %s", preset.Config.SamplingStrategy())
	}
	if preset.Config.FrameIntervalMs != int64(interval) || preset.Config.JPEGQuality != quality {
		return fmt.Errorf("expected every %dms at %d, got every %dms at %d",
			interval, quality, preset.Config.FrameIntervalMs, preset.Config.JPEGQuality)
	}
	return nil
}

func (c *configPresetContext) theSavedConfigShouldNotContainPreset(name string) error {
	if err := c.load(); err != nil {
		return err
	}
	if _, ok := c.config.Presets[name]; ok {
		return fmt.Errorf("expected preset %q to be removed", name)
	}
	return nil
}

func (c *configPresetContext) theSavedDefaultSettingsShouldSampleEvery(interval int) error {
	if err := c.load(); err != nil {
		return err
	}
	got := c.config.Extraction
	if got.SamplingStrategy() != extraction.SampleInterval || got.FrameIntervalMs != int64(interval) {
		return fmt.Errorf("expected default sampling every %dms, got %s every %dms",
			interval, got.SamplingStrategy(), got.FrameIntervalMs)
	}
	return nil
}
