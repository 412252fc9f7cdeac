//go:build integration

package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vidextract/cmd"
	"vidextract/domain/extraction"
	"vidextract/infrastructure/config"

	"github.com/cucumber/godog"
)

type extractContext struct {
	tempDir    string
	cfg        *config.Config
	engine     *fakeEngine
	inspector  *fakeInspector
	prober     *fakeProber
	sourcePath string
	options    cmd.ExtractionOptions
	output     *bytes.Buffer
	result     extraction.Result
	err        error
}

var SharedExtractContext = &extractContext{}

func InitializeExtractScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedExtractContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "extract-test-*")
		if err != nil {
			return c, err
		}
		testCtx.tempDir = tempDir
		testCtx.cfg = testConfig(tempDir)
		testCtx.engine = newFakeEngine()
		testCtx.inspector = &fakeInspector{}
		testCtx.prober = &fakeProber{available: 1 << 40}
		testCtx.sourcePath = ""
		testCtx.options = cmd.ExtractionOptions{}
		testCtx.output = &bytes.Buffer{}
		testCtx.result = nil
		testCtx.err = nil
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if testCtx.tempDir != "" {
			os.RemoveAll(testCtx.tempDir)
		}
		return c, nil
	})

	ctx.Step(`^a source video "([^"]*)" lasting (\d+) ms at (\d+) fps with (\d+) audio streams?$`, testCtx.aSourceVideo)
	ctx.Step(`^only (\d+) bytes of disk space are available$`, testCtx.onlyBytesOfDiskSpaceAreAvailable)
	ctx.Step(`^the engine fails to write "([^"]*)"$`, testCtx.theEngineFailsToWrite)
	ctx.Step(`^partial output is kept on failure$`, testCtx.partialOutputIsKeptOnFailure)
	ctx.Step(`^I extract frames with preset "([^"]*)"$`, testCtx.iExtractFramesWithPreset)
	ctx.Step(`^I extract frames every (\d+) ms with batch size (\d+)$`, testCtx.iExtractFramesEveryMsWithBatchSize)
	ctx.Step(`^I extract frames at timestamps "([^"]*)"$`, testCtx.iExtractFramesAtTimestamps)
	ctx.Step(`^I extract frames at "([^"]*)" quality$`, testCtx.iExtractFramesAtQuality)
	ctx.Step(`^I extract audio as "([^"]*)"$`, testCtx.iExtractAudioAs)
	ctx.Step(`^I extract frames from "([^"]*)"$`, testCtx.iExtractFramesFrom)
	ctx.Step(`^the extraction should succeed with (\d+) items?$`, testCtx.theExtractionShouldSucceedWithItems)
	ctx.Step(`^the extraction should end with outcome "([^"]*)"$`, testCtx.theExtractionShouldEndWithOutcome)
	ctx.Step(`^the extraction should be rejected with "([^"]*)"$`, testCtx.theExtractionShouldBeRejectedWith)
	ctx.Step(`^the "([^"]*)" folder should hold (\d+) files?$`, testCtx.theFolderShouldHoldFiles)
	ctx.Step(`^the "([^"]*)" folder should exist$`, testCtx.theFolderShouldExist)
	ctx.Step(`^the "([^"]*)" folder should not exist$`, testCtx.theFolderShouldNotExist)
	ctx.Step(`^the engine should have seeked to "([^"]*)"$`, testCtx.theEngineShouldHaveSeekedTo)
	ctx.Step(`^every frame should be scaled to at most (\d+) pixels$`, testCtx.everyFrameShouldBeScaledToAtMostPixels)
	ctx.Step(`^the audio tracks should be encoded as "([^"]*)" at "([^"]*)"$`, testCtx.theAudioTracksShouldBeEncodedAsAt)
	ctx.Step(`^the extraction output should mention "([^"]*)"$`, testCtx.theExtractionOutputShouldMention)
	ctx.Step(`^no working copy should be left behind$`, testCtx.noWorkingCopyShouldBeLeftBehind)
}

func (e *extractContext) aSourceVideo(name string, durationMs, fps, audioStreams int) error {
	path, err := writeSource(e.tempDir, name)
	if err != nil {
		return err
	}
	e.sourcePath = path
	e.inspector.source = sourceLayout(int64(durationMs), float64(fps), audioStreams)
	return nil
}

func (e *extractContext) onlyBytesOfDiskSpaceAreAvailable(n int) error {
	e.prober.available = uint64(n)
	return nil
}

func (e *extractContext) theEngineFailsToWrite(name string) error {
	e.engine.failOn[name] = true
	return nil
}

func (e *extractContext) partialOutputIsKeptOnFailure() error {
	e.options.NoCleanup = true
	return nil
}

func (e *extractContext) run(kind extraction.Kind, source string) {
	deps := testDependencies(e.engine, e.inspector, e.prober)
	input := cmd.ExtractInput{
		Kind:       kind,
		SourcePath: source,
		Options:    e.options,
	}
	e.output.Reset()
	e.result, e.err = cmd.RunExtractWithDependencies(context.Background(), e.cfg, deps, input, e.output)
}

func (e *extractContext) iExtractFramesWithPreset(preset string) error {
	e.options.Preset = preset
	e.run(extraction.KindFrames, e.sourcePath)
	return nil
}

func (e *extractContext) iExtractFramesEveryMsWithBatchSize(interval, batch int) error {
	e.options.IntervalMs = int64(interval)
	e.options.BatchSize = batch
	e.run(extraction.KindFrames, e.sourcePath)
	return nil
}

func (e *extractContext) iExtractFramesAtTimestamps(list string) error {
	ts, err := parseInts(list)
	if err != nil {
		return err
	}
	e.options.Timestamps = ts
	e.run(extraction.KindFrames, e.sourcePath)
	return nil
}

func (e *extractContext) iExtractFramesAtQuality(quality string) error {
	e.options.Quality = quality
	e.run(extraction.KindFrames, e.sourcePath)
	return nil
}

func (e *extractContext) iExtractAudioAs(format string) error {
	e.options.AudioFormat = format
	e.run(extraction.KindAudio, e.sourcePath)
	return nil
}

func (e *extractContext) iExtractFramesFrom(name string) error {
	e.run(extraction.KindFrames, filepath.Join(e.tempDir, name))
	return nil
}

func (e *extractContext) theExtractionShouldSucceedWithItems(n int) error {
	if e.err != nil {
		return fmt.Errorf("expected success, got error: %v\noutput:\n%s", e.err, e.output.String())
	}
	success, ok := e.result.(extraction.Success)
	if !ok {
		return fmt.Errorf("expected Success, got %T", e.result)
	}
	if success.TotalCount != n || len(success.Paths) != n {
		return fmt.Errorf("expected %d items, got %d (%d paths)", n, success.TotalCount, len(success.Paths))
	}
	return nil
}

func (e *extractContext) theExtractionShouldEndWithOutcome(outcome string) error {
	if e.result == nil {
		return fmt.Errorf("expected outcome %q, got no result (error: %v)", outcome, e.err)
	}
	if string(e.result.Outcome()) != outcome {
		return fmt.Errorf("expected outcome %q, got %q (%s)", outcome, e.result.Outcome(), extraction.Describe(e.result))
	}
	if outcome != string(extraction.OutcomeSuccess) && e.err == nil {
		return fmt.Errorf("expected an error alongside outcome %q", outcome)
	}
	return nil
}

func (e *extractContext) theExtractionShouldBeRejectedWith(msg string) error {
	if e.err == nil {
		return fmt.Errorf("expected error containing %q, got none", msg)
	}
	if !strings.Contains(e.err.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, e.err.Error())
	}
	return nil
}

func (e *extractContext) outputDir(sub string) string {
	return filepath.Join(e.cfg.Paths.OutputDir, extraction.SanitizeName(e.sourcePath), sub)
}

func (e *extractContext) theFolderShouldHoldFiles(sub string, n int) error {
	got, err := countFiles(e.outputDir(sub))
	if err != nil {
		return err
	}
	if got != n {
		return fmt.Errorf("expected %d files in %s, got %d", n, e.outputDir(sub), got)
	}
	return nil
}

func (e *extractContext) theFolderShouldExist(sub string) error {
	if _, err := os.Stat(e.outputDir(sub)); err != nil {
		return fmt.Errorf("expected %s to exist: %v", e.outputDir(sub), err)
	}
	return nil
}

func (e *extractContext) theFolderShouldNotExist(sub string) error {
	if _, err := os.Stat(e.outputDir(sub)); err == nil {
		return fmt.Errorf("expected %s not to exist", e.outputDir(sub))
	}
	return nil
}

func (e *extractContext) theEngineShouldHaveSeekedTo(list string) error {
	want, err := parseInts(list)
	if err != nil {
		return err
	}
	got := e.engine.seeks()
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if fmt.Sprint(got) != fmt.Sprint(want) {
		return fmt.Errorf("expected seeks %v, got %v", want, got)
	}
	return nil
}

func (e *extractContext) everyFrameShouldBeScaledToAtMostPixels(max int) error {
	for _, c := range e.engine.invocations() {
		if c.ScaleWidth > max || c.ScaleHeight > max {
			return fmt.Errorf("frame at %dms scaled to %dx%d, larger than %d", c.SeekMs, c.ScaleWidth, c.ScaleHeight, max)
		}
		if c.ScaleWidth%2 != 0 || c.ScaleHeight%2 != 0 {
			return fmt.Errorf("frame at %dms scaled to odd size %dx%d", c.SeekMs, c.ScaleWidth, c.ScaleHeight)
		}
	}
	return nil
}

func (e *extractContext) theAudioTracksShouldBeEncodedAsAt(format, bitrate string) error {
	for _, c := range e.engine.invocations() {
		if c.AudioFormat != format || c.AudioBitrate != bitrate {
			return fmt.Errorf("stream %d encoded as %s/%s, want %s/%s", c.StreamIndex, c.AudioFormat, c.AudioBitrate, format, bitrate)
		}
	}
	return nil
}

func (e *extractContext) theExtractionOutputShouldMention(text string) error {
	if !strings.Contains(e.output.String(), text) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", text, e.output.String())
	}
	return nil
}

func (e *extractContext) noWorkingCopyShouldBeLeftBehind() error {
	entries, err := os.ReadDir(e.cfg.Paths.WorkDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) != 0 {
		return fmt.Errorf("expected empty working directory, found %d entries", len(entries))
	}
	return nil
}
