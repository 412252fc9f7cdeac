//go:build integration

package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidextract/application/retention"
	"vidextract/cmd"
	"vidextract/domain/extraction"
	"vidextract/domain/jobs"
	"vidextract/infrastructure/config"
	"vidextract/infrastructure/jobstore"

	"github.com/cucumber/godog"
)

type pruneContext struct {
	tempDir string
	cfg     *config.Config
	output  *bytes.Buffer
	err     error
}

var SharedPruneContext = &pruneContext{}

func InitializePruneScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedPruneContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "prune-test-*")
		if err != nil {
			return c, err
		}
		testCtx.tempDir = tempDir
		testCtx.cfg = testConfig(tempDir)
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

	ctx.Step(`^extraction directories created in order:$`, testCtx.extractionDirectoriesCreatedInOrder)
	ctx.Step(`^a finished job record last updated (\d+) hours ago$`, testCtx.aFinishedJobRecordLastUpdatedHoursAgo)
	ctx.Step(`^I prune keeping (-?\d+)$`, testCtx.iPruneKeeping)
	ctx.Step(`^I prune keeping (\d+) and jobs older than (\d+) hours$`, testCtx.iPruneKeepingAndJobsOlderThanHours)
	ctx.Step(`^I summarize "([^"]*)"$`, testCtx.iSummarize)
	ctx.Step(`^the extraction "([^"]*)" should remain$`, testCtx.theExtractionShouldRemain)
	ctx.Step(`^the extraction "([^"]*)" should be gone$`, testCtx.theExtractionShouldBeGone)
	ctx.Step(`^no job records should remain$`, testCtx.noJobRecordsShouldRemain)
	ctx.Step(`^the retention command should succeed$`, testCtx.theRetentionCommandShouldSucceed)
	ctx.Step(`^the retention command should fail with "([^"]*)"$`, testCtx.theRetentionCommandShouldFailWith)
	ctx.Step(`^the retention output should contain "([^"]*)"$`, testCtx.theRetentionOutputShouldContain)
}

func (p *pruneContext) extractionDirectoriesCreatedInOrder(table *godog.Table) error {
	base := time.Now().Add(-time.Duration(len(table.Rows)) * time.Hour)
	for i, row := range table.Rows {
		if i == 0 {
			continue // header
		}
		name := row.Cells[0].Value
		dir := filepath.Join(p.cfg.Paths.OutputDir, name, "full")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, extraction.FrameFileName(0)), []byte("jpeg data"), 0644); err != nil {
			return err
		}
		mtime := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(filepath.Join(p.cfg.Paths.OutputDir, name), mtime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func (p *pruneContext) aFinishedJobRecordLastUpdatedHoursAgo(hours int) error {
	updated := time.Now().Add(-time.Duration(hours) * time.Hour)
	store, err := jobstore.Open(p.cfg.Paths.JobsDir, jobstore.WithClock(func() time.Time { return updated }))
	if err != nil {
		return err
	}
	return store.Create(context.Background(), &jobs.Record{
		ID:    fmt.Sprintf("old-%d", hours),
		Key:   "frames:old",
		State: jobs.StateSucceeded,
	})
}

func (p *pruneContext) run(keep int, jobsAge time.Duration) {
	p.output.Reset()
	p.err = cmd.RunPruneWithDependencies(context.Background(), p.cfg, retention.NewService(), keep, jobsAge, p.output)
}

func (p *pruneContext) iPruneKeeping(keep int) error {
	p.run(keep, 0)
	return nil
}

func (p *pruneContext) iPruneKeepingAndJobsOlderThanHours(keep, hours int) error {
	p.run(keep, time.Duration(hours)*time.Hour)
	return nil
}

func (p *pruneContext) iSummarize(name string) error {
	p.output.Reset()
	p.err = cmd.RunSummaryWithDependencies(retention.NewService(), filepath.Join(p.cfg.Paths.OutputDir, name), p.output)
	return nil
}

func (p *pruneContext) theExtractionShouldRemain(name string) error {
	if _, err := os.Stat(filepath.Join(p.cfg.Paths.OutputDir, name)); err != nil {
		return fmt.Errorf("expected %s to remain: %v", name, err)
	}
	return nil
}

func (p *pruneContext) theExtractionShouldBeGone(name string) error {
	if _, err := os.Stat(filepath.Join(p.cfg.Paths.OutputDir, name)); !os.IsNotExist(err) {
		return fmt.Errorf("expected %s to be deleted", name)
	}
	return nil
}

func (p *pruneContext) noJobRecordsShouldRemain() error {
	store, err := jobstore.Open(p.cfg.Paths.JobsDir)
	if err != nil {
		return err
	}
	records, err := store.List(context.Background())
	if err != nil {
		return err
	}
	if len(records) != 0 {
		return fmt.Errorf("expected no job records, found %d", len(records))
	}
	return nil
}

func (p *pruneContext) theRetentionCommandShouldSucceed() error {
	if p.err != nil {
		return fmt.Errorf("expected success, got: %v", p.err)
	}
	return nil
}

func (p *pruneContext) theRetentionCommandShouldFailWith(msg string) error {
	if p.err == nil {
		return fmt.Errorf("expected error containing %q, got none", msg)
	}
	if !strings.Contains(p.err.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, p.err.Error())
	}
	return nil
}

func (p *pruneContext) theRetentionOutputShouldContain(text string) error {
	if !strings.Contains(p.output.String(), text) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", text, p.output.String())
	}
	return nil
}
