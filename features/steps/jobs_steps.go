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

	appjobs "vidextract/application/jobs"
	"vidextract/cmd"
	"vidextract/domain/extraction"
	"vidextract/infrastructure/config"

	"github.com/cucumber/godog"
)

const watchTimeout = 10 * time.Second

type jobsContext struct {
	tempDir    string
	cfg        *config.Config
	engine     *fakeEngine
	inspector  *fakeInspector
	manager    *appjobs.Manager
	ids        []string
	output     *bytes.Buffer
	err        error
	stopWorker context.CancelFunc
	workerDone chan struct{}
}

var SharedJobsContext = &jobsContext{}

func InitializeJobsScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedJobsContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "jobs-test-*")
		if err != nil {
			return c, err
		}
		testCtx.tempDir = tempDir
		testCtx.cfg = testConfig(tempDir)
		testCtx.engine = newFakeEngine()
		testCtx.inspector = &fakeInspector{source: sourceLayout(10000, 30, 1)}
		testCtx.manager = nil
		testCtx.ids = nil
		testCtx.output = &bytes.Buffer{}
		testCtx.err = nil
		testCtx.stopWorker = nil
		testCtx.workerDone = nil
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		testCtx.shutdownWorker()
		if testCtx.tempDir != "" {
			os.RemoveAll(testCtx.tempDir)
		}
		return c, nil
	})

	ctx.Step(`^a queued source "([^"]*)" lasting (\d+) ms$`, testCtx.aQueuedSourceLastingMs)
	ctx.Step(`^jobs are retried at most (\d+) times?$`, testCtx.jobsAreRetriedAtMostTimes)
	ctx.Step(`^the engine always fails to write "([^"]*)"$`, testCtx.theEngineAlwaysFailsToWrite)
	ctx.Step(`^I enqueue a "([^"]*)" job for "([^"]*)"$`, testCtx.iEnqueueAJobFor)
	ctx.Step(`^the worker is running$`, testCtx.theWorkerIsRunning)
	ctx.Step(`^I watch the latest job$`, testCtx.iWatchTheLatestJob)
	ctx.Step(`^I cancel the latest job$`, testCtx.iCancelTheLatestJob)
	ctx.Step(`^I ask for the status of the latest job$`, testCtx.iAskForTheStatusOfTheLatestJob)
	ctx.Step(`^I ask for the status of job (\d+)$`, testCtx.iAskForTheStatusOfJobNumber)
	ctx.Step(`^I ask for the status of job "([^"]*)"$`, testCtx.iAskForTheStatusOfJob)
	ctx.Step(`^I list the jobs$`, testCtx.iListTheJobs)
	ctx.Step(`^job (\d+) should be "([^"]*)"$`, testCtx.jobShouldBe)
	ctx.Step(`^the jobs command should succeed$`, testCtx.theJobsCommandShouldSucceed)
	ctx.Step(`^the jobs command should fail with "([^"]*)"$`, testCtx.theJobsCommandShouldFailWith)
	ctx.Step(`^the jobs output should contain "([^"]*)"$`, testCtx.theJobsOutputShouldContain)
	ctx.Step(`^the job list should have (\d+) rows?$`, testCtx.theJobListShouldHaveRows)
	ctx.Step(`^job (\d+) should have (\d+) frames in "([^"]*)"$`, testCtx.jobShouldHaveFramesIn)
}

func (j *jobsContext) openManager() error {
	if j.manager != nil {
		return nil
	}
	deps := testDependencies(j.engine, j.inspector, &fakeProber{available: 1 << 40})
	manager, _, err := cmd.OpenJobManager(j.cfg, deps)
	if err != nil {
		return err
	}
	j.manager = manager
	return nil
}

func (j *jobsContext) shutdownWorker() {
	if j.stopWorker == nil {
		return
	}
	j.stopWorker()
	<-j.workerDone
	j.stopWorker = nil
}

func (j *jobsContext) aQueuedSourceLastingMs(name string, durationMs int) error {
	if _, err := writeSource(j.tempDir, name); err != nil {
		return err
	}
	j.inspector.source = sourceLayout(int64(durationMs), 30, 1)
	return nil
}

func (j *jobsContext) jobsAreRetriedAtMostTimes(n int) error {
	j.cfg.Jobs.MaxRetries = n
	return nil
}

func (j *jobsContext) theEngineAlwaysFailsToWrite(name string) error {
	j.engine.failOn[name] = true
	return nil
}

func (j *jobsContext) iEnqueueAJobFor(kind, name string) error {
	if err := j.openManager(); err != nil {
		return err
	}
	k, err := extraction.ParseKind(kind)
	if err != nil {
		return err
	}
	input := cmd.ExtractInput{
		Kind:       k,
		SourcePath: filepath.Join(j.tempDir, name),
		Options:    cmd.ExtractionOptions{IntervalMs: 5000},
	}
	deps := testDependencies(j.engine, j.inspector, &fakeProber{available: 1 << 40})

	j.output.Reset()
	id, err := cmd.RunJobsEnqueueWithDependencies(context.Background(), j.cfg, deps, j.manager, "", input, j.output)
	j.err = err
	if err == nil {
		j.ids = append(j.ids, id)
	}
	return nil
}

func (j *jobsContext) theWorkerIsRunning() error {
	if err := j.openManager(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.stopWorker = cancel
	j.workerDone = make(chan struct{})
	go func() {
		defer close(j.workerDone)
		_ = cmd.RunJobsWorkerWithDependencies(ctx, j.manager, j.cfg.Paths.JobsDir, &bytes.Buffer{})
	}()
	return nil
}

func (j *jobsContext) latest() (string, error) {
	if len(j.ids) == 0 {
		return "", fmt.Errorf("no job has been enqueued")
	}
	return j.ids[len(j.ids)-1], nil
}

func (j *jobsContext) iWatchTheLatestJob() error {
	id, err := j.latest()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), watchTimeout)
	defer cancel()
	j.output.Reset()
	j.err = cmd.RunJobsWatchWithDependencies(ctx, j.manager, id, j.output)
	return nil
}

func (j *jobsContext) iCancelTheLatestJob() error {
	id, err := j.latest()
	if err != nil {
		return err
	}
	j.output.Reset()
	j.err = cmd.RunJobsCancelWithDependencies(context.Background(), j.manager, id, j.output)
	return nil
}

func (j *jobsContext) iAskForTheStatusOfTheLatestJob() error {
	id, err := j.latest()
	if err != nil {
		return err
	}
	return j.iAskForTheStatusOfJob(id)
}

func (j *jobsContext) iAskForTheStatusOfJobNumber(n int) error {
	if n < 1 || n > len(j.ids) {
		return fmt.Errorf("job %d was never enqueued", n)
	}
	return j.iAskForTheStatusOfJob(j.ids[n-1])
}

func (j *jobsContext) iAskForTheStatusOfJob(id string) error {
	if err := j.openManager(); err != nil {
		return err
	}
	j.output.Reset()
	j.err = cmd.RunJobsStatusWithDependencies(context.Background(), j.manager, id, j.output)
	return nil
}

func (j *jobsContext) iListTheJobs() error {
	if err := j.openManager(); err != nil {
		return err
	}
	j.output.Reset()
	j.err = cmd.RunJobsListWithDependencies(context.Background(), j.manager, j.output)
	return nil
}

func (j *jobsContext) jobShouldBe(n int, state string) error {
	if n < 1 || n > len(j.ids) {
		return fmt.Errorf("job %d was never enqueued", n)
	}
	rec, err := j.manager.Get(context.Background(), j.ids[n-1])
	if err != nil {
		return err
	}
	if string(rec.State) != state {
		return fmt.Errorf("expected job %d to be %s, got %s (%s)", n, state, rec.State, rec.FailureReason)
	}
	return nil
}

func (j *jobsContext) theJobsCommandShouldSucceed() error {
	if j.err != nil {
		return fmt.Errorf("expected success, got: %v\noutput:\n%s", j.err, j.output.String())
	}
	return nil
}

func (j *jobsContext) theJobsCommandShouldFailWith(msg string) error {
	if j.err == nil {
		return fmt.Errorf("expected error containing %q, got none", msg)
	}
	if !strings.Contains(j.err.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, j.err.Error())
	}
	return nil
}

func (j *jobsContext) theJobsOutputShouldContain(text string) error {
	if !strings.Contains(j.output.String(), text) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", text, j.output.String())
	}
	return nil
}

func (j *jobsContext) theJobListShouldHaveRows(n int) error {
	lines := strings.Split(strings.TrimSpace(j.output.String()), "\n")
	if got := len(lines) - 1; got != n {
		return fmt.Errorf("expected %d rows, got %d:\n%s", n, got, j.output.String())
	}
	return nil
}

func (j *jobsContext) jobShouldHaveFramesIn(n, frames int, sub string) error {
	if n < 1 || n > len(j.ids) {
		return fmt.Errorf("job %d was never enqueued", n)
	}
	rec, err := j.manager.Get(context.Background(), j.ids[n-1])
	if err != nil {
		return err
	}
	got, err := countFiles(filepath.Join(rec.Request.OutputDir, sub))
	if err != nil {
		return err
	}
	if got != frames {
		return fmt.Errorf("expected %d files in %s, got %d", frames, sub, got)
	}
	return nil
}
