package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	appjobs "vidextract/application/jobs"
	"vidextract/domain/extraction"
	"vidextract/domain/jobs"
	"vidextract/infrastructure/config"
	"vidextract/infrastructure/filesystem"
	"vidextract/infrastructure/jobstore"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Queue and run extractions in the background",
	Long: `Background jobs are stored under the configured jobs directory and run by
a worker process. A job failing with a transient error is retried with a
growing delay. Enqueuing the same source again replaces its active job.

Examples:
  vidextract jobs enqueue --source lecture.mp4 --kind frames --preset every-5s
  vidextract jobs worker
  vidextract jobs watch <id>
  vidextract jobs cancel <id>`,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsEnqueueCmd, jobsWorkerCmd, jobsStatusCmd, jobsWatchCmd, jobsCancelCmd, jobsListCmd)
}

// OpenJobManager opens the file job store and a manager running jobs
// with the orchestrator built from deps
func OpenJobManager(cfg *config.Config, deps Dependencies) (*appjobs.Manager, *jobstore.FileStore, error) {
	store, err := jobstore.Open(cfg.Paths.JobsDir)
	if err != nil {
		return nil, nil, err
	}
	manager := appjobs.NewManager(store, deps.Orchestrator(cfg),
		appjobs.WithSettings(appjobs.Settings{
			MaxRetries:       cfg.Jobs.MaxRetries,
			BackoffIncrement: cfg.Jobs.BackoffIncrement,
			PollInterval:     cfg.Jobs.PollInterval,
			MaxConcurrent:    cfg.Jobs.MaxConcurrent,
			LeaseDuration:    cfg.Jobs.LeaseDuration,
		}),
		appjobs.WithLogger(deps.Logger),
	)
	return manager, store, nil
}

func jobsCommandSetup() (*config.Config, *appjobs.Manager, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, nil, err
	}
	manager, _, err := OpenJobManager(cfg, ProductionDependencies(cfg, logger))
	if err != nil {
		return nil, nil, err
	}
	return cfg, manager, nil
}

// --- ENQUEUE command ---

var (
	enqueueFlags extractFlags
	enqueueKind  string
	enqueueKey   string
)

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue an extraction",
	Long: `Probe a source and queue it for the worker.

Only one job per key is active: enqueuing again with the same key cancels
the previous job. The key defaults to the kind and the absolute source path.

Example:
  vidextract jobs enqueue --source lecture.mp4 --kind audio --format wav`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, manager, err := jobsCommandSetup()
		if err != nil {
			return err
		}
		kind, err := extraction.ParseKind(enqueueKind)
		if err != nil {
			return &ValidationError{Message: err.Error()}
		}
		input := enqueueFlags.input(kind)
		_, err = RunJobsEnqueueWithDependencies(cmd.Context(), cfg, ProductionDependencies(cfg, logger), manager, enqueueKey, input, cmd.OutOrStdout())
		return err
	},
}

func init() {
	// enqueue accepts both frame and audio flags
	enqueueFlags.register(jobsEnqueueCmd, extraction.KindFrames)
	jobsEnqueueCmd.Flags().StringVar(&enqueueFlags.opts.AudioFormat, "format", "", "Audio format: mp3 or wav")
	jobsEnqueueCmd.Flags().StringVar(&enqueueFlags.opts.AudioBitrate, "bitrate", "", "MP3 bitrate, e.g. 192k")
	jobsEnqueueCmd.Flags().StringVar(&enqueueKind, "kind", string(extraction.KindFrames), "What to extract: frames or audio")
	jobsEnqueueCmd.Flags().StringVar(&enqueueKey, "key", "", "Uniqueness key (default <kind>:<absolute source path>)")
}

// JobKey is the default uniqueness key of a source
func JobKey(kind extraction.Kind, sourcePath string) string {
	if abs, err := filepath.Abs(sourcePath); err == nil {
		sourcePath = abs
	}
	return string(kind) + ":" + sourcePath
}

// RunJobsEnqueueWithDependencies probes the source and enqueues a job (for testing)
func RunJobsEnqueueWithDependencies(
	ctx context.Context,
	cfg *config.Config,
	deps Dependencies,
	manager *appjobs.Manager,
	key string,
	input ExtractInput,
	output io.Writer,
) (string, error) {
	extractCfg, err := ResolveExtractionConfig(cfg, input.Options)
	if err != nil {
		return "", err
	}
	if err := filesystem.NewChecker().CheckSource(input.SourcePath); err != nil {
		return "", &ValidationError{Message: err.Error()}
	}
	if err := verifyEngine(ctx, deps.Inspector); err != nil {
		return "", err
	}

	src, err := deps.Inspector.Probe(ctx, input.SourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to probe source: %w", err)
	}

	outputDir := input.OutputDir
	if outputDir == "" {
		outputDir = defaultOutputDir(cfg, input.SourcePath)
	}
	if key == "" {
		key = JobKey(input.Kind, input.SourcePath)
	}

	id, err := manager.Enqueue(ctx, key, jobs.Request{
		Kind:       input.Kind,
		SourcePath: input.SourcePath,
		OutputDir:  outputDir,
		Config:     extractCfg,
		Source:     src,
	})
	if err != nil {
		return "", err
	}

	fmt.Fprintf(output, "Enqueued job %s\n", id)
	fmt.Fprintf(output, "  key:    %s\n", key)
	fmt.Fprintf(output, "  output: %s\n", outputDir)
	fmt.Fprintf(output, "Run 'vidextract jobs watch %s' to follow it.\n", id)
	return id, nil
}

// --- WORKER command ---

var jobsWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued jobs until interrupted",
	Long: `Run queued jobs until Ctrl-C or SIGTERM.

Jobs left running by a worker that died are picked up again on start. On
shutdown, running jobs are left in the store and resumed by the next worker.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, manager, err := jobsCommandSetup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		deps := ProductionDependencies(cfg, logger)
		if err := verifyEngine(ctx, deps.Invoker); err != nil {
			return err
		}
		return RunJobsWorkerWithDependencies(ctx, manager, cfg.Paths.JobsDir, cmd.OutOrStdout())
	},
}

// RunJobsWorkerWithDependencies runs the manager until ctx is done (for testing)
func RunJobsWorkerWithDependencies(ctx context.Context, manager *appjobs.Manager, jobsDir string, output io.Writer) error {
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	fmt.Fprintf(output, "Worker started (jobs in %s). Press Ctrl-C to stop.\n", jobsDir)

	<-ctx.Done()
	fmt.Fprintln(output, "Stopping worker...")
	manager.Wait()
	fmt.Fprintln(output, "Worker stopped.")
	return nil
}

// --- STATUS command ---

var jobsStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a job and its attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, err := jobsCommandSetup()
		if err != nil {
			return err
		}
		return RunJobsStatusWithDependencies(cmd.Context(), manager, args[0], cmd.OutOrStdout())
	},
}

// RunJobsStatusWithDependencies prints one job record (for testing)
func RunJobsStatusWithDependencies(ctx context.Context, manager *appjobs.Manager, id string, output io.Writer) error {
	rec, err := manager.Get(ctx, id)
	if err != nil {
		return jobLookupError(id, err)
	}

	fmt.Fprintf(output, "Job:      %s\n", rec.ID)
	fmt.Fprintf(output, "Key:      %s\n", rec.Key)
	fmt.Fprintf(output, "Kind:     %s\n", rec.Request.Kind)
	fmt.Fprintf(output, "Source:   %s\n", rec.Request.SourcePath)
	fmt.Fprintf(output, "Output:   %s\n", rec.Request.OutputDir)
	fmt.Fprintf(output, "State:    %s", rec.State)
	if rec.CancelRequested && !rec.State.IsTerminal() {
		fmt.Fprint(output, " (cancel requested)")
	}
	fmt.Fprintln(output)
	fmt.Fprintf(output, "Attempts: %d (max retries %d)\n", rec.Attempts, rec.MaxRetries)
	if rec.Progress != nil && !rec.State.IsTerminal() {
		fmt.Fprintf(output, "Progress: %s\n", extraction.Describe(*rec.Progress))
	}
	if rec.State == jobs.StateEnqueued && rec.Attempts > 0 {
		fmt.Fprintf(output, "Next run: %s\n", rec.NextRunAt.Format(time.RFC3339))
	}
	if res, err := rec.DecodedResult(); err == nil && res != nil {
		fmt.Fprintf(output, "Result:   %s\n", extraction.Describe(res))
	}
	if rec.FailureReason != "" {
		fmt.Fprintf(output, "Reason:   %s\n", rec.FailureReason)
	}

	if len(rec.History) == 0 {
		return nil
	}
	fmt.Fprintln(output)
	tw := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTEMPT\tSTARTED\tDURATION\tOUTCOME\tRETRY IN\tERROR")
	for _, a := range rec.History {
		duration := "-"
		if !a.FinishedAt.IsZero() {
			duration = a.FinishedAt.Sub(a.StartedAt).Round(time.Millisecond).String()
		}
		retry := "-"
		if a.RetryDelay > 0 {
			retry = a.RetryDelay.String()
		}
		outcome := string(a.Outcome)
		if outcome == "" {
			outcome = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", a.Number, a.StartedAt.Format(time.TimeOnly), duration, outcome, retry, a.Error)
	}
	return tw.Flush()
}

// --- WATCH command ---

var jobsWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Follow a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, err := jobsCommandSetup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return RunJobsWatchWithDependencies(ctx, manager, args[0], cmd.OutOrStdout())
	},
}

// RunJobsWatchWithDependencies renders a job's progress until it is
// terminal (for testing). Jobs that did not succeed return an error.
func RunJobsWatchWithDependencies(ctx context.Context, manager *appjobs.Manager, id string, output io.Writer) error {
	updates, err := manager.Observe(ctx, id)
	if err != nil {
		return jobLookupError(id, err)
	}

	var (
		bar      *progressRenderer
		state    jobs.State
		attempts int
		last     appjobs.Update
	)
	for u := range updates {
		last = u
		if u.State != state || u.Attempts != attempts {
			if bar != nil {
				bar.Finish(false)
				bar = nil
			}
			state, attempts = u.State, u.Attempts
			fmt.Fprintf(output, "Job %s: %s (attempt %d)\n", id, u.State, u.Attempts)
		}
		if u.State == jobs.StateRunning && u.Progress != nil {
			if bar == nil {
				bar = newProgressRenderer(output, "      ")
			}
			bar.Show(*u.Progress)
		}
	}

	if !last.State.IsTerminal() {
		if bar != nil {
			bar.Finish(false)
		}
		return ctx.Err()
	}
	if bar != nil {
		bar.Finish(last.State == jobs.StateSucceeded)
	}

	summary := extraction.Describe(last.Result)
	if last.Reason != "" && last.State != jobs.StateSucceeded {
		summary = last.Reason
	}
	fmt.Fprintf(output, "Job %s %s: %s\n", id, last.State, summary)
	if last.State != jobs.StateSucceeded {
		return fmt.Errorf("job %s %s", id, last.State)
	}
	return nil
}

// --- CANCEL command ---

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, err := jobsCommandSetup()
		if err != nil {
			return err
		}
		return RunJobsCancelWithDependencies(cmd.Context(), manager, args[0], cmd.OutOrStdout())
	},
}

// RunJobsCancelWithDependencies cancels a job (for testing)
func RunJobsCancelWithDependencies(ctx context.Context, manager *appjobs.Manager, id string, output io.Writer) error {
	if err := manager.Cancel(ctx, id); err != nil {
		if errors.Is(err, jobs.ErrTerminal) {
			return &ValidationError{Message: fmt.Sprintf("job %s has already finished", id)}
		}
		return jobLookupError(id, err)
	}

	rec, err := manager.Get(ctx, id)
	if err == nil && rec.State == jobs.StateRunning {
		fmt.Fprintf(output, "Cancellation requested for job %s; it stops after its current batch.\n", id)
		return nil
	}
	fmt.Fprintf(output, "Cancelled job %s\n", id)
	return nil
}

// --- LIST command ---

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, manager, err := jobsCommandSetup()
		if err != nil {
			return err
		}
		return RunJobsListWithDependencies(cmd.Context(), manager, cmd.OutOrStdout())
	},
}

// RunJobsListWithDependencies prints every job, oldest first (for testing)
func RunJobsListWithDependencies(ctx context.Context, manager *appjobs.Manager, output io.Writer) error {
	records, err := manager.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(output, "No jobs.")
		return nil
	}

	tw := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATE\tATTEMPTS\tPROGRESS\tSOURCE")
	for _, rec := range records {
		pct := "-"
		switch {
		case rec.State == jobs.StateSucceeded:
			pct = "100%"
		case rec.Progress != nil:
			pct = fmt.Sprintf("%.0f%%", rec.Progress.Percentage*100)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", rec.ID, rec.Request.Kind, rec.State, rec.Attempts, pct, rec.Request.SourcePath)
	}
	return tw.Flush()
}

func jobLookupError(id string, err error) error {
	if errors.Is(err, jobs.ErrNotFound) {
		return &ValidationError{
			Message:    fmt.Sprintf("job %s not found", id),
			Suggestion: "vidextract jobs list",
		}
	}
	return err
}
