package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"vidextract/application/retention"
	"vidextract/infrastructure/config"
	"vidextract/infrastructure/jobstore"

	"github.com/spf13/cobra"
)

var (
	pruneKeep    int
	pruneJobsAge time.Duration
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old extraction directories",
	Long: `Keep the newest extraction directories under the output directory and
delete the rest. Finished job records can be purged at the same time.

Example:
  vidextract prune --keep 3
  vidextract prune --jobs-older-than 168h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		keep := cfg.Retention.KeepLast
		if cmd.Flags().Changed("keep") {
			keep = pruneKeep
		}
		return RunPruneWithDependencies(cmd.Context(), cfg, retention.NewService(retention.WithLogger(logger)), keep, pruneJobsAge, cmd.OutOrStdout())
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary <directory>",
	Short: "Summarize an extraction directory",
	Long: `Count the files and bytes of an extraction directory and of each of its
quality subdirectories.

Example:
  vidextract summary extractions/lecture`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSummaryWithDependencies(retention.NewService(retention.WithLogger(logger)), args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd, summaryCmd)
	pruneCmd.Flags().IntVar(&pruneKeep, "keep", retention.DefaultKeepLast, "Number of newest extraction directories to keep (default from config)")
	pruneCmd.Flags().DurationVar(&pruneJobsAge, "jobs-older-than", 0, "Also purge finished job records older than this")
}

// RunPruneWithDependencies prunes extraction directories and, when
// jobsAge is positive, finished job records (for testing)
func RunPruneWithDependencies(ctx context.Context, cfg *config.Config, svc *retention.Service, keep int, jobsAge time.Duration, output io.Writer) error {
	fmt.Fprintf(output, "Pruning %s, keeping the newest %d...\n", cfg.Paths.OutputDir, keep)
	result, err := svc.Prune(cfg.Paths.OutputDir, keep)
	if err != nil {
		return err
	}
	for _, d := range result.Deleted {
		fmt.Fprintf(output, "  Deleted %s (%.1f MB)\n", d.Path, float64(d.Size)/(1024*1024))
	}
	fmt.Fprintf(output, "Kept %d, deleted %d, freed %.1f MB\n", result.Kept, len(result.Deleted), float64(result.FreedBytes)/(1024*1024))

	if jobsAge <= 0 {
		return nil
	}
	store, err := jobstore.Open(cfg.Paths.JobsDir)
	if err != nil {
		return err
	}
	purged, err := store.Purge(ctx, time.Now().Add(-jobsAge))
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "Purged %d finished job record(s)\n", purged)
	return nil
}

// RunSummaryWithDependencies prints the summary of dir (for testing)
func RunSummaryWithDependencies(svc *retention.Service, dir string, output io.Writer) error {
	summary, err := svc.Summarize(dir)
	if err != nil {
		return err
	}
	summary.Write(output)
	return nil
}
