package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"vidextract/application/publish"
	"vidextract/domain/distribution"
	"vidextract/domain/extraction"
	"vidextract/domain/jobs"
	"vidextract/infrastructure/config"
	"vidextract/infrastructure/drive"
	"vidextract/infrastructure/jobstore"

	"github.com/spf13/cobra"
)

var (
	publishDir        string
	publishJobID      string
	publishFolderName string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload extraction results to Google Drive",
	Long: `Upload every file of an extraction directory to a Google Drive folder and
share it by link. Files already in the folder with the same name are
replaced. The Drive quota is checked before anything is uploaded.

Pass either --dir or --job (a succeeded background job).

Example:
  vidextract publish --dir extractions/lecture/full
  vidextract publish --job 3f0c... --folder "Lecture 1 frames"`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringVar(&publishDir, "dir", "", "Directory of artifacts to upload")
	publishCmd.Flags().StringVar(&publishJobID, "job", "", "Upload the output of this succeeded job")
	publishCmd.Flags().StringVar(&publishFolderName, "folder", "", "Drive folder name (default derived from the output directory)")
	publishCmd.MarkFlagsMutuallyExclusive("dir", "job")
	publishCmd.MarkFlagsOneRequired("dir", "job")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if cfg.Google.OutputFolderID == "" {
		return &ValidationError{
			Message:    "google.output_folder_id is not configured",
			Suggestion: "vidextract setup",
		}
	}

	ctx := cmd.Context()
	driveClient, err := drive.NewClientWithOAuth(ctx, drive.OAuthConfig{
		CredentialsFile: cfg.Google.CredentialsFile,
		TokenFile:       cfg.Google.TokenFile,
		Output:          cmd.OutOrStdout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create Google Drive client: %w", err)
	}

	input := PublishInput{Dir: publishDir, JobID: publishJobID, FolderName: publishFolderName}
	_, err = RunPublishWithDependencies(ctx, cfg, driveClient, input, cmd.OutOrStdout())
	return err
}

// PublishInput contains the input parameters for the publish command
type PublishInput struct {
	Dir        string
	JobID      string
	FolderName string
}

// RunPublishWithDependencies uploads a directory or a job's output with
// an injected Drive client (for testing)
func RunPublishWithDependencies(
	ctx context.Context,
	cfg *config.Config,
	driveClient distribution.DriveClient,
	input PublishInput,
	output io.Writer,
) (*publish.Result, error) {
	svc := publish.NewService(driveClient, cfg.Google.OutputFolderID, output)

	var (
		result *publish.Result
		err    error
	)
	if input.JobID != "" {
		result, err = publishJob(ctx, cfg, svc, input)
	} else {
		result, err = svc.Publish(ctx, input.Dir, folderNameFor(input.Dir, input.FolderName))
	}
	if err != nil {
		return result, err
	}

	fmt.Fprintf(output, "Published %d file(s) (%.1f MB) to folder %s\n",
		len(result.Files), float64(result.TotalBytes)/(1024*1024), result.FolderName)
	for _, f := range result.Files {
		fmt.Fprintf(output, "  %s  %s\n", f.FileName, f.ShareableURL)
	}
	return result, nil
}

func publishJob(ctx context.Context, cfg *config.Config, svc *publish.Service, input PublishInput) (*publish.Result, error) {
	store, err := jobstore.Open(cfg.Paths.JobsDir)
	if err != nil {
		return nil, err
	}
	rec, err := store.Get(ctx, input.JobID)
	if err != nil {
		return nil, jobLookupError(input.JobID, err)
	}
	if rec.State != jobs.StateSucceeded {
		return nil, &ValidationError{Message: fmt.Sprintf("job %s is %s; only succeeded jobs can be published", rec.ID, rec.State)}
	}
	res, err := rec.DecodedResult()
	if err != nil {
		return nil, fmt.Errorf("failed to read result of job %s: %w", rec.ID, err)
	}
	dir := rec.Request.OutputDir
	if success, ok := res.(extraction.Success); ok {
		dir = success.OutputDirectory
	}
	return svc.PublishResult(ctx, res, folderNameFor(dir, input.FolderName))
}

// folderNameFor names the Drive folder after the extraction directory
// and its quality tier, e.g. lecture_full
func folderNameFor(dir, override string) string {
	if override != "" {
		return override
	}
	dir = filepath.Clean(dir)
	parent := filepath.Base(filepath.Dir(dir))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(dir)
	}
	return parent + "_" + filepath.Base(dir)
}
