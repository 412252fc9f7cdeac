package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"vidextract/domain/extraction"

	"github.com/spf13/cobra"
)

var probeSourcePath string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the duration, dimensions and streams of a video file",
	Long: `Probe a video file with ffprobe and print what an extraction would see.

Example:
  vidextract probe --source lecture.mp4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		deps := ProductionDependencies(cfg, logger)
		return RunProbeWithDependencies(cmd.Context(), deps.Inspector, probeSourcePath, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeSourcePath, "source", "", "Path to source video file (required)")
	probeCmd.MarkFlagRequired("source")
}

// RunProbeWithDependencies runs the probe command with an injected inspector (for testing)
func RunProbeWithDependencies(ctx context.Context, inspector extraction.MediaInspector, sourcePath string, output io.Writer) error {
	if err := verifyEngine(ctx, inspector); err != nil {
		return err
	}

	src, err := inspector.Probe(ctx, sourcePath)
	if err != nil {
		return fmt.Errorf("failed to probe %s: %w", sourcePath, err)
	}

	w, h := src.DisplayDimensions()
	fmt.Fprintf(output, "Source:     %s\n", sourcePath)
	fmt.Fprintf(output, "Duration:   %.3fs\n", float64(src.DurationMs)/1000)
	fmt.Fprintf(output, "Dimensions: %dx%d", w, h)
	if src.Rotation != 0 {
		fmt.Fprintf(output, " (rotated %d°)", src.Rotation)
	}
	fmt.Fprintln(output)
	fmt.Fprintf(output, "Frame rate: %.3f fps\n", src.EffectiveFrameRate())
	if src.Codec != "" {
		fmt.Fprintf(output, "Codec:      %s\n", src.Codec)
	}
	if src.SizeBytes > 0 {
		fmt.Fprintf(output, "Size:       %.1f MB\n", float64(src.SizeBytes)/(1024*1024))
	}

	if len(src.Streams) == 0 {
		return nil
	}
	fmt.Fprintln(output)
	tw := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTYPE\tCODEC\tDETAILS")
	for _, s := range src.Streams {
		details := ""
		if s.Type == extraction.StreamAudio {
			details = fmt.Sprintf("%d Hz, %d ch", s.SampleRate, s.Channels)
			if s.Language != "" {
				details += ", " + s.Language
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Index, s.Type, s.Codec, details)
	}
	return tw.Flush()
}
