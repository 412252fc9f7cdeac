package cmd

import (
	"vidextract/domain/extraction"

	"github.com/spf13/cobra"
)

var framesFlags extractFlags

var extractFramesCmd = &cobra.Command{
	Use:   "extract-frames",
	Short: "Extract still frames from a video file",
	Long: `Extract JPEG frames from a video file.

By default every frame is extracted at full quality. Use --interval to sample
one frame every N milliseconds, --timestamps to pick exact offsets, or a
preset for common combinations.

Frames are written to <output>/<quality>/frame_000000.jpg, frame_000001.jpg, ...

Example:
  vidextract extract-frames --source lecture.mp4
  vidextract extract-frames --source lecture.mp4 --preset every-5s
  vidextract extract-frames --source lecture.mp4 --quality thumbnail
  vidextract extract-frames --source lecture.mp4 --timestamps 0,1500,90000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtractCommand(cmd, framesFlags.input(extraction.KindFrames))
	},
}

func init() {
	rootCmd.AddCommand(extractFramesCmd)
	framesFlags.register(extractFramesCmd, extraction.KindFrames)
}
