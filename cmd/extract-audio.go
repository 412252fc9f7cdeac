package cmd

import (
	"vidextract/domain/extraction"

	"github.com/spf13/cobra"
)

var audioFlags extractFlags

var extractAudioCmd = &cobra.Command{
	Use:   "extract-audio",
	Short: "Extract audio tracks from a video file",
	Long: `Extract every audio track of a video file to MP3 or WAV.

Tracks are written to <output>/audio/audio_track_<n>.<format>.

Example:
  vidextract extract-audio --source lecture.mp4
  vidextract extract-audio --source lecture.mkv --format wav
  vidextract extract-audio --source lecture.mp4 --bitrate 128k`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtractCommand(cmd, audioFlags.input(extraction.KindAudio))
	},
}

func init() {
	rootCmd.AddCommand(extractAudioCmd)
	audioFlags.register(extractAudioCmd, extraction.KindAudio)
}
