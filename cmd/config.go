package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"vidextract/domain/extraction"
	"vidextract/infrastructure/config"

	"github.com/spf13/cobra"
)

// DefaultOutput is the default output writer for config commands
var DefaultOutput io.Writer = os.Stdout

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage extraction presets",
	Long: `Manage named extraction presets and the default extraction settings in
the configuration file. Built-in presets can be used but not changed.

Examples:
  vidextract config list presets
  vidextract config add preset --name slides --interval 2000 --jpeg-quality 90
  vidextract config update default --from every-10s
  vidextract config remove preset slides`,
}

// presetFlags describe a preset as overrides on top of --from
type presetFlags struct {
	name string
	opts ExtractionOptions
}

func (f *presetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Preset name (lowercase letters, digits and dashes)")
	cmd.Flags().StringVar(&f.opts.Preset, "from", "", "Preset to start from (default balanced, or the preset itself on update)")
	cmd.Flags().StringVar(&f.opts.Quality, "quality", "", "Quality level: thumbnail, preview or full")
	cmd.Flags().IntVar(&f.opts.JPEGQuality, "jpeg-quality", 0, "JPEG quality 1-100")
	cmd.Flags().IntVar(&f.opts.MaxDimension, "max-dimension", 0, "Largest frame side in pixels")
	cmd.Flags().Int64Var(&f.opts.IntervalMs, "interval", 0, "Extract one frame every N milliseconds")
	cmd.Flags().BoolVar(&f.opts.AllFrames, "all-frames", false, "Extract every frame")
	cmd.Flags().Int64SliceVar(&f.opts.Timestamps, "timestamps", nil, "Extract frames at these millisecond offsets")
	cmd.Flags().IntVar(&f.opts.BatchSize, "batch-size", 0, "Engine invocations run in parallel per batch")
	cmd.Flags().StringVar(&f.opts.AudioFormat, "format", "", "Audio format: mp3 or wav")
	cmd.Flags().StringVar(&f.opts.AudioBitrate, "bitrate", "", "MP3 bitrate, e.g. 192k")
	cmd.Flags().BoolVar(&f.opts.NoCleanup, "keep-partial", false, "Keep partial output when a job fails")
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configAddCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configRemoveCmd)
	configCmd.AddCommand(configUpdateCmd)
}

// --- ADD command ---

var addFlags presetFlags

var configAddCmd = &cobra.Command{
	Use:   "add preset",
	Short: "Add a custom preset",
	Long: `Add a named extraction preset built from --from plus the given overrides.

Examples:
  vidextract config add preset --name slides --interval 2000 --jpeg-quality 90
  vidextract config add preset --name tiny --from thumbnail --max-dimension 160`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		return RunConfigAddWithDependencies(cfg, cfgFile, args[0], addFlags.name, addFlags.opts, DefaultOutput)
	},
}

func init() {
	addFlags.register(configAddCmd)
	configAddCmd.MarkFlagRequired("name")
}

// RunConfigAddWithDependencies runs the add command with injected dependencies
func RunConfigAddWithDependencies(cfg *config.Config, configPath, entityType, name string, opts ExtractionOptions, out io.Writer) error {
	if entityType != "preset" {
		return fmt.Errorf("unknown entity type %q. Use preset", entityType)
	}
	if opts.Preset == "" {
		opts.Preset = "balanced"
	}
	preset, err := ResolveExtractionConfig(cfg, opts)
	if err != nil {
		return err
	}

	mgr := config.NewConfigManager(cfg, configPath)
	if err := mgr.AddPreset(name, preset); err != nil {
		return err
	}
	fmt.Fprintf(out, "Added preset %q: %s\n", strings.ToLower(name), describeConfig(preset))
	return nil
}

// --- LIST command ---

var configListCmd = &cobra.Command{
	Use:   "list presets",
	Short: "List presets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		return RunConfigListWithDependencies(cfg, cfgFile, args[0], DefaultOutput)
	},
}

// RunConfigListWithDependencies runs the list command with injected dependencies
func RunConfigListWithDependencies(cfg *config.Config, configPath, entityType string, out io.Writer) error {
	if entityType != "presets" && entityType != "preset" {
		return fmt.Errorf("unknown entity type %q. Use presets", entityType)
	}

	mgr := config.NewConfigManager(cfg, configPath)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tSETTINGS")
	fmt.Fprintf(w, "(default)\tconfig\t%s\n", describeConfig(cfg.Extraction))
	for _, p := range mgr.ListPresets() {
		source := "custom"
		if p.Builtin {
			source = "built-in"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, source, describeConfig(p.Config))
	}
	return w.Flush()
}

// --- REMOVE command ---

var configRemoveCmd = &cobra.Command{
	Use:   "remove preset <name>",
	Short: "Remove a custom preset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		return RunConfigRemoveWithDependencies(cfg, cfgFile, args[0], args[1], DefaultOutput)
	},
}

// RunConfigRemoveWithDependencies runs the remove command with injected dependencies
func RunConfigRemoveWithDependencies(cfg *config.Config, configPath, entityType, name string, out io.Writer) error {
	if entityType != "preset" {
		return fmt.Errorf("unknown entity type %q. Use preset", entityType)
	}
	mgr := config.NewConfigManager(cfg, configPath)
	if err := mgr.RemovePreset(name); err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed preset %q\n", name)
	return nil
}

// --- UPDATE command ---

var updateFlags presetFlags

var configUpdateCmd = &cobra.Command{
	Use:   "update [preset|default]",
	Short: "Update a custom preset or the default settings",
	Long: `Update a custom preset, or the default extraction settings used when no
--preset is given.

Examples:
  vidextract config update preset --name slides --interval 3000
  vidextract config update default --from high-quality`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		return RunConfigUpdateWithDependencies(cfg, cfgFile, args[0], updateFlags.name, updateFlags.opts, DefaultOutput)
	},
}

func init() {
	updateFlags.register(configUpdateCmd)
}

// RunConfigUpdateWithDependencies runs the update command with injected dependencies
func RunConfigUpdateWithDependencies(cfg *config.Config, configPath, entityType, name string, opts ExtractionOptions, out io.Writer) error {
	mgr := config.NewConfigManager(cfg, configPath)

	switch entityType {
	case "preset":
		if name == "" {
			return fmt.Errorf("--name is required for presets")
		}
		if opts.Preset == "" {
			opts.Preset = name
		}
		updated, err := ResolveExtractionConfig(cfg, opts)
		if err != nil {
			return err
		}
		if err := mgr.UpdatePreset(name, updated); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated preset %q: %s\n", name, describeConfig(updated))

	case "default":
		updated, err := ResolveExtractionConfig(cfg, opts)
		if err != nil {
			return err
		}
		if err := mgr.SetDefaultExtraction(updated); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated default extraction: %s\n", describeConfig(updated))

	default:
		return fmt.Errorf("unknown entity type %q. Use preset or default", entityType)
	}
	return nil
}

// describeConfig renders the fields that distinguish presets
func describeConfig(c extraction.Config) string {
	var sampling string
	switch c.SamplingStrategy() {
	case extraction.SampleCustomTimestamps:
		sampling = fmt.Sprintf("%d timestamps", len(c.CustomTimestamps))
	case extraction.SampleAllFrames:
		sampling = "all frames"
	default:
		sampling = fmt.Sprintf("every %dms", c.FrameIntervalMs)
	}
	return fmt.Sprintf("%s, %s, jpeg %d, max %dpx, batch %d, audio %s/%s",
		c.QualityLevel.Subdirectory(), sampling, c.JPEGQuality, c.MaxFrameDimension, c.BatchSize,
		c.ResolvedAudioFormat(), c.ResolvedAudioBitrate())
}
