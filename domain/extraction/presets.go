package extraction

import (
	"fmt"
	"sort"
)

// Default returns the balanced configuration: every frame at full quality
func Default() Config {
	return Config{
		QualityLevel:           QualityFull,
		JPEGQuality:            DefaultJPEGQuality,
		MaxFrameDimension:      DefaultMaxFrameDimension,
		ExtractAllFrames:       true,
		FrameIntervalMs:        DefaultFrameIntervalMs,
		BatchSize:              DefaultBatchSize,
		CleanupOnError:         true,
		ProgressUpdateInterval: DefaultProgressUpdateInterval,
		AudioFormat:            AudioFormatMP3,
		AudioBitrate:           DefaultAudioBitrate,
	}
}

// HighQuality trades disk space for larger, sharper frames
func HighQuality() Config {
	c := Default()
	c.JPEGQuality = 95
	c.MaxFrameDimension = 2160
	return c
}

// MemoryOptimized keeps frames small and batches narrow
func MemoryOptimized() Config {
	c := Default()
	c.JPEGQuality = 75
	c.MaxFrameDimension = 1280
	c.BatchSize = 25
	return c
}

// Sampled extracts one frame every intervalMs milliseconds
func Sampled(intervalMs int64) Config {
	c := Default()
	c.ExtractAllFrames = false
	c.FrameIntervalMs = intervalMs
	return c
}

// FromTimestamps extracts frames at the given offsets only. The list is
// never nil, so an empty one fails Validate instead of falling back to
// interval sampling.
func FromTimestamps(timestamps []int64) Config {
	c := Default()
	c.ExtractAllFrames = false
	c.CustomTimestamps = append([]int64{}, timestamps...)
	return c
}

// ForQuality returns a config tuned for the given output tier
func ForQuality(level QualityLevel) Config {
	switch level {
	case QualityThumbnail:
		c := Sampled(10000)
		c.QualityLevel = QualityThumbnail
		c.JPEGQuality = 70
		c.MaxFrameDimension = 320
		return c
	case QualityPreview:
		c := Sampled(5000)
		c.QualityLevel = QualityPreview
		c.JPEGQuality = 80
		c.MaxFrameDimension = 720
		return c
	default:
		return Default()
	}
}

var namedPresets = map[string]func() Config{
	"high-quality":     HighQuality,
	"balanced":         Default,
	"memory-optimized": MemoryOptimized,
	"every-5s":         func() Config { return Sampled(5000) },
	"every-10s":        func() Config { return Sampled(10000) },
	"every-30s":        func() Config { return Sampled(30000) },
	"thumbnail":        func() Config { return ForQuality(QualityThumbnail) },
	"preview":          func() Config { return ForQuality(QualityPreview) },
}

// Named looks up a preset by its CLI name
func Named(name string) (Config, error) {
	factory, ok := namedPresets[name]
	if !ok {
		return Config{}, fmt.Errorf("unknown preset %q (available: %v)", name, PresetNames())
	}
	return factory(), nil
}

// PresetNames lists the names accepted by Named, sorted
func PresetNames() []string {
	names := make([]string, 0, len(namedPresets))
	for name := range namedPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
