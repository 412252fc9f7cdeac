package extraction

import (
	"math"
	"sort"
)

// SamplingStrategy names which rule picks the frame timestamps
type SamplingStrategy string

const (
	SampleCustomTimestamps SamplingStrategy = "custom_timestamps"
	SampleAllFrames        SamplingStrategy = "all_frames"
	SampleInterval         SamplingStrategy = "interval"
)

// SamplingStrategy returns the active strategy. Custom timestamps win over
// all frames, which wins over the fixed interval.
func (c Config) SamplingStrategy() SamplingStrategy {
	switch {
	case c.CustomTimestamps != nil:
		return SampleCustomTimestamps
	case c.ExtractAllFrames:
		return SampleAllFrames
	default:
		return SampleInterval
	}
}

// ResolveFrameTimestamps returns the ordered frame offsets in milliseconds
// for the source. A source without duration yields ErrInvalidDuration.
func (c Config) ResolveFrameTimestamps(src SourceDescriptor) ([]int64, error) {
	if src.DurationMs <= 0 {
		return nil, ErrInvalidDuration
	}

	switch c.SamplingStrategy() {
	case SampleCustomTimestamps:
		out := make([]int64, 0, len(c.CustomTimestamps))
		for _, ts := range c.CustomTimestamps {
			if ts >= 0 && ts < src.DurationMs {
				out = append(out, ts)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out, nil

	case SampleAllFrames:
		rate := src.EffectiveFrameRate()
		count := int64(math.Floor(float64(src.DurationMs) / 1000 * rate))
		out := make([]int64, 0, count)
		for i := int64(0); i < count; i++ {
			out = append(out, FrameTimestampMs(i, rate))
		}
		return out, nil

	default:
		if c.FrameIntervalMs <= 0 {
			return nil, &ValidationError{Field: "frame_interval_ms", Message: "must be greater than 0"}
		}
		out := make([]int64, 0, src.DurationMs/c.FrameIntervalMs+1)
		for ts := int64(0); ts < src.DurationMs; ts += c.FrameIntervalMs {
			out = append(out, ts)
		}
		return out, nil
	}
}

// FrameTimestampMs converts a frame index to its offset, index/frameRate seconds
func FrameTimestampMs(index int64, frameRate float64) int64 {
	if index <= 0 || frameRate <= 0 {
		return 0
	}
	return int64(math.Floor(float64(index) * 1000 / frameRate))
}

// ResolveAudioStreams returns the ordinal positions (0:a:N) of the audio streams
func (c Config) ResolveAudioStreams(src SourceDescriptor) ([]int, error) {
	if src.DurationMs <= 0 {
		return nil, ErrInvalidDuration
	}
	audio := src.AudioStreams()
	out := make([]int, len(audio))
	for i := range audio {
		out[i] = i
	}
	return out, nil
}
