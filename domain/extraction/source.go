package extraction

import (
	"path/filepath"
	"regexp"
	"strings"
)

// StreamType classifies a stream of the source container
type StreamType string

const (
	StreamVideo    StreamType = "video"
	StreamAudio    StreamType = "audio"
	StreamSubtitle StreamType = "subtitle"
	StreamData     StreamType = "data"
)

// DefaultFrameRate is assumed when the inspector cannot report one
const DefaultFrameRate = 30.0

// Stream is one entry of the source's stream layout
type Stream struct {
	Index      int        `yaml:"index"`
	Type       StreamType `yaml:"type"`
	Codec      string     `yaml:"codec"`
	SampleRate int        `yaml:"sample_rate,omitempty"`
	Channels   int        `yaml:"channels,omitempty"`
	BitRate    int64      `yaml:"bit_rate,omitempty"`
	Language   string     `yaml:"language,omitempty"`
}

// SourceDescriptor is what the media inspector learned about a source.
// It is captured once per job and not modified afterwards.
type SourceDescriptor struct {
	DurationMs int64    `yaml:"duration_ms"`
	Width      int      `yaml:"width"`
	Height     int      `yaml:"height"`
	FrameRate  float64  `yaml:"frame_rate"`
	BitRate    int64    `yaml:"bit_rate,omitempty"`
	Codec      string   `yaml:"codec,omitempty"`
	Rotation   int      `yaml:"rotation,omitempty"`
	SizeBytes  int64    `yaml:"size_bytes,omitempty"`
	Streams    []Stream `yaml:"streams"`
}

// EffectiveFrameRate returns FrameRate or DefaultFrameRate when unknown
func (s SourceDescriptor) EffectiveFrameRate() float64 {
	if s.FrameRate <= 0 {
		return DefaultFrameRate
	}
	return s.FrameRate
}

// AudioStreams returns the audio entries of the stream layout in container order
func (s SourceDescriptor) AudioStreams() []Stream {
	var out []Stream
	for _, st := range s.Streams {
		if st.Type == StreamAudio {
			out = append(out, st)
		}
	}
	return out
}

// HasVideo reports whether the layout contains a video stream.
// An empty layout is assumed to be video-only.
func (s SourceDescriptor) HasVideo() bool {
	if len(s.Streams) == 0 {
		return true
	}
	for _, st := range s.Streams {
		if st.Type == StreamVideo {
			return true
		}
	}
	return false
}

// DisplayDimensions swaps width and height for sources rotated by 90 or 270 degrees
func (s SourceDescriptor) DisplayDimensions() (int, int) {
	r := ((s.Rotation % 360) + 360) % 360
	if r == 90 || r == 270 {
		return s.Height, s.Width
	}
	return s.Width, s.Height
}

// AspectRatio returns width/height of the displayed picture, 0 when unknown
func (s SourceDescriptor) AspectRatio() float64 {
	w, h := s.DisplayDimensions()
	if w <= 0 || h <= 0 {
		return 0
	}
	return float64(w) / float64(h)
}

// ScaledDimensions fits the displayed picture inside a maxDim box,
// keeping aspect ratio and even sizes. It never upscales.
// ok is false when the source dimensions are unknown.
func (s SourceDescriptor) ScaledDimensions(maxDim int) (w, h int, ok bool) {
	w, h = s.DisplayDimensions()
	if w <= 0 || h <= 0 || maxDim <= 0 {
		return 0, 0, false
	}
	if w > maxDim || h > maxDim {
		if w >= h {
			h = h * maxDim / w
			w = maxDim
		} else {
			w = w * maxDim / h
			h = maxDim
		}
	}
	w, h = even(w), even(h)
	return w, h, true
}

func even(n int) int {
	if n%2 != 0 {
		n--
	}
	if n < 2 {
		return 2
	}
	return n
}

var supportedVideoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".wmv": true,
	".flv": true, ".webm": true, ".m4v": true, ".3gp": true,
}

// IsSupportedVideo reports whether the file extension is a known video container
func IsSupportedVideo(path string) bool {
	return supportedVideoExtensions[strings.ToLower(filepath.Ext(path))]
}

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	repeatedUnders  = regexp.MustCompile(`_+`)
)

const maxSanitizedNameLength = 50

// SanitizeName turns a file name into a safe directory component
func SanitizeName(name string) string {
	name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = repeatedUnders.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > maxSanitizedNameLength {
		name = name[:maxSanitizedNameLength]
	}
	if name == "" {
		return "source"
	}
	return name
}
