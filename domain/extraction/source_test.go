package extraction

import "testing"

func TestSourceDescriptor_ScaledDimensions(t *testing.T) {
	tests := []struct {
		name         string
		src          SourceDescriptor
		maxDim       int
		wantW, wantH int
		wantOK       bool
	}{
		{name: "landscape downscale", src: SourceDescriptor{Width: 3840, Height: 2160}, maxDim: 1920, wantW: 1920, wantH: 1080, wantOK: true},
		{name: "portrait downscale", src: SourceDescriptor{Width: 1080, Height: 1920}, maxDim: 1280, wantW: 720, wantH: 1280, wantOK: true},
		{name: "never upscales", src: SourceDescriptor{Width: 640, Height: 360}, maxDim: 1920, wantW: 640, wantH: 360, wantOK: true},
		{name: "rotated source swaps", src: SourceDescriptor{Width: 1920, Height: 1080, Rotation: 90}, maxDim: 960, wantW: 540, wantH: 960, wantOK: true},
		{name: "odd sizes rounded to even", src: SourceDescriptor{Width: 1001, Height: 501}, maxDim: 2000, wantW: 1000, wantH: 500, wantOK: true},
		{name: "unknown dimensions", src: SourceDescriptor{}, maxDim: 1920},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, ok := tt.src.ScaledDimensions(tt.maxDim)
			if ok != tt.wantOK || w != tt.wantW || h != tt.wantH {
				t.Errorf("got %dx%d ok=%v, want %dx%d ok=%v", w, h, ok, tt.wantW, tt.wantH, tt.wantOK)
			}
		})
	}
}

func TestSourceDescriptor_Streams(t *testing.T) {
	src := SourceDescriptor{Streams: []Stream{{Type: StreamAudio}}}
	if src.HasVideo() {
		t.Error("audio-only layout reported video")
	}
	if len(src.AudioStreams()) != 1 {
		t.Error("expected one audio stream")
	}
	if !(SourceDescriptor{}).HasVideo() {
		t.Error("empty layout should be treated as video")
	}
	if (SourceDescriptor{}).EffectiveFrameRate() != DefaultFrameRate {
		t.Error("expected default frame rate")
	}
	if got := (SourceDescriptor{Width: 1920, Height: 1080}).AspectRatio(); got < 1.77 || got > 1.78 {
		t.Errorf("AspectRatio = %v", got)
	}
}

func TestIsSupportedVideo(t *testing.T) {
	for _, name := range []string{"a.mp4", "B.MOV", "c.mkv", "d.3gp", "e.webm"} {
		if !IsSupportedVideo(name) {
			t.Errorf("%s should be supported", name)
		}
	}
	for _, name := range []string{"a.txt", "b", "c.mp3"} {
		if IsSupportedVideo(name) {
			t.Errorf("%s should not be supported", name)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/videos/My Holiday (2024).mp4", want: "My_Holiday_2024"},
		{in: "clip-01.final.mov", want: "clip-01.final"},
		{in: "???.mp4", want: "source"},
		{in: "a very long name that keeps going and going well past fifty characters.mp4", want: "a_very_long_name_that_keeps_going_and_going_well_p"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
