package ffmpeg

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"vidextract/domain/extraction"
)

// mockRunner records calls and returns canned errors
type mockRunner struct {
	name      string
	args      []string
	runErr    error
	output    []byte
	outputErr error
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) error {
	m.name = name
	m.args = args
	return m.runErr
}

func (m *mockRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.outputErr
}

func TestBuildArgs_Frames(t *testing.T) {
	args, err := BuildArgs(extraction.Command{
		Kind:          extraction.KindFrames,
		InputPath:     "/work/job/source.mp4",
		OutputPath:    "/out/full/frame_000003.jpg",
		TelemetryPath: "/work/job/progress_3.txt",
		SeekMs:        1500,
		ScaleWidth:    1280,
		ScaleHeight:   720,
		QScale:        5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-ss", "1.500", "-i", "/work/job/source.mp4", "-frames:v", "1",
		"-vf", "scale=1280:720",
		"-q:v", "5",
		"-progress", "/work/job/progress_3.txt", "-stats_period", "0.1",
		"/out/full/frame_000003.jpg",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("got  %v\nwant %v", args, want)
	}
}

func TestBuildArgs_FramesBoundedScale(t *testing.T) {
	args, err := BuildArgs(extraction.Command{
		Kind:         extraction.KindFrames,
		InputPath:    "in.mp4",
		OutputPath:   "out.jpg",
		MaxDimension: 320,
	})
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-vf scale=w='min(iw,320)':h='min(ih,320)':force_original_aspect_ratio=decrease") {
		t.Errorf("missing bounded scale filter: %s", joined)
	}
	if strings.Contains(joined, "-progress") {
		t.Errorf("no telemetry path should mean no -progress: %s", joined)
	}
	if !strings.Contains(joined, "-ss 0.000") {
		t.Errorf("expected seek to zero: %s", joined)
	}
}

func TestBuildArgs_Audio(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		bitrate string
		want    []string
		absent  string
	}{
		{name: "mp3 with bitrate", format: "mp3", bitrate: "192k", want: []string{"-c:a", "libmp3lame", "-b:a", "192k"}},
		{name: "default format is mp3", format: "", bitrate: "128k", want: []string{"-c:a", "libmp3lame", "-b:a", "128k"}},
		{name: "wav ignores bitrate", format: "wav", bitrate: "192k", want: []string{"-c:a", "pcm_s16le"}, absent: "-b:a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := BuildArgs(extraction.Command{
				Kind:         extraction.KindAudio,
				InputPath:    "in.mkv",
				OutputPath:   "audio_track_1." + tt.format,
				StreamIndex:  1,
				AudioFormat:  tt.format,
				AudioBitrate: tt.bitrate,
			})
			if err != nil {
				t.Fatal(err)
			}
			joined := strings.Join(args, " ")
			if !strings.Contains(joined, "-map 0:a:1 -vn") {
				t.Errorf("missing stream selection: %s", joined)
			}
			if !strings.Contains(joined, strings.Join(tt.want, " ")) {
				t.Errorf("expected %v in %s", tt.want, joined)
			}
			if tt.absent != "" && strings.Contains(joined, tt.absent) {
				t.Errorf("unexpected %s in %s", tt.absent, joined)
			}
		})
	}
}

func TestBuildArgs_Invalid(t *testing.T) {
	tests := []extraction.Command{
		{Kind: extraction.KindFrames, OutputPath: "out.jpg"},
		{Kind: "subtitles", InputPath: "in", OutputPath: "out"},
		{Kind: extraction.KindAudio, InputPath: "in", OutputPath: "out", AudioFormat: "flac"},
	}
	for _, cmd := range tests {
		if _, err := BuildArgs(cmd); err == nil {
			t.Errorf("expected error for %+v", cmd)
		}
	}
}

func TestInvoker_Invoke(t *testing.T) {
	runner := &mockRunner{}
	inv := NewInvoker(WithFFmpegPath("/opt/ffmpeg"), WithCommandRunner(runner))

	out := inv.Invoke(context.Background(), extraction.Command{
		Kind:       extraction.KindFrames,
		InputPath:  "in.mp4",
		OutputPath: "out.jpg",
	})
	if !out.Succeeded() {
		t.Fatalf("expected success, got %s", out.Summary())
	}
	if runner.name != "/opt/ffmpeg" {
		t.Errorf("expected custom path, got %s", runner.name)
	}
}

func TestInvoker_Invoke_ExitCode(t *testing.T) {
	runner := &mockRunner{runErr: &ExitError{
		Code:   1,
		Stderr: "line one\n\nInvalid data found when processing input\nConversion failed!\n",
	}}
	inv := NewInvoker(WithCommandRunner(runner))

	out := inv.Invoke(context.Background(), extraction.Command{
		Kind:       extraction.KindFrames,
		InputPath:  "in.mp4",
		OutputPath: "out.jpg",
	})
	if out.Succeeded() {
		t.Fatal("expected failure")
	}
	if out.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", out.ExitCode)
	}
	want := "line one; Invalid data found when processing input; Conversion failed!"
	if out.Diagnostic != want {
		t.Errorf("diagnostic = %q, want %q", out.Diagnostic, want)
	}
}

func TestInvoker_Invoke_LaunchFailure(t *testing.T) {
	runner := &mockRunner{runErr: errors.New("executable file not found")}
	inv := NewInvoker(WithCommandRunner(runner))

	out := inv.Invoke(context.Background(), extraction.Command{
		Kind:       extraction.KindAudio,
		InputPath:  "in.mp4",
		OutputPath: "out.mp3",
	})
	if out.Err == nil || !strings.Contains(out.Summary(), "executable file not found") {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestInvoker_Invoke_InvalidCommand(t *testing.T) {
	runner := &mockRunner{}
	inv := NewInvoker(WithCommandRunner(runner))

	out := inv.Invoke(context.Background(), extraction.Command{Kind: extraction.KindFrames})
	if out.Succeeded() {
		t.Fatal("expected failure")
	}
	if runner.name != "" {
		t.Error("runner must not be called for an invalid command")
	}
}

func TestInvoker_VerifyInstalled(t *testing.T) {
	runner := &mockRunner{output: []byte("ffmpeg version 6.1")}
	inv := NewInvoker(WithCommandRunner(runner))
	if err := inv.VerifyInstalled(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(runner.args, []string{"-version"}) {
		t.Errorf("unexpected args %v", runner.args)
	}

	runner.outputErr = errors.New("not found")
	if err := inv.VerifyInstalled(context.Background()); err == nil {
		t.Error("expected error when ffmpeg is missing")
	}
}

func TestTailBuffer_Write(t *testing.T) {
	b := &tailBuffer{limit: 8}
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("ab"))
	if got := b.String(); got != "456789ab" {
		t.Errorf("got %q", got)
	}
}

func TestFileTelemetry_Open(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.txt")

	_, err := FileTelemetry{}.Open(path)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist before the file exists, got %v", err)
	}

	if err := os.WriteFile(path, []byte("out_time_us=1000\nprogress=end\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rc, err := FileTelemetry{}.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !strings.Contains(string(data), "progress=end") {
		t.Errorf("unexpected content %q", data)
	}
}
