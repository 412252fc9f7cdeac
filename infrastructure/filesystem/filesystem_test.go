package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"vidextract/domain/extraction"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestStager_Stage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mp4")
	dst := filepath.Join(dir, "work", "job-1", "source.mp4")
	data := bytes.Repeat([]byte("frame-data-"), 50000)
	writeFile(t, src, data)

	if err := NewStager().Stage(context.Background(), src, dst); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read working copy: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("working copy differs from source")
	}
}

func TestStager_Stage_MissingSource(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "work", "source.mp4")

	err := NewStager().Stage(context.Background(), filepath.Join(dir, "missing.mp4"), dst)
	if !errors.Is(err, extraction.ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("working copy should not exist")
	}
}

func TestStager_Stage_Cancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mp4")
	dst := filepath.Join(dir, "work", "source.mp4")
	writeFile(t, src, []byte("data"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewStager().Stage(ctx, src, dst); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("partial working copy was not removed")
	}
}

func TestStager_Stage_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := NewStager().Stage(context.Background(), dir, filepath.Join(dir, "out")); err == nil {
		t.Error("expected error staging a directory")
	}
}

func TestChecker_CheckSource(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	text := filepath.Join(dir, "notes.txt")
	writeFile(t, video, []byte("x"))
	writeFile(t, text, []byte("x"))

	c := NewChecker()
	tests := []struct {
		name        string
		path        string
		wantErr     bool
		wantMissing bool
	}{
		{name: "video file", path: video},
		{name: "missing file", path: filepath.Join(dir, "nope.mp4"), wantErr: true, wantMissing: true},
		{name: "unsupported extension", path: text, wantErr: true},
		{name: "directory", path: dir, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.CheckSource(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckSource error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, extraction.ErrSourceNotFound) != tt.wantMissing {
				t.Errorf("ErrSourceNotFound match = %v, want %v", !tt.wantMissing, tt.wantMissing)
			}
		})
	}

	if !c.Exists(video) || c.Exists(filepath.Join(dir, "nope")) {
		t.Error("Exists returned wrong answer")
	}
}

func TestSpaceProber_AvailableBytes(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skip("free space probing not supported on " + runtime.GOOS)
	}

	dir := t.TempDir()
	avail, err := NewSpaceProber().AvailableBytes(filepath.Join(dir, "not", "created", "yet"))
	if err != nil {
		t.Fatalf("AvailableBytes failed: %v", err)
	}
	if avail == 0 {
		t.Error("expected some free space in temp dir")
	}
}
