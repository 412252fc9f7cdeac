package extraction

import (
	"context"
	"io"
	"strconv"
	"strings"
)

// Command is one request to the transcoding engine. The adapter turns it
// into engine flags; nothing else interprets them.
type Command struct {
	Kind          Kind
	InputPath     string
	OutputPath    string
	TelemetryPath string

	// Frame filters
	SeekMs       int64
	ScaleWidth   int
	ScaleHeight  int
	MaxDimension int
	QScale       int

	// Audio selection
	StreamIndex  int
	AudioFormat  string
	AudioBitrate string
}

// InvokeOutcome is what the engine reported for a Command
type InvokeOutcome struct {
	ExitCode   int
	Diagnostic string
	Err        error
}

// Succeeded reports a zero exit code without a launch error
func (o InvokeOutcome) Succeeded() bool {
	return o.Err == nil && o.ExitCode == 0
}

// Summary returns a one-line failure description
func (o InvokeOutcome) Summary() string {
	var parts []string
	if o.Err != nil {
		parts = append(parts, o.Err.Error())
	}
	if o.ExitCode != 0 {
		parts = append(parts, "exit code "+strconv.Itoa(o.ExitCode))
	}
	if d := strings.TrimSpace(o.Diagnostic); d != "" {
		parts = append(parts, d)
	}
	if len(parts) == 0 {
		return "engine reported success"
	}
	return strings.Join(parts, ": ")
}

// TranscodeInvoker runs one engine command to completion
type TranscodeInvoker interface {
	Invoke(ctx context.Context, cmd Command) InvokeOutcome
}

// TelemetryReader opens the side channel the engine writes progress to.
// Open returns an error matching fs.ErrNotExist until the engine creates it.
type TelemetryReader interface {
	Open(path string) (io.ReadCloser, error)
}

// MediaInspector probes a source for its duration, dimensions and streams
type MediaInspector interface {
	Probe(ctx context.Context, path string) (SourceDescriptor, error)
}

// SourceStager copies a source into the working directory.
// A missing source yields an error wrapping ErrSourceNotFound.
type SourceStager interface {
	Stage(ctx context.Context, src, dst string) error
}

// FrameVerifier checks a produced frame decodes and fits maxDimension
type FrameVerifier interface {
	Verify(path string, maxDimension int) error
}
