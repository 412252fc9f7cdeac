package extraction

import (
	"reflect"
	"strings"
	"testing"
)

func TestResult_Classification(t *testing.T) {
	tests := []struct {
		name      string
		result    Result
		terminal  bool
		retryable bool
	}{
		{name: "success", result: Success{TotalCount: 1}, terminal: true},
		{name: "progress", result: Progress{Current: 1, Total: 2}},
		{name: "transient error", result: TaskError(3, "engine failed"), terminal: true, retryable: true},
		{name: "config error", result: JobError(ErrorConfig, "bad"), terminal: true},
		{name: "precondition error", result: JobError(ErrorPrecondition, "invalid source duration"), terminal: true},
		{name: "cancelled", result: Cancelled{}, terminal: true},
		{name: "insufficient storage", result: InsufficientStorage{}, terminal: true},
		{name: "source not found", result: SourceNotFound{Path: "/x"}, terminal: true},
		{name: "no streams", result: NoExtractableStreams{}, terminal: true},
		{name: "nil", result: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminal(tt.result); got != tt.terminal {
				t.Errorf("IsTerminal = %v, want %v", got, tt.terminal)
			}
			if got := Retryable(tt.result); got != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got, tt.retryable)
			}
			if Describe(tt.result) == "" {
				t.Error("Describe returned empty string")
			}
		})
	}
}

func TestTaskError_JobError(t *testing.T) {
	e := TaskError(7, "exit %d", 1)
	if !e.HasFailedIndex() || e.FailedIndex != 7 || e.Message != "exit 1" {
		t.Errorf("TaskError = %+v", e)
	}
	if !strings.Contains(Describe(e), "task 7") {
		t.Errorf("Describe = %q", Describe(e))
	}

	j := JobError(ErrorConfig, "invalid")
	if j.HasFailedIndex() {
		t.Error("JobError must not carry a task index")
	}
}

func TestEncodeResult_TerminalVariants(t *testing.T) {
	results := []Result{
		Success{OutputDirectory: "/out", TotalCount: 2, Paths: []string{"/out/a", "/out/b"}},
		Success{OutputDirectory: "/out", TotalCount: 1, Paths: []string{"/out/t.mp3"},
			AudioTracks: []AudioTrack{{Index: 0, Codec: "aac", SampleRate: 48000, Channels: 2, Path: "/out/t.mp3"}}},
		TaskError(4, "engine failed"),
		JobError(ErrorPrecondition, "invalid source duration"),
		Cancelled{Completed: 3},
		InsufficientStorage{RequiredBytes: 10, AvailableBytes: 9},
		SourceNotFound{Path: "/missing.mp4"},
		NoExtractableStreams{Reason: "no audio streams"},
	}

	for _, r := range results {
		rec, err := EncodeResult(r)
		if err != nil {
			t.Fatalf("EncodeResult(%T) error: %v", r, err)
		}
		if rec.Outcome != r.Outcome() {
			t.Errorf("outcome = %s, want %s", rec.Outcome, r.Outcome())
		}
		back, err := DecodeResult(rec)
		if err != nil {
			t.Fatalf("DecodeResult error: %v", err)
		}
		if !reflect.DeepEqual(back, r) {
			t.Errorf("round trip mismatch:\n got %#v\nwant %#v", back, r)
		}
	}
}

func TestEncodeResult_RejectsProgress(t *testing.T) {
	if _, err := EncodeResult(Progress{}); err == nil {
		t.Error("expected error encoding progress")
	}
	if _, err := DecodeResult(ResultRecord{Outcome: "mystery"}); err == nil {
		t.Error("expected error decoding unknown outcome")
	}
}

func TestInvokeOutcome_Summary(t *testing.T) {
	ok := InvokeOutcome{}
	if !ok.Succeeded() {
		t.Error("zero outcome should succeed")
	}

	failed := InvokeOutcome{ExitCode: 1, Diagnostic: "  Invalid data found  \n"}
	if failed.Succeeded() {
		t.Error("non-zero exit should fail")
	}
	if got := failed.Summary(); got != "exit code 1: Invalid data found" {
		t.Errorf("Summary = %q", got)
	}
}
