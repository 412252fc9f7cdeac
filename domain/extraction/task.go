package extraction

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Kind selects what a job extracts from the source
type Kind string

const (
	KindFrames Kind = "frames"
	KindAudio  Kind = "audio"
)

// ParseKind parses a job kind name
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFrames, KindAudio:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown extraction kind %q (expected frames or audio)", s)
}

// Task is one engine invocation. Tasks of a job are planned once, in
// ascending order, and never modified.
type Task struct {
	Index       int
	Kind        Kind
	TimestampMs int64
	StreamIndex int
	OutputPath  string
}

// AudioSubdirectory holds extracted audio tracks inside the output directory
const AudioSubdirectory = "audio"

// FrameFileName returns the output name of the frame at index
func FrameFileName(index int) string {
	return fmt.Sprintf("frame_%06d.jpg", index)
}

// AudioFileName returns the output name of the audio track at stream
func AudioFileName(stream int, format string) string {
	return fmt.Sprintf("audio_track_%d.%s", stream, format)
}

// PlanFrameTasks creates one task per timestamp, writing into dir
func PlanFrameTasks(timestamps []int64, dir string) []Task {
	tasks := make([]Task, len(timestamps))
	for i, ts := range timestamps {
		tasks[i] = Task{
			Index:       i,
			Kind:        KindFrames,
			TimestampMs: ts,
			OutputPath:  filepath.Join(dir, FrameFileName(i)),
		}
	}
	return tasks
}

// PlanAudioTasks creates one task per audio stream ordinal, writing into dir
func PlanAudioTasks(streams []int, dir, format string) []Task {
	tasks := make([]Task, len(streams))
	for i, s := range streams {
		tasks[i] = Task{
			Index:       i,
			Kind:        KindAudio,
			StreamIndex: s,
			OutputPath:  filepath.Join(dir, AudioFileName(s, format)),
		}
	}
	return tasks
}

// Batches splits tasks into consecutive groups of at most size
func Batches(tasks []Task, size int) [][]Task {
	if size <= 0 {
		size = 1
	}
	var out [][]Task
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		out = append(out, tasks[start:end])
	}
	return out
}

// CancelFlag is the cooperative cancellation token shared by every task of
// a job. Setting it never interrupts a running engine invocation.
// The zero value is ready to use.
type CancelFlag struct {
	requested atomic.Bool
	once      sync.Once
	mu        sync.Mutex
	done      chan struct{}
}

// Cancel requests cancellation
func (f *CancelFlag) Cancel() {
	if f == nil {
		return
	}
	f.requested.Store(true)
	f.once.Do(func() { close(f.channel()) })
}

// Requested reports whether cancellation was requested. A nil flag never is.
func (f *CancelFlag) Requested() bool {
	return f != nil && f.requested.Load()
}

// Done is closed once Cancel is called. A nil flag returns a nil channel.
func (f *CancelFlag) Done() <-chan struct{} {
	if f == nil {
		return nil
	}
	return f.channel()
}

func (f *CancelFlag) channel() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done == nil {
		f.done = make(chan struct{})
	}
	return f.done
}
