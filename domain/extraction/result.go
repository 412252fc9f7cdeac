package extraction

import "fmt"

// Outcome is the stable tag of a Result variant
type Outcome string

const (
	OutcomeSuccess              Outcome = "success"
	OutcomeProgress             Outcome = "progress"
	OutcomeError                Outcome = "error"
	OutcomeCancelled            Outcome = "cancelled"
	OutcomeInsufficientStorage  Outcome = "insufficient_storage"
	OutcomeSourceNotFound       Outcome = "source_not_found"
	OutcomeNoExtractableStreams Outcome = "no_extractable_streams"
)

// Result is exactly one of Success, Progress, Error, Cancelled,
// InsufficientStorage, SourceNotFound or NoExtractableStreams.
// Every job produces one terminal Result, after any number of Progress events.
type Result interface {
	Outcome() Outcome
	sealed()
}

// ErrorKind classifies an Error for retry decisions
type ErrorKind string

const (
	ErrorConfig       ErrorKind = "config"
	ErrorPrecondition ErrorKind = "precondition"
	ErrorTransient    ErrorKind = "transient"
)

// NoFailedIndex marks an Error that is not tied to a task
const NoFailedIndex = -1

// AudioTrack describes one extracted audio track
type AudioTrack struct {
	Index      int    `yaml:"index"`
	Codec      string `yaml:"codec"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BitRate    int64  `yaml:"bit_rate"`
	Path       string `yaml:"path"`
}

type Success struct {
	OutputDirectory string
	TotalCount      int
	Paths           []string
	AudioTracks     []AudioTrack
}

// Progress is advisory and never terminal
type Progress struct {
	Current     int     `yaml:"current"`
	Total       int     `yaml:"total"`
	Percentage  float64 `yaml:"percentage"`
	TimestampMs int64   `yaml:"timestamp_ms"`
}

type Error struct {
	Message     string
	FailedIndex int
	Kind        ErrorKind
}

type Cancelled struct {
	Completed int
}

type InsufficientStorage struct {
	RequiredBytes  uint64
	AvailableBytes uint64
}

type SourceNotFound struct {
	Path string
}

type NoExtractableStreams struct {
	Reason string
}

func (Success) Outcome() Outcome              { return OutcomeSuccess }
func (Progress) Outcome() Outcome             { return OutcomeProgress }
func (Error) Outcome() Outcome                { return OutcomeError }
func (Cancelled) Outcome() Outcome            { return OutcomeCancelled }
func (InsufficientStorage) Outcome() Outcome  { return OutcomeInsufficientStorage }
func (SourceNotFound) Outcome() Outcome       { return OutcomeSourceNotFound }
func (NoExtractableStreams) Outcome() Outcome { return OutcomeNoExtractableStreams }

func (Success) sealed()              {}
func (Progress) sealed()             {}
func (Error) sealed()                {}
func (Cancelled) sealed()            {}
func (InsufficientStorage) sealed()  {}
func (SourceNotFound) sealed()       {}
func (NoExtractableStreams) sealed() {}

// TaskError reports a failed task
func TaskError(index int, format string, args ...any) Error {
	return Error{Message: fmt.Sprintf(format, args...), FailedIndex: index, Kind: ErrorTransient}
}

// JobError reports a failure that is not tied to a task
func JobError(kind ErrorKind, format string, args ...any) Error {
	return Error{Message: fmt.Sprintf(format, args...), FailedIndex: NoFailedIndex, Kind: kind}
}

// HasFailedIndex reports whether the error names a task
func (e Error) HasFailedIndex() bool {
	return e.FailedIndex >= 0
}

// Describe renders the result for humans
func Describe(r Result) string {
	switch v := r.(type) {
	case Success:
		return fmt.Sprintf("extracted %d item(s) into %s", v.TotalCount, v.OutputDirectory)
	case Progress:
		return fmt.Sprintf("%d/%d (%.0f%%)", v.Current, v.Total, v.Percentage*100)
	case Error:
		if v.HasFailedIndex() {
			return fmt.Sprintf("error at task %d: %s", v.FailedIndex, v.Message)
		}
		return "error: " + v.Message
	case Cancelled:
		return fmt.Sprintf("cancelled after %d task(s)", v.Completed)
	case InsufficientStorage:
		return fmt.Sprintf("insufficient storage: need %d bytes, %d available", v.RequiredBytes, v.AvailableBytes)
	case SourceNotFound:
		return "source not found: " + v.Path
	case NoExtractableStreams:
		return "no extractable streams: " + v.Reason
	case nil:
		return "no result"
	}
	return string(r.Outcome())
}

// IsTerminal reports whether r ends a job
func IsTerminal(r Result) bool {
	return r != nil && r.Outcome() != OutcomeProgress
}

// Retryable reports whether a job ending in r may be retried.
// Only transient execution errors qualify.
func Retryable(r Result) bool {
	e, ok := r.(Error)
	return ok && e.Kind == ErrorTransient
}
