package extraction

import "fmt"

// ResultRecord is the persisted form of a terminal Result
type ResultRecord struct {
	Outcome         Outcome      `yaml:"outcome"`
	OutputDirectory string       `yaml:"output_directory,omitempty"`
	TotalCount      int          `yaml:"total_count,omitempty"`
	Paths           []string     `yaml:"paths,omitempty"`
	AudioTracks     []AudioTrack `yaml:"audio_tracks,omitempty"`
	Message         string       `yaml:"message,omitempty"`
	FailedIndex     int          `yaml:"failed_index"`
	ErrorKind       ErrorKind    `yaml:"error_kind,omitempty"`
	RequiredBytes   uint64       `yaml:"required_bytes,omitempty"`
	AvailableBytes  uint64       `yaml:"available_bytes,omitempty"`
	Path            string       `yaml:"path,omitempty"`
	Completed       int          `yaml:"completed,omitempty"`
}

// EncodeResult converts a terminal result for persistence
func EncodeResult(r Result) (ResultRecord, error) {
	rec := ResultRecord{FailedIndex: NoFailedIndex}
	switch v := r.(type) {
	case Success:
		rec.Outcome = OutcomeSuccess
		rec.OutputDirectory = v.OutputDirectory
		rec.TotalCount = v.TotalCount
		rec.Paths = v.Paths
		rec.AudioTracks = v.AudioTracks
	case Error:
		rec.Outcome = OutcomeError
		rec.Message = v.Message
		rec.FailedIndex = v.FailedIndex
		rec.ErrorKind = v.Kind
	case Cancelled:
		rec.Outcome = OutcomeCancelled
		rec.Completed = v.Completed
	case InsufficientStorage:
		rec.Outcome = OutcomeInsufficientStorage
		rec.RequiredBytes = v.RequiredBytes
		rec.AvailableBytes = v.AvailableBytes
	case SourceNotFound:
		rec.Outcome = OutcomeSourceNotFound
		rec.Path = v.Path
	case NoExtractableStreams:
		rec.Outcome = OutcomeNoExtractableStreams
		rec.Message = v.Reason
	default:
		return ResultRecord{}, fmt.Errorf("cannot persist non-terminal result %T", r)
	}
	return rec, nil
}

// DecodeResult restores the Result a record was encoded from
func DecodeResult(rec ResultRecord) (Result, error) {
	switch rec.Outcome {
	case OutcomeSuccess:
		return Success{
			OutputDirectory: rec.OutputDirectory,
			TotalCount:      rec.TotalCount,
			Paths:           rec.Paths,
			AudioTracks:     rec.AudioTracks,
		}, nil
	case OutcomeError:
		return Error{Message: rec.Message, FailedIndex: rec.FailedIndex, Kind: rec.ErrorKind}, nil
	case OutcomeCancelled:
		return Cancelled{Completed: rec.Completed}, nil
	case OutcomeInsufficientStorage:
		return InsufficientStorage{RequiredBytes: rec.RequiredBytes, AvailableBytes: rec.AvailableBytes}, nil
	case OutcomeSourceNotFound:
		return SourceNotFound{Path: rec.Path}, nil
	case OutcomeNoExtractableStreams:
		return NoExtractableStreams{Reason: rec.Message}, nil
	}
	return nil, fmt.Errorf("unknown result outcome %q", rec.Outcome)
}
