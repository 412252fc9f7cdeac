package extraction

import "errors"

var (
	// ErrInvalidConfig is wrapped by every ValidationError
	ErrInvalidConfig = errors.New("invalid extraction configuration")

	// ErrInvalidDuration is returned when the source reports no duration
	ErrInvalidDuration = errors.New("invalid source duration")

	// ErrSourceNotFound is returned by stagers when the source does not exist
	ErrSourceNotFound = errors.New("source not found")
)
