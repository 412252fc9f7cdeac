package jobs

import (
	"errors"
	"fmt"
	"time"

	"vidextract/domain/extraction"
)

// State is a durable job's position in its lifecycle
type State string

const (
	StateEnqueued  State = "enqueued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrAlreadyExists     = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrTerminal          = errors.New("job already finished")
)

// IsTerminal reports whether s is final
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// IsActive reports whether s is Enqueued or Running
func (s State) IsActive() bool {
	return s == StateEnqueued || s == StateRunning
}

var transitions = map[State][]State{
	StateEnqueued: {StateRunning, StateCancelled},
	StateRunning:  {StateSucceeded, StateFailed, StateCancelled, StateEnqueued},
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request is the serialized payload handed to the worker
type Request struct {
	Kind       extraction.Kind             `yaml:"kind"`
	SourcePath string                      `yaml:"source_path"`
	OutputDir  string                      `yaml:"output_dir"`
	Config     extraction.Config           `yaml:"config"`
	Source     extraction.SourceDescriptor `yaml:"source"`
}

// Attempt records one run of a job
type Attempt struct {
	Number     int                `yaml:"number"`
	StartedAt  time.Time          `yaml:"started_at"`
	FinishedAt time.Time          `yaml:"finished_at,omitempty"`
	Outcome    extraction.Outcome `yaml:"outcome,omitempty"`
	Error      string             `yaml:"error,omitempty"`
	RetryDelay time.Duration      `yaml:"retry_delay,omitempty"`
}

// Record is the durable projection of a job
type Record struct {
	ID              string                   `yaml:"id"`
	Key             string                   `yaml:"key"`
	State           State                    `yaml:"state"`
	Request         Request                  `yaml:"request"`
	Attempts        int                      `yaml:"attempts"`
	MaxRetries      int                      `yaml:"max_retries"`
	Progress        *extraction.Progress     `yaml:"progress,omitempty"`
	Result          *extraction.ResultRecord `yaml:"result,omitempty"`
	FailureReason   string                   `yaml:"failure_reason,omitempty"`
	CancelRequested bool                     `yaml:"cancel_requested"`
	Owner           string                   `yaml:"owner,omitempty"`
	LeaseExpiresAt  time.Time                `yaml:"lease_expires_at,omitempty"`
	NextRunAt       time.Time                `yaml:"next_run_at"`
	History         []Attempt                `yaml:"history,omitempty"`
	Version         int64                    `yaml:"version"`
	CreatedAt       time.Time                `yaml:"created_at"`
	UpdatedAt       time.Time                `yaml:"updated_at"`
}

// Orphaned reports whether the record is Running without a live owner:
// its lease was released or has expired
func (r *Record) Orphaned(now time.Time) bool {
	return r.State == StateRunning && !r.LeaseExpiresAt.After(now)
}

// Transition moves the record to a new state, refusing changes to
// terminal records and transitions outside the state machine
func (r *Record) Transition(to State) error {
	if r.State.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, r.ID, r.State)
	}
	if !CanTransition(r.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	r.State = to
	return nil
}

// DecodedResult returns the terminal result, if any
func (r *Record) DecodedResult() (extraction.Result, error) {
	if r.Result == nil {
		return nil, nil
	}
	return extraction.DecodeResult(*r.Result)
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Request.Config.CustomTimestamps != nil {
		c.Request.Config.CustomTimestamps = append([]int64{}, r.Request.Config.CustomTimestamps...)
	}
	c.Request.Source.Streams = append([]extraction.Stream(nil), r.Request.Source.Streams...)
	if r.Progress != nil {
		p := *r.Progress
		c.Progress = &p
	}
	if r.Result != nil {
		res := *r.Result
		res.Paths = append([]string(nil), r.Result.Paths...)
		res.AudioTracks = append([]extraction.AudioTrack(nil), r.Result.AudioTracks...)
		c.Result = &res
	}
	c.History = append([]Attempt(nil), r.History...)
	return &c
}
