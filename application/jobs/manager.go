package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"os"
	"sync"
	"time"

	appextract "vidextract/application/extraction"
	"vidextract/domain/extraction"
	"vidextract/domain/jobs"

	"github.com/google/uuid"
)

const (
	DefaultMaxRetries       = 3
	DefaultBackoffIncrement = 10 * time.Second
	DefaultPollInterval     = 250 * time.Millisecond
	DefaultMaxConcurrent    = 1
	DefaultLeaseDuration    = 30 * time.Second
)

var errNotClaimable = errors.New("job is no longer enqueued")

// Runner executes one extraction. The orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req appextract.Request) extraction.Result
}

// Settings tune retries and dispatching
type Settings struct {
	MaxRetries       int
	BackoffIncrement time.Duration
	PollInterval     time.Duration
	MaxConcurrent    int
	// LeaseDuration is how long a claimed job stays owned by a worker
	// without renewal. Other workers recover it once the lease expires.
	LeaseDuration time.Duration
}

// DefaultSettings returns the production settings
func DefaultSettings() Settings {
	return Settings{
		MaxRetries:       DefaultMaxRetries,
		BackoffIncrement: DefaultBackoffIncrement,
		PollInterval:     DefaultPollInterval,
		MaxConcurrent:    DefaultMaxConcurrent,
		LeaseDuration:    DefaultLeaseDuration,
	}
}

// Update is one observation of a job
type Update struct {
	ID       string
	State    jobs.State
	Attempts int
	Progress *extraction.Progress
	Result   extraction.Result
	Reason   string
	Version  int64
}

// Manager runs extraction jobs from a durable store, retrying transient
// failures with linear backoff and allowing one active job per key
type Manager struct {
	store    jobs.Store
	runner   Runner
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
	owner    string

	mu       sync.Mutex
	running  map[string]*execution
	busyKeys map[string]bool
	sem      chan struct{}
	wake     chan struct{}
	wg       sync.WaitGroup
}

type execution struct {
	key  string
	flag *extraction.CancelFlag
}

// Option is a functional option for configuring Manager
type Option func(*Manager)

// WithSettings replaces the default settings. Non-positive durations and
// concurrency keep their defaults; a negative MaxRetries does too.
func WithSettings(s Settings) Option {
	return func(m *Manager) {
		if s.MaxRetries >= 0 {
			m.settings.MaxRetries = s.MaxRetries
		}
		if s.BackoffIncrement > 0 {
			m.settings.BackoffIncrement = s.BackoffIncrement
		}
		if s.PollInterval > 0 {
			m.settings.PollInterval = s.PollInterval
		}
		if s.MaxConcurrent > 0 {
			m.settings.MaxConcurrent = s.MaxConcurrent
		}
		if s.LeaseDuration > 0 {
			m.settings.LeaseDuration = s.LeaseDuration
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager over store that runs jobs with runner
func NewManager(store jobs.Store, runner Runner, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		runner:   runner,
		settings: DefaultSettings(),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		running:  make(map[string]*execution),
		busyKeys: make(map[string]bool),
		wake:     make(chan struct{}, 1),
		owner:    fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString()[:8]),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sem = make(chan struct{}, m.settings.MaxConcurrent)
	return m
}

// Backoff returns the delay before retry number attempt (1-based)
func (m *Manager) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return m.settings.BackoffIncrement * time.Duration(attempt)
}

// Enqueue stores a new job under key. Active jobs with the same key are
// cancelled and replaced.
func (m *Manager) Enqueue(ctx context.Context, key string, req jobs.Request) (string, error) {
	if key == "" {
		return "", errors.New("uniqueness key is required")
	}
	if err := req.Config.Validate(); err != nil {
		return "", err
	}
	if _, err := extraction.ParseKind(string(req.Kind)); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	now := m.now()
	rec := &jobs.Record{
		ID:         id,
		Key:        key,
		State:      jobs.StateEnqueued,
		Request:    req,
		MaxRetries: m.settings.MaxRetries,
		NextRunAt:  now,
		CreatedAt:  now,
	}
	replaced, err := m.store.ReplaceActive(ctx, rec, func(r *jobs.Record) error {
		wasRunning := r.State == jobs.StateRunning
		if err := r.Transition(jobs.StateCancelled); err != nil {
			return err
		}
		r.CancelRequested = wasRunning
		r.FailureReason = "replaced by " + id
		return setResult(r, extraction.Cancelled{})
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	for _, old := range replaced {
		if exec, ok := m.running[old]; ok {
			exec.flag.Cancel()
		}
		m.logger.Info("job replaced", "job", old, "key", key, "replacement", id)
	}

	m.logger.Info("job enqueued", "job", id, "key", key, "kind", string(req.Kind), "source", req.SourcePath)
	m.signal()
	return id, nil
}

// Start recovers jobs interrupted by a crash and dispatches enqueued jobs
// until ctx is done. Use Wait to block until running jobs return.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.recover(ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.settings.PollInterval)
		defer ticker.Stop()
		leases := time.NewTicker(m.settings.LeaseDuration / 3)
		defer leases.Stop()

		for {
			m.dispatch(ctx)
			m.propagateCancels(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-m.wake:
			case <-leases.C:
				m.renewLeases(ctx)
				if err := m.recover(ctx); err != nil {
					m.logger.Warn("failed to recover orphaned jobs", "error", err)
				}
			}
		}
	}()
	return nil
}

// Wait blocks until the dispatcher and every running job have returned
func (m *Manager) Wait() {
	m.wg.Wait()
}

// recover moves Running records whose worker is gone back to Enqueued.
// Records leased by a live worker, in this process or another, are left
// alone.
func (m *Manager) recover(ctx context.Context) error {
	records, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	for _, rec := range records {
		if !rec.Orphaned(m.now()) {
			continue
		}
		m.mu.Lock()
		_, local := m.running[rec.ID]
		m.mu.Unlock()
		if local {
			continue
		}

		_, err := m.store.Update(ctx, rec.ID, func(r *jobs.Record) error {
			if !r.Orphaned(m.now()) {
				return errNotClaimable
			}
			r.Owner = ""
			r.LeaseExpiresAt = time.Time{}
			if n := len(r.History); n > 0 && r.History[n-1].FinishedAt.IsZero() {
				r.History[n-1].FinishedAt = m.now()
				r.History[n-1].Error = "interrupted"
			}
			r.Progress = nil
			if r.CancelRequested {
				if err := r.Transition(jobs.StateCancelled); err != nil {
					return err
				}
				return setResult(r, extraction.Cancelled{})
			}
			r.NextRunAt = m.now()
			return r.Transition(jobs.StateEnqueued)
		})
		if errors.Is(err, errNotClaimable) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to recover job %s: %w", rec.ID, err)
		}
		m.logger.Info("recovered interrupted job", "job", rec.ID, "previous_owner", rec.Owner)
		m.signal()
	}
	return nil
}

func (m *Manager) dispatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	records, err := m.store.List(ctx)
	if err != nil {
		m.logger.Error("failed to list jobs", "error", err)
		return
	}

	now := m.now()
	var due []*jobs.Record
	for _, rec := range records {
		if rec.State == jobs.StateEnqueued && !rec.NextRunAt.After(now) {
			due = append(due, rec)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })

	for _, rec := range due {
		m.mu.Lock()
		busy := m.busyKeys[rec.Key]
		m.mu.Unlock()
		if busy {
			continue
		}

		select {
		case m.sem <- struct{}{}:
		default:
			return
		}

		claimed, err := m.store.Update(ctx, rec.ID, func(r *jobs.Record) error {
			if r.State != jobs.StateEnqueued {
				return errNotClaimable
			}
			if err := r.Transition(jobs.StateRunning); err != nil {
				return err
			}
			r.Attempts++
			r.Owner = m.owner
			r.LeaseExpiresAt = m.now().Add(m.settings.LeaseDuration)
			r.Progress = nil
			r.History = append(r.History, jobs.Attempt{Number: r.Attempts, StartedAt: m.now()})
			return nil
		})
		if err != nil {
			<-m.sem
			if !errors.Is(err, errNotClaimable) {
				m.logger.Error("failed to claim job", "job", rec.ID, "error", err)
			}
			continue
		}

		exec := &execution{key: claimed.Key, flag: &extraction.CancelFlag{}}
		if claimed.CancelRequested {
			exec.flag.Cancel()
		}
		m.mu.Lock()
		m.running[claimed.ID] = exec
		m.busyKeys[claimed.Key] = true
		m.mu.Unlock()

		m.wg.Add(1)
		go m.execute(ctx, claimed, exec)
	}
}

func (m *Manager) execute(ctx context.Context, rec *jobs.Record, exec *execution) {
	defer func() {
		m.mu.Lock()
		delete(m.running, rec.ID)
		delete(m.busyKeys, exec.key)
		m.mu.Unlock()
		<-m.sem
		m.signal()
		m.wg.Done()
	}()

	log := m.logger.With("job", rec.ID, "attempt", rec.Attempts)
	log.Info("job started", "kind", string(rec.Request.Kind), "source", rec.Request.SourcePath)

	req := appextract.Request{
		JobID:      rec.ID,
		Kind:       rec.Request.Kind,
		SourcePath: rec.Request.SourcePath,
		Source:     rec.Request.Source,
		Config:     rec.Request.Config,
		OutputDir:  rec.Request.OutputDir,
		Cancel:     exec.flag,
		OnProgress: func(p extraction.Progress) {
			_, err := m.store.Update(ctx, rec.ID, func(r *jobs.Record) error {
				if r.State != jobs.StateRunning {
					return errNotClaimable
				}
				r.Progress = &p
				return nil
			})
			if err != nil && !errors.Is(err, errNotClaimable) {
				log.Warn("failed to persist progress", "error", err)
			}
		},
	}

	result := m.runner.Run(ctx, req)

	if ctx.Err() != nil && !exec.flag.Requested() {
		// Shutdown, not a user cancel: leave it Running with its lease
		// released so the next Start recovers and reruns it
		m.releaseLease(rec.ID)
		log.Info("job interrupted by shutdown", "outcome", string(result.Outcome()))
		return
	}
	m.complete(log, rec.ID, result)
}

// complete records the result of one attempt and decides between retry
// and a terminal state
func (m *Manager) complete(log *slog.Logger, id string, result extraction.Result) {
	updated, err := m.store.Update(context.Background(), id, func(r *jobs.Record) error {
		if r.State != jobs.StateRunning {
			return errNotClaimable
		}
		r.Owner = ""
		r.LeaseExpiresAt = time.Time{}

		now := m.now()
		if n := len(r.History); n > 0 {
			att := &r.History[n-1]
			att.FinishedAt = now
			att.Outcome = result.Outcome()
			if e, ok := result.(extraction.Error); ok {
				att.Error = e.Message
			}
		}

		switch {
		case result.Outcome() == extraction.OutcomeSuccess:
			if err := r.Transition(jobs.StateSucceeded); err != nil {
				return err
			}
		case result.Outcome() == extraction.OutcomeCancelled:
			if err := r.Transition(jobs.StateCancelled); err != nil {
				return err
			}
		case extraction.Retryable(result) && r.Attempts <= r.MaxRetries:
			delay := m.Backoff(r.Attempts)
			if n := len(r.History); n > 0 {
				r.History[n-1].RetryDelay = delay
			}
			if err := r.Transition(jobs.StateEnqueued); err != nil {
				return err
			}
			r.NextRunAt = now.Add(delay)
			r.Progress = nil
			return nil
		default:
			if err := r.Transition(jobs.StateFailed); err != nil {
				return err
			}
			r.FailureReason = extraction.Describe(result)
		}
		return setResult(r, result)
	})

	switch {
	case errors.Is(err, errNotClaimable):
		log.Info("job finished after it was replaced or cancelled", "outcome", string(result.Outcome()))
	case err != nil:
		log.Error("failed to record job result", "error", err)
	case updated.State == jobs.StateEnqueued:
		log.Warn("job will be retried", "error", extraction.Describe(result), "next_run_at", updated.NextRunAt)
	default:
		log.Info("job finished", "state", string(updated.State), "outcome", string(result.Outcome()))
	}
}

// renewLeases extends the lease of every job this manager is running
func (m *Manager) renewLeases(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_, err := m.store.Update(ctx, id, func(r *jobs.Record) error {
			if r.State != jobs.StateRunning || r.Owner != m.owner {
				return errNotClaimable
			}
			r.LeaseExpiresAt = m.now().Add(m.settings.LeaseDuration)
			return nil
		})
		if err != nil && !errors.Is(err, errNotClaimable) {
			m.logger.Warn("failed to renew lease", "job", id, "error", err)
		}
	}
}

func (m *Manager) releaseLease(id string) {
	_, err := m.store.Update(context.Background(), id, func(r *jobs.Record) error {
		if r.State != jobs.StateRunning || r.Owner != m.owner {
			return errNotClaimable
		}
		r.LeaseExpiresAt = time.Time{}
		return nil
	})
	if err != nil && !errors.Is(err, errNotClaimable) {
		m.logger.Warn("failed to release lease", "job", id, "error", err)
	}
}

// propagateCancels raises the flag of local runs whose record was
// cancelled or replaced, possibly by another process
func (m *Manager) propagateCancels(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id, exec := range m.running {
		if !exec.flag.Requested() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		rec, err := m.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if rec.CancelRequested || rec.State.IsTerminal() {
			m.mu.Lock()
			if exec, ok := m.running[id]; ok {
				exec.flag.Cancel()
			}
			m.mu.Unlock()
		}
	}
}

// Cancel stops a job. Enqueued jobs are cancelled at once; running jobs
// stop at their next checkpoint.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	_, err := m.store.Update(ctx, id, func(r *jobs.Record) error {
		switch r.State {
		case jobs.StateEnqueued:
			if err := r.Transition(jobs.StateCancelled); err != nil {
				return err
			}
			return setResult(r, extraction.Cancelled{})
		case jobs.StateRunning:
			r.CancelRequested = true
			return nil
		default:
			return fmt.Errorf("%w: %s is %s", jobs.ErrTerminal, r.ID, r.State)
		}
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if exec, ok := m.running[id]; ok {
		exec.flag.Cancel()
	}
	m.mu.Unlock()

	m.logger.Info("job cancellation requested", "job", id)
	return nil
}

// Get returns the current record of a job
func (m *Manager) Get(ctx context.Context, id string) (*jobs.Record, error) {
	return m.store.Get(ctx, id)
}

// List returns every job
func (m *Manager) List(ctx context.Context) ([]*jobs.Record, error) {
	return m.store.List(ctx)
}

// Observe streams the job's state from the store. The channel receives
// the current state first, then every change, and is closed after a
// terminal state or when ctx is done. It also works against a store
// written by another process.
func (m *Manager) Observe(ctx context.Context, id string) (<-chan Update, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ch := make(chan Update, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(m.settings.PollInterval)
		defer ticker.Stop()

		var version int64 = -1
		for {
			if rec.Version != version {
				version = rec.Version
				select {
				case ch <- toUpdate(rec):
				case <-ctx.Done():
					return
				}
				if rec.State.IsTerminal() {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			next, err := m.store.Get(ctx, id)
			if errors.Is(err, jobs.ErrNotFound) {
				m.logger.Info("observed job was deleted", "job", id)
				return
			}
			if err != nil {
				m.logger.Warn("observe failed", "job", id, "error", err)
				continue
			}
			rec = next
		}
	}()
	return ch, nil
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func toUpdate(rec *jobs.Record) Update {
	u := Update{
		ID:       rec.ID,
		State:    rec.State,
		Attempts: rec.Attempts,
		Progress: rec.Progress,
		Reason:   rec.FailureReason,
		Version:  rec.Version,
	}
	if res, err := rec.DecodedResult(); err == nil {
		u.Result = res
	}
	return u
}

func setResult(r *jobs.Record, result extraction.Result) error {
	enc, err := extraction.EncodeResult(result)
	if err != nil {
		return err
	}
	r.Result = &enc
	return nil
}
