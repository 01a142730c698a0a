// Package session runs batch uploads of combat logs.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wvw-insights/cbtup/internal/api"
	"github.com/wvw-insights/cbtup/internal/catalog"
	"github.com/wvw-insights/cbtup/internal/history"
)

// Uploader sends one file to the parsing service.
type Uploader interface {
	Upload(ctx context.Context, path, token string) (*api.UploadResult, error)
}

// Recorder receives a record for every successful upload.
type Recorder interface {
	Append(r history.Record) error
}

// Config tunes retries and concurrency.
type Config struct {
	Concurrency    int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration

	// OnTaskUpdate is called after every task transition with a copy of the task.
	OnTaskUpdate func(Task)
}

// DefaultConfig returns the stock retry and concurrency settings.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		RequestTimeout: 2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency < 1 {
		c.Concurrency = def.Concurrency
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	return c
}

// Session is one batch transfer over a fixed selection.
type Session struct {
	id        string
	createdAt time.Time
	limit     int
	token     string
	cfg       Config
	uploader  Uploader
	recorder  Recorder
	logger    *zap.Logger

	mu         sync.Mutex
	state      State
	tasks      []*Task
	counts     [4]int // indexed by TaskStatus
	unrecorded int

	sem       *semaphore.Weighted
	runCtx    context.Context
	stop      context.CancelFunc
	done      chan struct{}
	onDrained func()
}

func newSession(selection []catalog.LogEntry, token string, limit int, cfg Config, uploader Uploader, recorder Recorder, logger *zap.Logger) *Session {
	s := &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		limit:     limit,
		token:     token,
		cfg:       cfg,
		uploader:  uploader,
		recorder:  recorder,
		logger:    logger,
		state:     Idle,
		sem:       semaphore.NewWeighted(int64(limit)),
		done:      make(chan struct{}),
	}
	s.tasks = make([]*Task, len(selection))
	for i, entry := range selection {
		s.tasks[i] = &Task{ID: uuid.NewString(), Entry: entry, Status: Pending}
	}
	s.counts[Pending] = len(selection)
	s.runCtx, s.stop = context.WithCancel(context.Background())
	s.logger = logger.With(zap.String("session", s.id))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was started.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Limit returns the concurrency limit.
func (s *Session) Limit() int { return s.limit }

// Uploader returns the uploader serving this session.
func (s *Session) Uploader() Uploader { return s.uploader }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns task counts taken under a single lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID: s.id,
		State:     s.state,
		CreatedAt: s.createdAt,
		Total:     len(s.tasks),
		Succeeded: s.counts[Succeeded],
		Failed:    s.counts[Failed],
		InFlight:  s.counts[InFlight],
		Pending:   s.counts[Pending],

		Unrecorded: s.unrecorded,
	}
}

// Tasks returns copies of all tasks in selection order.
func (s *Session) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = *t
	}
	return out
}

// Done is closed once every worker has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session drains or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops new attempts. In-flight uploads run to completion and
// terminal tasks keep their status. Returns false if the session was not running.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return false
	}
	s.state = Cancelled
	s.mu.Unlock()

	s.stop()
	s.logger.Info("session cancelled")
	return true
}

func (s *Session) run(ctx context.Context) {
	s.mu.Lock()
	s.state = Running
	s.mu.Unlock()

	s.logger.Info("session started", zap.Int("tasks", len(s.tasks)), zap.Int("limit", s.limit))

	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			s.runTask(ctx, t)
		}(t)
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		}
	}()

	go func() {
		wg.Wait()
		s.finish()
	}()
}

// runTask drives one task through its attempts. A slot is held only for the
// duration of a single attempt.
func (s *Session) runTask(ctx context.Context, t *Task) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	// attempts outlive the caller's cancellation; only the timeout bounds them
	attemptBase := context.WithoutCancel(ctx)

	for {
		if err := s.sem.Acquire(s.runCtx, 1); err != nil {
			return
		}
		attempt, ok := s.claim(t)
		if !ok {
			s.sem.Release(1)
			return
		}

		s.logger.Debug("upload attempt",
			zap.String("task", t.ID),
			zap.String("file", t.Entry.Name()),
			zap.Int("attempt", attempt))

		attemptCtx, cancel := context.WithTimeout(attemptBase, s.cfg.RequestTimeout)
		res, err := s.uploader.Upload(attemptCtx, t.Entry.Path, s.token)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			if _, ok := api.KindOf(err); !ok {
				err = &api.Error{Kind: api.KindNetwork, Message: "request timed out", Err: err}
			}
		}
		cancel()
		s.sem.Release(1)

		if err == nil {
			s.succeed(t, res)
			return
		}
		if !api.IsRetryable(err) || attempt >= s.cfg.MaxAttempts {
			s.fail(t, err)
			return
		}

		wait := b.NextBackOff()
		s.requeue(t, err, wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.runCtx.Done():
			timer.Stop()
			return
		}
	}
}

// claim moves a pending task in flight. It refuses once the session is cancelled.
func (s *Session) claim(t *Task) (int, bool) {
	s.mu.Lock()
	if s.state != Running || t.Status != Pending {
		s.mu.Unlock()
		return 0, false
	}
	s.setStatusLocked(t, InFlight)
	t.Attempts++
	attempt := t.Attempts
	cp := *t
	s.mu.Unlock()

	s.notify(cp)
	return attempt, true
}

func (s *Session) succeed(t *Task, res *api.UploadResult) {
	s.mu.Lock()
	s.setStatusLocked(t, Succeeded)
	t.LastError = ""
	if res != nil {
		t.ResultLink = res.Link
		t.ReportID = res.ID
	}
	if s.recorder != nil {
		rec := history.Record{
			TaskID:     t.ID,
			SessionID:  s.id,
			Path:       t.Entry.Path,
			Name:       t.Entry.Name(),
			UploadedAt: time.Now(),
			Link:       t.ResultLink,
			ReportID:   t.ReportID,
		}
		if err := s.recorder.Append(rec); err != nil {
			s.unrecorded++
			t.LastError = "report not saved to history: " + err.Error()
			s.logger.Error("failed to record report", zap.String("task", t.ID), zap.Error(err))
		}
	}
	s.completeIfDoneLocked()
	cp := *t
	s.mu.Unlock()

	s.logger.Info("upload succeeded",
		zap.String("task", cp.ID),
		zap.String("file", cp.Entry.Name()),
		zap.String("link", cp.ResultLink),
		zap.Int("attempts", cp.Attempts))
	s.notify(cp)
}

func (s *Session) fail(t *Task, err error) {
	s.mu.Lock()
	s.setStatusLocked(t, Failed)
	t.LastError = err.Error()
	s.completeIfDoneLocked()
	cp := *t
	s.mu.Unlock()

	s.logger.Info("upload failed",
		zap.String("task", cp.ID),
		zap.String("file", cp.Entry.Name()),
		zap.Int("attempts", cp.Attempts),
		zap.Error(err))
	s.notify(cp)
}

func (s *Session) requeue(t *Task, err error, wait time.Duration) {
	s.mu.Lock()
	s.setStatusLocked(t, Pending)
	t.LastError = err.Error()
	cp := *t
	s.mu.Unlock()

	s.logger.Warn("upload will be retried",
		zap.String("task", cp.ID),
		zap.String("file", cp.Entry.Name()),
		zap.Int("attempts", cp.Attempts),
		zap.Duration("backoff", wait),
		zap.Error(err))
	s.notify(cp)
}

func (s *Session) setStatusLocked(t *Task, status TaskStatus) {
	s.counts[t.Status]--
	s.counts[status]++
	t.Status = status
}

func (s *Session) completeIfDoneLocked() {
	if s.state == Running && s.counts[Succeeded]+s.counts[Failed] == len(s.tasks) {
		s.state = Completed
	}
}

func (s *Session) finish() {
	s.mu.Lock()
	if s.state == Running {
		s.state = Completed
	}
	state := s.state
	s.mu.Unlock()

	s.stop()
	snap := s.Snapshot()
	s.logger.Info("session finished",
		zap.Stringer("state", state),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
		zap.Int("pending", snap.Pending))

	if s.onDrained != nil {
		s.onDrained()
	}
	close(s.done)
}

func (s *Session) notify(t Task) {
	if s.cfg.OnTaskUpdate != nil {
		s.cfg.OnTaskUpdate(t)
	}
}
