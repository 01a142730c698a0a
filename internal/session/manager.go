package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wvw-insights/cbtup/internal/catalog"
	"github.com/wvw-insights/cbtup/internal/tokens"
)

var (
	// ErrInvalidState is returned when a session is already running.
	ErrInvalidState = errors.New("an upload session is already running")
	// ErrNoActiveToken is returned when no token was given and none is active.
	ErrNoActiveToken = errors.New("no active token")
	// ErrEmptySelection is returned when there is nothing to upload.
	ErrEmptySelection = errors.New("no logs selected")
)

// TokenSource provides the active token.
type TokenSource interface {
	Active() (tokens.Token, bool)
}

// Manager allows at most one running session per process.
type Manager struct {
	uploaders func() Uploader
	recorder Recorder
	tokens   TokenSource
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	current *Session
	last    *Session
}

// NewManager creates a session manager that sends every session through
// uploader. recorder and tokens may be nil.
func NewManager(uploader Uploader, recorder Recorder, tokens TokenSource, cfg Config, logger *zap.Logger) *Manager {
	return NewBatchManager(func() Uploader { return uploader }, recorder, tokens, cfg, logger)
}

// NewBatchManager creates a session manager that asks newUploader for a fresh
// uploader per session, so each session's files form one batch on the server.
func NewBatchManager(newUploader func() Uploader, recorder Recorder, tokens TokenSource, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		uploaders: newUploader,
		recorder:  recorder,
		tokens:    tokens,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Start snapshots selection and begins uploading it. An empty token means the
// active token. limit <= 0 uses the configured concurrency.
// Cancelling ctx cancels the session.
func (m *Manager) Start(ctx context.Context, selection []catalog.LogEntry, token string, limit int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, ErrInvalidState
	}

	if token == "" && m.tokens != nil {
		if active, ok := m.tokens.Active(); ok {
			token = active.Secret
		}
	}
	if token == "" {
		return nil, ErrNoActiveToken
	}

	if len(selection) == 0 {
		return nil, ErrEmptySelection
	}

	if limit <= 0 {
		limit = m.cfg.Concurrency
	}

	snapshot := make([]catalog.LogEntry, len(selection))
	copy(snapshot, selection)

	s := newSession(snapshot, token, limit, m.cfg, m.uploaders(), m.recorder, m.logger)
	s.onDrained = func() {
		m.mu.Lock()
		if m.current == s {
			m.current = nil
		}
		m.mu.Unlock()
	}
	m.current = s
	m.last = s

	s.run(ctx)
	return s, nil
}

// Current returns the running session, if any.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// Last returns the most recently started session, running or not.
func (m *Manager) Last() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.last != nil
}

// Cancel cancels the running session. Returns false if nothing was running.
func (m *Manager) Cancel() bool {
	s, ok := m.Current()
	if !ok {
		return false
	}
	return s.Cancel()
}
