package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/wvw-insights/cbtup/internal/api"
	"github.com/wvw-insights/cbtup/internal/history"
	"github.com/wvw-insights/cbtup/internal/session"
)

// ErrProcessingFailed is returned when the parser reports a failed batch.
var ErrProcessingFailed = errors.New("processing failed on the server")

var errStillProcessing = errors.New("still processing")

// ProcessOptions configure ProcessSession. Zero values fall back to settings.
type ProcessOptions struct {
	GuildName string
	Legacy    bool

	PollInterval    time.Duration
	MaxPollInterval time.Duration
	Timeout         time.Duration

	// OnStatus is called after every successful poll.
	OnStatus func(api.ProcessStatus)
}

func (a *App) processDefaults(opts ProcessOptions) ProcessOptions {
	ps := a.Settings.Process
	if opts.GuildName == "" {
		opts.GuildName = ps.GuildName
	}
	if !opts.Legacy {
		opts.Legacy = ps.Legacy
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = ps.PollInterval
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = max(ps.MaxPollInterval, opts.PollInterval)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = ps.Timeout
	}
	return opts
}

// ProcessSession asks the parser to build reports from a finished session's
// uploads, polls until they are ready and records each report in history.
func (a *App) ProcessSession(ctx context.Context, s *session.Session, opts ProcessOptions) (*api.ProcessStatus, error) {
	batch, ok := s.Uploader().(*api.Batch)
	if !ok {
		return nil, fmt.Errorf("session %s was not uploaded as a batch", s.ID())
	}
	if s.Snapshot().Succeeded == 0 {
		return nil, api.ErrNoRemoteSession
	}
	remote, ok := batch.Remote()
	if !ok {
		return nil, api.ErrNoRemoteSession
	}
	opts = a.processDefaults(opts)
	logger := a.Logger.With(zap.String("session", s.ID()), zap.String("remote", remote.ID))

	msg, err := batch.StartProcessing(ctx, api.ProcessOptions{GuildName: opts.GuildName, Legacy: opts.Legacy})
	if err != nil {
		return nil, fmt.Errorf("failed to start processing: %w", err)
	}
	logger.Info("processing requested", zap.String("reply", msg))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.PollInterval
	b.MaxInterval = opts.MaxPollInterval
	b.MaxElapsedTime = opts.Timeout
	b.Reset()

	var last *api.ProcessStatus
	poll := func() error {
		st, err := batch.Status(ctx)
		if err != nil {
			if api.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		last = st
		if opts.OnStatus != nil {
			opts.OnStatus(*st)
		}
		switch {
		case st.Complete():
			return nil
		case st.Failed():
			return backoff.Permanent(ErrProcessingFailed)
		default:
			return errStillProcessing
		}
	}
	notify := func(err error, wait time.Duration) {
		if !errors.Is(err, errStillProcessing) {
			logger.Warn("status check failed", zap.Duration("retry_in", wait), zap.Error(err))
		}
	}

	if err := backoff.RetryNotify(poll, backoff.WithContext(b, ctx), notify); err != nil {
		if errors.Is(err, errStillProcessing) {
			return last, fmt.Errorf("processing did not finish within %s", opts.Timeout)
		}
		return last, err
	}

	logger.Info("processing complete", zap.Int("reports", len(last.Reports)))
	if err := a.recordReports(s, remote, last); err != nil {
		return last, fmt.Errorf("reports are ready but were not saved to history: %w", err)
	}
	return last, nil
}

// recordReports appends one history record per report.
func (a *App) recordReports(s *session.Session, remote api.RemoteSession, st *api.ProcessStatus) error {
	var errs []error
	now := time.Now()
	for i, r := range st.Reports {
		rec := history.Record{
			TaskID:     fmt.Sprintf("%s-report-%d", remote.ID, i+1),
			SessionID:  s.ID(),
			Name:       r.Name,
			UploadedAt: now,
			Link:       r.URL,
			ReportID:   remote.ID,
		}
		if err := a.History.Append(rec); err != nil {
			a.Logger.Error("failed to record report", zap.String("link", r.URL), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
