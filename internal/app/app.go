// Package app wires the core components together for the command line and
// the MCP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/wvw-insights/cbtup/internal/api"
	"github.com/wvw-insights/cbtup/internal/catalog"
	"github.com/wvw-insights/cbtup/internal/config"
	"github.com/wvw-insights/cbtup/internal/history"
	"github.com/wvw-insights/cbtup/internal/logging"
	"github.com/wvw-insights/cbtup/internal/retention"
	"github.com/wvw-insights/cbtup/internal/session"
	"github.com/wvw-insights/cbtup/internal/tokens"
	"github.com/wvw-insights/cbtup/internal/webhook"
)

// processAutoCleanup is the default auto-cleanup cell, shared by every App
// in the process that is not given its own.
var processAutoCleanup retention.Flag

// Options are the command-line overrides applied on top of the settings file.
type Options struct {
	SettingsPath string
	LogDir       string
	APIEndpoint  string
	Concurrency  int
	Verbose      bool
	// Console receives warnings and errors. Nil means stderr.
	Console io.Writer
	// OnTaskUpdate is forwarded to the session manager.
	OnTaskUpdate func(session.Task)
	// AutoCleanup records whether automatic cleanup already ran. Nil means the
	// process-wide cell.
	AutoCleanup *retention.Flag
}

// App holds the wired components.
type App struct {
	Settings *config.Settings
	Logger   *zap.Logger
	Catalog  *catalog.Catalog
	Tokens   *tokens.Store
	API      *api.Client
	History  *history.Store
	Sessions *session.Manager
	Webhooks *webhook.Book
	Notifier *webhook.Notifier

	settingsPath string
	saveMu       sync.Mutex

	autoCleanup   *retention.Flag
	retentionOnce sync.Once
	retention     *retention.Manager
	retentionErr  error
}

// New loads settings and builds every component.
func New(opts Options) (*App, error) {
	settings, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		return nil, err
	}
	if opts.LogDir != "" {
		settings.LogDirectory = opts.LogDir
	}
	if opts.APIEndpoint != "" {
		settings.APIEndpoint = opts.APIEndpoint
	}
	if opts.Concurrency > 0 {
		settings.Upload.Concurrency = opts.Concurrency
	}

	flag := opts.AutoCleanup
	if flag == nil {
		flag = &processAutoCleanup
	}

	logger, err := logging.New(settings.Log, logging.Options{Console: opts.Console, Verbose: opts.Verbose})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cat, err := catalog.New(catalog.Options{
		Extensions: settings.Scan.Extensions,
		Exclude:    settings.Scan.Exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid scan settings: %w", err)
	}

	store, err := tokens.NewStore(settings.Tokens, settings.ActiveToken)
	if err != nil {
		return nil, fmt.Errorf("invalid saved tokens: %w", err)
	}

	client := api.NewClient(settings.APIEndpoint,
		api.WithRateLimit(settings.Upload.RequestsPerMinute),
		api.WithLogger(logger.Named("api")))

	hist, err := history.Open(settings.HistoryDB, logger.Named("history"))
	if err != nil {
		return nil, fmt.Errorf("failed to open report history: %w", err)
	}
	if _, err := hist.PruneUploaded(history.UploadedRetention); err != nil {
		logger.Warn("failed to prune uploaded-log tracker", zap.Error(err))
	}

	newBatch := func() session.Uploader { return client.NewBatch() }
	sessions := session.NewBatchManager(newBatch, hist, store, session.Config{
		Concurrency:    settings.Upload.Concurrency,
		MaxAttempts:    settings.Upload.MaxAttempts,
		InitialBackoff: settings.Upload.InitialBackoff,
		MaxBackoff:     settings.Upload.MaxBackoff,
		RequestTimeout: settings.Upload.RequestTimeout,
		OnTaskUpdate:   opts.OnTaskUpdate,
	}, logger.Named("session"))

	return &App{
		Settings:     settings,
		Logger:       logger,
		Catalog:      cat,
		Tokens:       store,
		API:          client,
		History:      hist,
		Sessions:     sessions,
		Webhooks:     webhook.NewBook(settings.Webhooks),
		Notifier:     webhook.NewNotifier(nil),
		settingsPath: opts.SettingsPath,
		autoCleanup:  flag,
	}, nil
}

// Close releases the history database and flushes the logger.
func (a *App) Close() error {
	a.Logger.Sync()
	return a.History.Close()
}

// Save writes tokens and webhooks back into the settings file.
func (a *App) Save() error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.Settings.Tokens = a.Tokens.List()
	a.Settings.ActiveToken = a.Tokens.ActiveName()
	a.Settings.Webhooks = a.Webhooks.All()
	return config.SaveSettings(a.settingsPath, a.Settings)
}

// Retention returns the retention manager, creating the trash on first use.
func (a *App) Retention() (*retention.Manager, error) {
	a.retentionOnce.Do(func() {
		dir := a.Settings.Cleanup.TrashDir
		if dir == "" {
			var err error
			if dir, err = retention.DefaultTrashDir(); err != nil {
				a.retentionErr = err
				return
			}
		}
		trash, err := retention.NewDirTrash(dir)
		if err != nil {
			a.retentionErr = err
			return
		}
		a.retention = retention.NewManager(a.Catalog, trash, a.autoCleanup, a.Logger.Named("retention"))
	})
	return a.retention, a.retentionErr
}

// Scan lists logs in the configured directory within window, newest first.
func (a *App) Scan(window catalog.Window, hideUploaded bool) ([]catalog.LogEntry, error) {
	entries, err := a.Catalog.Scan(a.Settings.LogDirectory, a.Settings.Scan.Recursive)
	if err != nil {
		return nil, err
	}
	entries = a.Catalog.Filter(entries, window)
	if !hideUploaded {
		return entries, nil
	}

	uploaded, err := a.History.UploadedNames()
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if _, ok := uploaded[e.Name()]; !ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Token resolves the upload token: the CBTUP_TOKEN override, then the active token.
func (a *App) Token() (string, bool) {
	if a.Settings.EnvToken != "" {
		return a.Settings.EnvToken, true
	}
	if t, ok := a.Tokens.Active(); ok {
		return t.Secret, true
	}
	return "", false
}

// StartUpload starts a session over selection with the resolved token.
func (a *App) StartUpload(ctx context.Context, selection []catalog.LogEntry, limit int) (*session.Session, error) {
	token, _ := a.Token()
	return a.Sessions.Start(ctx, selection, token, limit)
}

// AutoCleanup runs the once-per-process cleanup when it is enabled in settings.
// It returns nil, nil when disabled.
func (a *App) AutoCleanup() (*retention.Run, error) {
	if !a.Settings.Cleanup.AutoEnabled {
		return nil, nil
	}
	m, err := a.Retention()
	if err != nil {
		return nil, err
	}
	return m.AutoCleanupIfDue(a.Settings.LogDirectory, a.Settings.Cleanup.Days, a.Settings.Scan.Recursive)
}

// NotifySession posts the links of a finished session to a saved webhook.
func (a *App) NotifySession(ctx context.Context, name string, s *session.Session) error {
	hook, err := a.Webhooks.Get(name)
	if err != nil {
		return err
	}

	var lines []string
	for _, t := range s.Tasks() {
		if t.Status == session.Succeeded && t.ResultLink != "" {
			lines = append(lines, t.ResultLink)
		}
	}
	if len(lines) == 0 {
		return errors.New("no successful uploads to report")
	}

	return a.notify(ctx, hook, fmt.Sprintf("**%d log(s) uploaded**", len(lines)), lines)
}

// NotifyReports posts the report links of a processed batch to a saved webhook.
func (a *App) NotifyReports(ctx context.Context, name string, urls []string) error {
	hook, err := a.Webhooks.Get(name)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errors.New("no reports to post")
	}
	return a.notify(ctx, hook, fmt.Sprintf("**%d report(s) ready**", len(urls)), urls)
}

func (a *App) notify(ctx context.Context, hook webhook.Saved, header string, lines []string) error {
	if err := a.Notifier.SendAll(ctx, hook.URL, header, lines); err != nil {
		return err
	}

	a.Webhooks.Touch(hook.URL)
	if a.Settings.RememberLastWebhook {
		a.Settings.LastWebhook = hook.Name
	}
	return a.Save()
}
