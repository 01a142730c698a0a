package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvw-insights/cbtup/internal/api"
	"github.com/wvw-insights/cbtup/internal/catalog"
	"github.com/wvw-insights/cbtup/internal/config"
	"github.com/wvw-insights/cbtup/internal/retention"
	"github.com/wvw-insights/cbtup/internal/session"
)

type fixture struct {
	app     *App
	logDir  string
	home    string
	uploads int
	polls   int
	process url.Values
	status  func(poll int) string
	mu      sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.HomeEnv, home)
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "xdg"))
	t.Setenv(config.EnvToken, "")
	t.Setenv(config.EnvAPIEndpoint, "")
	t.Setenv(config.EnvLogDir, "")

	f := &fixture{home: home, logDir: filepath.Join(home, "cbtlogs")}
	require.NoError(t, os.MkdirAll(f.logDir, 0o755))

	srv := httptest.NewServer(http.HandlerFunc(f.serveAPI))
	t.Cleanup(srv.Close)

	a, err := New(Options{
		SettingsPath: filepath.Join(home, "settings.yaml"),
		LogDir:       f.logDir,
		APIEndpoint:  srv.URL + "/api.php",
		Console:      io.Discard,
		AutoCleanup:  &retention.Flag{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	a.Settings.Process.PollInterval = time.Millisecond
	a.Settings.Process.MaxPollInterval = 5 * time.Millisecond
	f.app = a
	return f
}

func (f *fixture) setStatus(fn func(poll int) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = fn
}

func (f *fixture) processForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.process
}

func (f *fixture) serveAPI(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Query().Get("endpoint") {
	case "nexus-session":
		json.NewEncoder(w).Encode(map[string]any{"success": true, "session_id": "remote-1", "ownership_token": "own-1"})
	case "nexus-upload":
		f.uploads++
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"id":      f.uploads,
			"link":    fmt.Sprintf("https://parser.example/r/%d", f.uploads),
		})
	case "nexus-process":
		r.ParseForm()
		f.process = r.PostForm
		json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "Queued"})
	case "process-status":
		f.polls++
		body := `{"status":"processing","progress":40,"heartbeat":{"component":"topstats_parsing"}}`
		if f.status != nil {
			body = f.status(f.polls)
		}
		w.Write([]byte(body))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fixture) writeLog(t *testing.T, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(f.logDir, name)
	require.NoError(t, os.WriteFile(path, []byte("EVTC"), 0o644))
	mod := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestStartUploadRecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "a.zevtc", time.Hour)
	f.writeLog(t, "b.zevtc", 2*time.Hour)
	require.NoError(t, f.app.Tokens.Add("main", "tok-abcdef123456"))

	entries, err := f.app.Scan(catalog.WindowAll, false)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	sess, err := f.app.StartUpload(context.Background(), entries, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sess.Wait(ctx))

	snap := sess.Snapshot()
	assert.Equal(t, session.Completed, snap.State)
	assert.Equal(t, 2, snap.Succeeded)
	assert.Len(t, f.app.History.List(), 2)

	remaining, err := f.app.Scan(catalog.WindowAll, true)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestStartUploadWithoutToken(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "a.zevtc", time.Hour)

	entries, err := f.app.Scan(catalog.WindowAll, false)
	require.NoError(t, err)

	_, err = f.app.StartUpload(context.Background(), entries, 0)
	assert.ErrorIs(t, err, session.ErrNoActiveToken)
}

func TestTokenPrefersEnvironment(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.Tokens.Add("main", "tok-saved-000000"))
	f.app.Settings.EnvToken = "tok-env-11111111"

	tok, ok := f.app.Token()
	require.True(t, ok)
	assert.Equal(t, "tok-env-11111111", tok)
}

func TestSavePersistsTokensAndWebhooks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.Tokens.Add("main", "tok-abcdef123456"))
	require.NoError(t, f.app.Webhooks.Add("team", "https://discord.example/api/webhooks/1"))
	require.NoError(t, f.app.Save())

	loaded, err := config.LoadSettings(filepath.Join(f.home, "settings.yaml"))
	require.NoError(t, err)
	require.Len(t, loaded.Tokens, 1)
	assert.Equal(t, "main", loaded.ActiveToken)
	require.Len(t, loaded.Webhooks, 1)
	assert.Equal(t, "team", loaded.Webhooks[0].Name)
}

func TestNotifySessionPostsLinks(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "a.zevtc", time.Hour)
	require.NoError(t, f.app.Tokens.Add("main", "tok-abcdef123456"))

	var got []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body.Content)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()
	require.NoError(t, f.app.Webhooks.Add("team", hook.URL))
	f.app.Settings.RememberLastWebhook = true

	entries, err := f.app.Scan(catalog.WindowAll, false)
	require.NoError(t, err)
	sess, err := f.app.StartUpload(context.Background(), entries, 1)
	require.NoError(t, err)
	require.NoError(t, sess.Wait(context.Background()))

	require.NoError(t, f.app.NotifySession(context.Background(), "team", sess))
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "1 log(s) uploaded")
	assert.Contains(t, got[0], sess.Tasks()[0].ResultLink)
	assert.Equal(t, "team", f.app.Settings.LastWebhook)

	saved, err := f.app.Webhooks.Get("team")
	require.NoError(t, err)
	assert.False(t, saved.LastUsed.IsZero())
}

func TestAutoCleanupRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "old.zevtc", 45*24*time.Hour)
	f.writeLog(t, "new.zevtc", time.Hour)

	run, err := f.app.AutoCleanup()
	require.NoError(t, err)
	assert.Nil(t, run, "disabled by default")

	f.app.Settings.Cleanup.AutoEnabled = true
	run, err = f.app.AutoCleanup()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 1, run.FilesMoved)

	run, err = f.app.AutoCleanup()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.Skipped)

	entries, err := f.app.Scan(catalog.WindowAll, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new.zevtc", entries[0].Name())
}

func TestAutoCleanupFlagIsPerApp(t *testing.T) {
	f := newFixture(t)
	f.app.Settings.Cleanup.AutoEnabled = true
	f.writeLog(t, "old.zevtc", 45*24*time.Hour)

	run, err := f.app.AutoCleanup()
	require.NoError(t, err)
	require.NotNil(t, run)
	require.False(t, run.Skipped)

	g := newFixture(t)
	g.app.Settings.Cleanup.AutoEnabled = true
	run, err = g.app.AutoCleanup()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.False(t, run.Skipped, "a fresh flag has not run yet")
}

func uploadAll(t *testing.T, f *fixture) *session.Session {
	t.Helper()
	entries, err := f.app.Scan(catalog.WindowAll, false)
	require.NoError(t, err)
	sess, err := f.app.StartUpload(context.Background(), entries, 0)
	require.NoError(t, err)
	require.NoError(t, sess.Wait(context.Background()))
	return sess
}

func TestProcessSessionRecordsReports(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "a.zevtc", time.Hour)
	f.writeLog(t, "b.zevtc", 2*time.Hour)
	require.NoError(t, f.app.Tokens.Add("main", "tok-abcdef123456"))
	f.setStatus(func(poll int) string {
		if poll < 3 {
			return `{"status":"processing","progress":60,"heartbeat":{"component":"tiddlywiki_build"}}`
		}
		return `{"status":"complete","progress":100,"files":[
			{"name":"Report.html","url":"https://parser.example/remote-1/Report.html"},
			{"name":"summary.json","url":"https://parser.example/remote-1/summary.json"},
			{"name":"LegacyReport.html","url":"https://parser.example/remote-1/LegacyReport.html"}]}`
	})

	sess := uploadAll(t, f)
	require.Equal(t, 2, sess.Snapshot().Succeeded)

	var phases []string
	st, err := f.app.ProcessSession(context.Background(), sess, ProcessOptions{
		GuildName: "Night Shift",
		Legacy:    true,
		OnStatus:  func(st api.ProcessStatus) { phases = append(phases, st.Phase) },
	})
	require.NoError(t, err)
	require.True(t, st.Complete())

	form := f.processForm()
	assert.Equal(t, "remote-1", form.Get("session_id"))
	assert.Equal(t, "own-1", form.Get("ownership_token"))
	assert.Equal(t, "tok-abcdef123456", form.Get("history_token"))
	assert.Equal(t, "Night Shift", form.Get("guild_name"))
	assert.Equal(t, "1", form.Get("enable_old_parser"))
	assert.Equal(t, []string{"Building interactive report", "Building interactive report", ""}, phases)

	var reports []string
	for _, r := range f.app.History.List() {
		if r.ReportID == "remote-1" {
			reports = append(reports, r.Link)
			assert.Equal(t, sess.ID(), r.SessionID)
		}
	}
	assert.ElementsMatch(t, []string{
		"https://parser.example/remote-1/Report.html",
		"https://parser.example/remote-1/LegacyReport.html",
	}, reports)

	uploaded, err := f.app.History.UploadedNames()
	require.NoError(t, err)
	assert.NotContains(t, uploaded, "Report.html")
}

func TestProcessSessionFailure(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "a.zevtc", time.Hour)
	require.NoError(t, f.app.Tokens.Add("main", "tok-abcdef123456"))
	f.setStatus(func(int) string { return `{"status":"failed","progress":30}` })

	sess := uploadAll(t, f)
	_, err := f.app.ProcessSession(context.Background(), sess, ProcessOptions{})
	assert.ErrorIs(t, err, ErrProcessingFailed)
	assert.Equal(t, api.DefaultGuildName, f.processForm().Get("guild_name"))
	assert.Equal(t, "0", f.processForm().Get("enable_old_parser"))
}

func TestProcessSessionTimesOut(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "a.zevtc", time.Hour)
	require.NoError(t, f.app.Tokens.Add("main", "tok-abcdef123456"))

	sess := uploadAll(t, f)
	st, err := f.app.ProcessSession(context.Background(), sess, ProcessOptions{Timeout: 30 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish")
	require.NotNil(t, st)
	assert.Equal(t, "Parsing combat data with TopStats", st.Phase)
}
