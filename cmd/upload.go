package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/wvw-insights/cbtup/internal/api"
	"github.com/wvw-insights/cbtup/internal/app"
	"github.com/wvw-insights/cbtup/internal/catalog"
	"github.com/wvw-insights/cbtup/internal/format"
	"github.com/wvw-insights/cbtup/internal/session"
)

const progressInterval = 5 * time.Second

var (
	uploadWindow      string
	uploadLimit       int
	uploadIncludeDone bool
	uploadDryRun      bool
	uploadNotify      string
	uploadCopy        bool
	uploadProcess     bool
	uploadGuild       string
	uploadLegacy      bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload [logs...]",
	Short: "Upload combat logs to the report parser",
	Long: `Upload combat logs with the active token.

Without arguments, every log in --window that has not been uploaded yet is sent.
Press Ctrl+C to cancel: uploads in flight finish, nothing new starts.

With --process the parser builds the reports once every log is uploaded, and
the report links are saved to history.

Examples:
  cbtup upload --process
  cbtup upload --window 72h --process --guild "Night Shift" --notify raid
  cbtup upload ~/logs/20251010-222255.zevtc --process --legacy --copy`,
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadWindow, "window", "w", "24h", "Time window used when no logs are given: all, session, 24h, 48h, 72h")
	uploadCmd.Flags().IntVarP(&uploadLimit, "limit", "n", 0, "Concurrent uploads for this session (default from settings)")
	uploadCmd.Flags().BoolVar(&uploadIncludeDone, "include-uploaded", false, "Upload logs again even if they were uploaded before")
	uploadCmd.Flags().BoolVar(&uploadDryRun, "dry-run", false, "Show what would be uploaded without uploading")
	uploadCmd.Flags().StringVar(&uploadNotify, "notify", "", "Post report links to this saved webhook when done")
	uploadCmd.Flags().BoolVar(&uploadCopy, "copy", false, "Copy report links to the clipboard when done")
	uploadCmd.Flags().BoolVar(&uploadProcess, "process", false, "Build reports from the uploaded logs and wait for them")
	uploadCmd.Flags().StringVar(&uploadGuild, "guild", "", "Guild name shown on the reports (with --process)")
	uploadCmd.Flags().BoolVar(&uploadLegacy, "legacy", false, "Also build the legacy report (with --process)")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	a, err := openApp(printTaskUpdate)
	if err != nil {
		return err
	}
	defer a.Close()

	selection, err := uploadSelection(a, args)
	if err != nil {
		return err
	}

	if len(selection) == 0 {
		fmt.Println("No logs to upload")
		return nil
	}

	if uploadDryRun {
		fmt.Println("Dry run mode - logs that would be uploaded:")
		for _, e := range selection {
			fmt.Printf("  %s (%s)\n", e.Path, format.Size(e.Size))
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := a.StartUpload(ctx, selection, uploadLimit)
	if err != nil {
		if errors.Is(err, session.ErrNoActiveToken) {
			return fmt.Errorf("%w: add one with 'cbtup token add' or set CBTUP_TOKEN", err)
		}
		return err
	}

	fmt.Printf("Uploading %d log(s) (concurrency: %d)...\n\n", len(selection), sess.Limit())

	// The session drains on its own after Ctrl+C.
	waitWithProgress(sess)
	if ctx.Err() != nil {
		fmt.Println(styleSkip.Render("\nCancelled; uploads in flight were allowed to finish"))
	}

	snap := sess.Snapshot()
	fmt.Printf("\n%s\n", styleHeader.Render("Upload "+snap.State.String()+":"))
	fmt.Printf("  Succeeded: %d\n", snap.Succeeded)
	fmt.Printf("  Failed:    %d\n", snap.Failed)
	if snap.Pending > 0 {
		fmt.Printf("  Not sent:  %d\n", snap.Pending)
	}
	if snap.Unrecorded > 0 {
		fmt.Printf("  Not in history: %d\n", snap.Unrecorded)
	}

	links := sessionLinks(sess)
	processed := false
	var processErr error
	if uploadProcess && snap.Succeeded > 0 && ctx.Err() == nil {
		var reports []string
		reports, processErr = processUploads(ctx, a, sess)
		if processErr != nil {
			fmt.Fprintf(os.Stderr, "%s Processing: %v\n", markFail, processErr)
		}
		if len(reports) > 0 {
			links = reports
			processed = true
		}
	}

	if uploadCopy && len(links) > 0 {
		if err := clipboard.WriteAll(strings.Join(links, "\n")); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not copy to clipboard: %v\n", err)
		} else {
			fmt.Printf("%d link(s) copied to clipboard\n", len(links))
		}
	}

	notify := uploadNotify
	if notify == "" && a.Settings.RememberLastWebhook {
		notify = a.Settings.LastWebhook
	}
	if notify != "" && len(links) > 0 {
		var err error
		if processed {
			err = a.NotifyReports(context.Background(), notify, links)
		} else {
			err = a.NotifySession(context.Background(), notify, sess)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to notify webhook %q: %v\n", notify, err)
		} else {
			fmt.Printf("Posted %d link(s) to webhook %q\n", len(links), notify)
		}
	}

	runAutoCleanup(a)

	if snap.Failed > 0 {
		return fmt.Errorf("%d upload(s) failed", snap.Failed)
	}
	if processErr != nil {
		return fmt.Errorf("processing failed: %w", processErr)
	}
	return nil
}

// processUploads builds the reports for a finished session and returns their links.
func processUploads(ctx context.Context, a *app.App, sess *session.Session) ([]string, error) {
	fmt.Printf("\n%s\n", styleHeader.Render("Processing:"))

	lastPhase := ""
	st, err := a.ProcessSession(ctx, sess, app.ProcessOptions{
		GuildName: uploadGuild,
		Legacy:    uploadLegacy,
		OnStatus: func(st api.ProcessStatus) {
			phase := st.Phase
			if phase == "" {
				phase = st.Status
			}
			if phase == lastPhase {
				return
			}
			lastPhase = phase
			fmt.Println(styleDim.Render(fmt.Sprintf("[%3.0f%%] %s", st.Progress, phase)))
		},
	})
	if st == nil || !st.Complete() {
		return nil, err
	}

	urls := st.ReportURLs()
	for _, r := range st.Reports {
		fmt.Printf("%s %s %s\n", markOK, r.Name, r.URL)
	}
	if len(urls) == 0 {
		fmt.Println(styleSkip.Render("Processing finished without any reports"))
	}
	return urls, err
}

func uploadSelection(a *app.App, args []string) ([]catalog.LogEntry, error) {
	if len(args) == 0 {
		window, err := catalog.ParseWindow(uploadWindow)
		if err != nil {
			return nil, err
		}
		entries, err := a.Scan(window, !uploadIncludeDone)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", a.Settings.LogDirectory, err)
		}
		return entries, nil
	}

	var out []catalog.LogEntry
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg, err)
		}
		if info.IsDir() || !a.Catalog.Matches(path) {
			return nil, fmt.Errorf("not a combat log: %s", arg)
		}
		out = append(out, catalog.LogEntry{Path: path, ModifiedAt: info.ModTime(), Size: info.Size()})
	}
	return out, nil
}

func waitWithProgress(s *session.Session) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.Done():
			return
		case <-ticker.C:
			snap := s.Snapshot()
			fmt.Println(styleDim.Render(fmt.Sprintf("[%d/%d] %d in flight, %d pending",
				snap.Done(), snap.Total, snap.InFlight, snap.Pending)))
		}
	}
}

func printTaskUpdate(t session.Task) {
	switch t.Status {
	case session.Succeeded:
		fmt.Printf("%s %s %s\n", markOK, t.Entry.Name(), styleDim.Render(t.ResultLink))
		if t.LastError != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", styleSkip.Render(t.LastError))
		}
	case session.Failed:
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", markFail, t.Entry.Name(), t.LastError)
	}
}

func sessionLinks(s *session.Session) []string {
	var links []string
	for _, t := range s.Tasks() {
		if t.Status == session.Succeeded && t.ResultLink != "" {
			links = append(links, t.ResultLink)
		}
	}
	return links
}

func runAutoCleanup(a *app.App) {
	run, err := a.AutoCleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: automatic cleanup failed: %v\n", err)
		return
	}
	if run == nil || run.Skipped || run.FilesMoved == 0 {
		return
	}
	fmt.Printf("Moved %d log(s) older than %d days to the trash (%s)\n",
		run.FilesMoved, run.ThresholdDays, format.Size(run.BytesFreed))
}
