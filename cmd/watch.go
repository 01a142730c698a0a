package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wvw-insights/cbtup/internal/app"
	"github.com/wvw-insights/cbtup/internal/catalog"
	"github.com/wvw-insights/cbtup/internal/format"
	"github.com/wvw-insights/cbtup/internal/session"
)

var (
	watchUpload bool
	watchDelay  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the log directory for new combat logs",
	Long: `Watch the log directory and print each combat log once arcdps has
finished writing it. With --upload, new logs are uploaded as they settle;
logs that arrive while an upload is running are sent in the next batch.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchUpload, "upload", false, "Upload new logs as they appear")
	watchCmd.Flags().DurationVar(&watchDelay, "settle", catalog.DefaultSettleDelay, "How long a log must stay unchanged before it is reported")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp(printTaskUpdate)
	if err != nil {
		return err
	}
	defer a.Close()

	if watchUpload {
		if _, ok := a.Token(); !ok {
			return fmt.Errorf("%w: add one with 'cbtup token add' or set CBTUP_TOKEN", session.ErrNoActiveToken)
		}
	}

	root := a.Settings.LogDirectory
	w, err := a.Catalog.NewWatcher(root, a.Settings.Scan.Recursive, watchDelay, a.Logger.Named("watcher"))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	defer w.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)...\n", root)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var pending []catalog.LogEntry
	for {
		select {
		case <-ctx.Done():
			if s, ok := a.Sessions.Current(); ok {
				<-s.Done()
			}
			return nil
		case e := <-w.Events():
			fmt.Printf("%s %s (%s)\n", styleHeader.Render("+"),
				format.LogName(e.Path, a.Settings.ShowFormattedTimestamps), format.Size(e.Size))
			if watchUpload {
				pending = append(pending, e)
				pending = flushPending(ctx, a, pending)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				pending = flushPending(ctx, a, pending)
			}
		}
	}
}

// flushPending starts a session for pending logs unless one is already running.
// It returns what is still waiting.
func flushPending(ctx context.Context, a *app.App, pending []catalog.LogEntry) []catalog.LogEntry {
	_, err := a.StartUpload(ctx, pending, 0)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrInvalidState):
		return pending
	default:
		fmt.Fprintf(os.Stderr, "%s failed to start upload: %v\n", markFail, err)
		return nil
	}
}
