package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wvw-insights/cbtup/internal/format"
)

var (
	cleanupDays   int
	cleanupDryRun bool
	cleanupAuto   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Move old combat logs to the trash",
	Long: `Move combat logs older than --days to the trash.

Logs are never deleted outright. The trash follows the freedesktop layout
(~/.local/share/Trash) unless cleanup.trash_dir is set.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Move logs older than this many days (default from settings)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be moved without moving")
	cleanupCmd.Flags().BoolVar(&cleanupAuto, "auto", false, "Run only if automatic cleanup has not run in this process")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	days := cleanupDays
	if days <= 0 {
		days = a.Settings.Cleanup.Days
	}
	root := a.Settings.LogDirectory

	m, err := a.Retention()
	if err != nil {
		return fmt.Errorf("failed to open trash: %w", err)
	}

	if cleanupDryRun {
		candidates, err := m.Candidates(root, days, a.Settings.Scan.Recursive)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Printf("No logs older than %d days\n", days)
			return nil
		}
		var total int64
		now := time.Now()
		fmt.Println("Dry run mode - logs that would be moved to the trash:")
		for _, c := range candidates {
			total += c.Size
			fmt.Printf("  %s (%s, %s)\n", c.Path, format.Size(c.Size), format.Relative(c.ModifiedAt, now))
		}
		fmt.Printf("\n%d log(s), %s\n", len(candidates), format.Size(total))
		return nil
	}

	cleanup := m.Cleanup
	if cleanupAuto {
		cleanup = m.AutoCleanupIfDue
	}
	run, err := cleanup(root, days, a.Settings.Scan.Recursive)
	if err != nil {
		return err
	}
	if run.Skipped {
		fmt.Println(markSkip + " Automatic cleanup already ran")
		return nil
	}

	for _, moved := range run.Moved {
		fmt.Printf("%s %s\n", markOK, moved.From)
	}
	for _, e := range run.Errors {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", markFail, e.Path, e.Reason)
	}

	fmt.Printf("\nCleanup complete (older than %d days):\n", days)
	fmt.Printf("  Moved:  %d\n", run.FilesMoved)
	fmt.Printf("  Freed:  %s\n", format.Size(run.BytesFreed))
	fmt.Printf("  Failed: %d\n", len(run.Errors))
	fmt.Printf("  Trash:  %s\n", styleDim.Render(m.Trash().Dir()))

	if len(run.Errors) > 0 {
		return fmt.Errorf("some logs could not be moved")
	}
	return nil
}
