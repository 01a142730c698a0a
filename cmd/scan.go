package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wvw-insights/cbtup/internal/catalog"
	"github.com/wvw-insights/cbtup/internal/format"
)

var (
	scanWindow       string
	scanHideUploaded bool
	scanLong         bool
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	Aliases: []string{"list", "ls"},
	Short:   "List combat logs in the log directory",
	Long: `List combat logs in the configured log directory, newest first.

Windows:
  all      every log (default)
  session  logs written since this process started
  24h, 48h, 72h`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanWindow, "window", "w", "all", "Time window: all, session, 24h, 48h, 72h")
	scanCmd.Flags().BoolVar(&scanHideUploaded, "hide-uploaded", false, "Hide logs that were already uploaded")
	scanCmd.Flags().BoolVarP(&scanLong, "long", "l", false, "Show detailed information")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	window, err := catalog.ParseWindow(scanWindow)
	if err != nil {
		return err
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.Scan(window, scanHideUploaded)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", a.Settings.LogDirectory, err)
	}

	if len(entries) == 0 {
		fmt.Printf("No logs found in %s\n", a.Settings.LogDirectory)
		return nil
	}

	fmt.Printf("%s (%s)\n\n", styleHeader.Render(fmt.Sprintf("Logs in window %s", window)), format.Count(len(entries)))

	now := time.Now()
	formatted := a.Settings.ShowFormattedTimestamps
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if scanLong {
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED\tUPLOADED\tPATH")
		fmt.Fprintln(w, "----\t----\t--------\t--------\t----")
	} else {
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
		fmt.Fprintln(w, "----\t----\t--------")
	}
	for _, e := range entries {
		name := format.LogName(e.Path, formatted)
		if scanLong {
			uploaded := ""
			if a.History.Uploaded(e.Name()) {
				uploaded = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, format.Size(e.Size), format.Relative(e.ModifiedAt, now), uploaded, e.Path)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, format.Size(e.Size), format.Relative(e.ModifiedAt, now))
	}
	return w.Flush()
}
