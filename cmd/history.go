package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/wvw-insights/cbtup/internal/format"
	"github.com/wvw-insights/cbtup/internal/history"
)

var (
	historyLimit   int
	historyCopyAll int
	historyPrune   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show and manage links to uploaded reports",
}

var historyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List uploaded reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		records := a.History.List()
		if len(records) == 0 {
			fmt.Println("No reports yet")
			return nil
		}
		if historyLimit > 0 && len(records) > historyLimit {
			records = records[:historyLimit]
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLOG\tUPLOADED\tLINK")
		fmt.Fprintln(w, "--\t---\t--------\t----")
		for _, r := range records {
			link := r.Link
			if link == "" {
				link = styleDim.Render("(not processed)")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				shortID(r.TaskID), r.Name, format.Relative(r.UploadedAt, now), link)
		}
		return w.Flush()
	},
}

var historyRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove one report from the history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := findRecord(a.History, args[0])
		if err != nil {
			return err
		}
		if err := a.History.Remove(r.TaskID); err != nil {
			return err
		}
		fmt.Printf("%s Removed %s\n", markOK, r.Name)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every report from the history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.History.Clear()
		if err != nil {
			return err
		}
		fmt.Printf("%s Removed %d report(s)\n", markOK, n)
		return nil
	},
}

var historyCopyCmd = &cobra.Command{
	Use:   "copy [id]",
	Short: "Copy report links to the clipboard (default: the newest)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		var links []string
		switch {
		case len(args) == 1:
			r, err := findRecord(a.History, args[0])
			if err != nil {
				return err
			}
			if r.Link == "" {
				return fmt.Errorf("%s has no report link yet", r.Name)
			}
			links = []string{r.Link}
		default:
			n := 1
			if historyCopyAll > 0 {
				n = historyCopyAll
			}
			for _, r := range a.History.List() {
				if r.Link == "" {
					continue
				}
				links = append(links, r.Link)
				if len(links) == n {
					break
				}
			}
			if len(links) == 0 {
				return history.ErrNotFound
			}
		}

		if err := clipboard.WriteAll(strings.Join(links, "\n")); err != nil {
			return fmt.Errorf("failed to copy to clipboard: %w", err)
		}
		fmt.Printf("%s Copied %d link(s) to clipboard\n", markOK, len(links))
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget which old logs were uploaded",
	Long: `Forget uploaded-log entries older than --older-than, so those logs are
listed again by 'cbtup scan --hide-uploaded'. Report links are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.History.PruneUploaded(historyPrune)
		if err != nil {
			return err
		}
		fmt.Printf("%s Forgot %d uploaded log(s)\n", markOK, n)
		return nil
	},
}

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Show at most this many reports")
	historyCopyCmd.Flags().IntVar(&historyCopyAll, "last", 0, "Copy the links of the last N reports")
	historyPruneCmd.Flags().DurationVar(&historyPrune, "older-than", history.UploadedRetention, "Age after which uploaded logs are forgotten")
	historyCmd.AddCommand(historyListCmd, historyRemoveCmd, historyClearCmd, historyCopyCmd, historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

// findRecord resolves a full task ID or a unique prefix of one.
func findRecord(s *history.Store, id string) (history.Record, error) {
	if r, err := s.Get(id); err == nil {
		return r, nil
	}
	var found []history.Record
	for _, r := range s.List() {
		if strings.HasPrefix(r.TaskID, id) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return history.Record{}, fmt.Errorf("%w: %s", history.ErrNotFound, id)
	case 1:
		return found[0], nil
	}
	return history.Record{}, fmt.Errorf("ambiguous id %q matches %d reports", id, len(found))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
