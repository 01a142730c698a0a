package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wvw-insights/cbtup/internal/format"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage Discord webhooks for upload notifications",
}

var webhookListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved webhooks, most recently used first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		hooks := a.Webhooks.Sorted()
		if len(hooks) == 0 {
			fmt.Println("No saved webhooks")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tLAST USED\tURL")
		fmt.Fprintln(w, "----\t---------\t---")
		for _, h := range hooks {
			lastUsed := "never"
			if !h.LastUsed.IsZero() {
				lastUsed = format.Relative(h.LastUsed, now)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", h.Name, lastUsed, h.URL)
		}
		return w.Flush()
	},
}

var webhookAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Save a webhook",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Webhooks.Add(args[0], args[1]); err != nil {
			return err
		}
		if err := a.Save(); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Printf("%s Saved webhook %q\n", markOK, args[0])
		return nil
	},
}

var webhookRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a saved webhook",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Webhooks.Remove(args[0]); err != nil {
			return err
		}
		if a.Settings.LastWebhook == args[0] {
			a.Settings.LastWebhook = ""
		}
		if err := a.Save(); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Printf("%s Removed webhook %q\n", markOK, args[0])
		return nil
	},
}

var webhookTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Post a test message to a saved webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.Webhooks.Get(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Notifier.Send(ctx, h.URL, "cbtup webhook test"); err != nil {
			return err
		}
		fmt.Printf("%s Posted a test message to %q\n", markOK, h.Name)
		return nil
	},
}

func init() {
	webhookCmd.AddCommand(webhookListCmd, webhookAddCmd, webhookRemoveCmd, webhookTestCmd)
	rootCmd.AddCommand(webhookCmd)
}
