package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var tokenGenerateActivate bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage upload tokens",
	Long: `Manage the tokens that tie uploads to your report history.

Exactly one saved token is active at a time. CBTUP_TOKEN overrides it.`,
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		list := a.Tokens.List()
		if len(list) == 0 {
			fmt.Println("No saved tokens. Add one with 'cbtup token add <name> <token>' or 'cbtup token generate <name>'")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ACTIVE\tNAME\tTOKEN")
		fmt.Fprintln(w, "------\t----\t-----")
		for _, t := range list {
			mark := ""
			if t.IsActive {
				mark = markOK
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", mark, t.Name, t.Masked())
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if a.Settings.EnvToken != "" {
			fmt.Println(styleDim.Render("\nCBTUP_TOKEN is set and overrides the active token"))
		}
		return nil
	},
}

var tokenAddCmd = &cobra.Command{
	Use:   "add <name> <token>",
	Short: "Save a token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Tokens.Add(args[0], args[1]); err != nil {
			return err
		}
		if err := a.Save(); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Printf("%s Saved token %q\n", markOK, args[0])
		if a.Tokens.ActiveName() == args[0] {
			fmt.Println("  It is now the active token")
		}
		return nil
	},
}

var tokenRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a saved token",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		wasActive := a.Tokens.ActiveName() == args[0]
		if err := a.Tokens.Remove(args[0]); err != nil {
			return err
		}
		if err := a.Save(); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Printf("%s Removed token %q\n", markOK, args[0])
		if wasActive {
			fmt.Println("  No token is active now. Pick one with 'cbtup token use <name>'")
		}
		return nil
	},
}

var tokenUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Make a saved token active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Tokens.SetActive(args[0]); err != nil {
			return err
		}
		if err := a.Save(); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Printf("%s Active token is now %q\n", markOK, args[0])
		return nil
	},
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate <name>",
	Short: "Ask the parser for a new token and save it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		secret, err := a.API.GenerateToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		if err := a.Tokens.Add(args[0], secret); err != nil {
			return err
		}
		if tokenGenerateActivate {
			if err := a.Tokens.SetActive(args[0]); err != nil {
				return err
			}
		}
		if err := a.Save(); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Printf("%s Generated token %q (%s)\n", markOK, args[0], styleDim.Render(secret))
		return nil
	},
}

var tokenValidateCmd = &cobra.Command{
	Use:   "validate [name]",
	Short: "Check a saved token with the parser (default: the active token)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		var name, secret string
		if len(args) == 1 {
			t, err := a.Tokens.Get(args[0])
			if err != nil {
				return err
			}
			name, secret = t.Name, t.Secret
		} else {
			var ok bool
			if secret, ok = a.Token(); !ok {
				return fmt.Errorf("no active token")
			}
			name = a.Tokens.ActiveName()
			if a.Settings.EnvToken != "" {
				name = "CBTUP_TOKEN"
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		valid, err := a.API.ValidateToken(ctx, secret)
		if err != nil {
			return fmt.Errorf("failed to validate token: %w", err)
		}
		if !valid {
			fmt.Printf("%s Token %q was rejected by the parser\n", markFail, name)
			return fmt.Errorf("invalid token")
		}
		fmt.Printf("%s Token %q is valid\n", markOK, name)
		return nil
	},
}

func init() {
	tokenGenerateCmd.Flags().BoolVar(&tokenGenerateActivate, "use", false, "Make the new token active")
	tokenCmd.AddCommand(tokenListCmd, tokenAddCmd, tokenRemoveCmd, tokenUseCmd, tokenGenerateCmd, tokenValidateCmd)
	rootCmd.AddCommand(tokenCmd)
}
