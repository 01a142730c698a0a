package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wvw-insights/cbtup/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
	Long: `Show or change settings by dotted key, for example:

  cbtup config set upload.concurrency 6
  cbtup config set scan.extensions .zevtc,.evtc
  cbtup config set cleanup.auto_enabled true

Tokens and webhooks are managed with 'cbtup token' and 'cbtup webhook'.`,
}

// loadSettingsForEdit reads the file without environment overrides so that
// saving does not persist them.
func loadSettingsForEdit() (*config.Settings, string, error) {
	path := settingsPath
	if path == "" {
		var err error
		if path, err = config.GlobalSettingsFile(); err != nil {
			return nil, "", err
		}
	}
	s, err := config.LoadYAMLOrDefault(path, config.NewSettings)
	if err != nil {
		return nil, "", err
	}
	return s, path, nil
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show every setting",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, path, err := loadSettingsForEdit()
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n\n", styleHeader.Render("Settings"), styleDim.Render(path))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, key := range s.Keys() {
			v, err := s.Get(key)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\n", key, v)
		}
		fmt.Fprintf(w, "tokens\t%d saved\n", len(s.Tokens))
		fmt.Fprintf(w, "webhooks\t%d saved\n", len(s.Webhooks))
		return w.Flush()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := loadSettingsForEdit()
		if err != nil {
			return err
		}
		v, err := s.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, path, err := loadSettingsForEdit()
		if err != nil {
			return err
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := config.SaveSettings(path, s); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		v, _ := s.Get(args[0])
		fmt.Printf("%s %s = %s\n", markOK, args[0], v)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
