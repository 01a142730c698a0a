package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wvw-insights/cbtup/internal/app"
	"github.com/wvw-insights/cbtup/internal/session"
)

var (
	Version      = "dev"
	settingsPath string
	logDir       string
	apiEndpoint  string
	concurrency  int
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:     "cbtup",
	Short:   "Combat log uploader for arcdps",
	Version: Version,
	Long: `cbtup uploads arcdps combat logs to the report parser, keeps a history
of report links, and moves old logs to the trash.

Settings live in ~/.cbtup/settings.yaml (or $CBTUP_HOME/settings.yaml).`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "config", "c", "", "Path to settings file (default: ~/.cbtup/settings.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logDir, "log-dir", "d", "", "Combat log directory (or set CBTUP_LOG_DIR env var)")
	rootCmd.PersistentFlags().StringVar(&apiEndpoint, "api-endpoint", "", "Parser API endpoint (or set CBTUP_API_ENDPOINT env var)")
	rootCmd.PersistentFlags().IntVarP(&concurrency, "concurrency", "p", 0, "Number of concurrent uploads (default from settings)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print info logs to stderr")
}

// openApp loads settings with the persistent flag overrides applied.
func openApp(onTask func(session.Task)) (*app.App, error) {
	a, err := app.New(app.Options{
		SettingsPath: settingsPath,
		LogDir:       logDir,
		APIEndpoint:  apiEndpoint,
		Concurrency:  concurrency,
		Verbose:      verbose,
		OnTaskUpdate: onTask,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}
