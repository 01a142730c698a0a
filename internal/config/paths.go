// Package config handles settings loading, saving, and path management.
package config

import (
	"os"
	"path/filepath"
)

const (
	// GlobalDirName is the name of the cbtup directory under the home directory.
	GlobalDirName = ".cbtup"

	// LogsDirName is the name of the logs directory.
	LogsDirName = "logs"

	SettingsFileName = "settings.yaml"
	HistoryFileName  = "history.db"
	LogFileName      = "cbtup.log"
)

// HomeEnv overrides the global directory.
const HomeEnv = "CBTUP_HOME"

// GlobalDir returns the path to the global cbtup directory (~/.cbtup/).
func GlobalDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, GlobalDirName), nil
}

// GlobalSettingsFile returns the path to the settings.yaml file.
func GlobalSettingsFile() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SettingsFileName), nil
}

// GlobalLogsDir returns the path to the logs directory.
func GlobalLogsDir() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogsDirName), nil
}

// DefaultHistoryFile returns the path to the report history database.
func DefaultHistoryFile() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, HistoryFileName), nil
}

// DefaultLogDirectory returns where arcdps writes combat logs by default.
func DefaultLogDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Documents", "Guild Wars 2", "addons", "arcdps", "arcdps.cbtlogs")
}

// EnsureGlobalDir creates the global cbtup directory if it doesn't exist.
func EnsureGlobalDir() error {
	dir, err := GlobalDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}
