package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wvw-insights/cbtup/internal/tokens"
	"github.com/wvw-insights/cbtup/internal/webhook"
)

// Environment overrides.
const (
	EnvAPIEndpoint = "CBTUP_API_ENDPOINT"
	EnvLogDir      = "CBTUP_LOG_DIR"
	EnvToken       = "CBTUP_TOKEN"
)

// Settings is the persisted user configuration.
type Settings struct {
	LogDirectory            string `yaml:"log_directory"`
	APIEndpoint             string `yaml:"api_endpoint"`
	ShowFormattedTimestamps bool   `yaml:"show_formatted_timestamps"`

	Tokens      []tokens.Token `yaml:"tokens,omitempty"`
	ActiveToken string         `yaml:"active_token,omitempty"`

	Scan    ScanSettings    `yaml:"scan"`
	Upload  UploadSettings  `yaml:"upload"`
	Process ProcessSettings `yaml:"process"`
	Cleanup CleanupSettings `yaml:"cleanup"`

	Webhooks            []webhook.Saved `yaml:"webhooks,omitempty"`
	RememberLastWebhook bool            `yaml:"remember_last_webhook"`
	LastWebhook         string          `yaml:"last_webhook,omitempty"`

	Log       LogSettings `yaml:"log"`
	HistoryDB string      `yaml:"history_db"`

	// EnvToken is a token supplied through the environment. It is never saved.
	EnvToken string `yaml:"-"`
}

type ScanSettings struct {
	Recursive  bool     `yaml:"recursive"`
	Extensions []string `yaml:"extensions"`
	Exclude    []string `yaml:"exclude"`
}

type UploadSettings struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// ProcessSettings control server-side report building after an upload.
type ProcessSettings struct {
	GuildName       string        `yaml:"guild_name"`
	Legacy          bool          `yaml:"legacy_report"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

type CleanupSettings struct {
	AutoEnabled bool   `yaml:"auto_enabled"`
	Days        int    `yaml:"days"`
	TrashDir    string `yaml:"trash_dir"`
}

// LogSettings configures the application log, not the combat logs.
type LogSettings struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NewSettings returns settings with every default filled in.
func NewSettings() *Settings {
	logFile := ""
	if dir, err := GlobalLogsDir(); err == nil {
		logFile = dir + string(os.PathSeparator) + LogFileName
	}
	historyDB, _ := DefaultHistoryFile()

	return &Settings{
		LogDirectory:            DefaultLogDirectory(),
		APIEndpoint:             "https://parser.rethl.net/api.php",
		ShowFormattedTimestamps: true,
		Scan: ScanSettings{
			Recursive:  true,
			Extensions: []string{".zevtc", ".evtc"},
			Exclude:    []string{},
		},
		Upload: UploadSettings{
			Concurrency:    4,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			RequestTimeout: 2 * time.Minute,
		},
		Process: ProcessSettings{
			PollInterval:    2 * time.Second,
			MaxPollInterval: 10 * time.Second,
			Timeout:         30 * time.Minute,
		},
		Cleanup: CleanupSettings{
			AutoEnabled: false,
			Days:        30,
		},
		Log: LogSettings{
			Level:      "info",
			File:       logFile,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		HistoryDB: historyDB,
	}
}

// LoadSettings loads settings from path, or ~/.cbtup/settings.yaml when path
// is empty, and applies environment overrides.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		var err error
		if path, err = GlobalSettingsFile(); err != nil {
			return nil, err
		}
	}
	s, err := LoadYAMLOrDefault(path, NewSettings)
	if err != nil {
		return nil, err
	}
	s.ApplyEnv()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	return s, nil
}

// SaveSettings saves settings to path, or ~/.cbtup/settings.yaml when path is empty.
func SaveSettings(path string, s *Settings) error {
	if path == "" {
		var err error
		if path, err = GlobalSettingsFile(); err != nil {
			return err
		}
	}
	return SaveYAML(path, s)
}

// ApplyEnv overrides fields from CBTUP_* environment variables.
func (s *Settings) ApplyEnv() {
	if v := os.Getenv(EnvAPIEndpoint); v != "" {
		s.APIEndpoint = v
	}
	if v := os.Getenv(EnvLogDir); v != "" {
		s.LogDirectory = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		s.EnvToken = v
	}
}

// Validate checks values that would make the core misbehave.
func (s *Settings) Validate() error {
	u, err := url.Parse(s.APIEndpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_endpoint must be an http(s) URL: %q", s.APIEndpoint)
	}
	if len(s.Scan.Extensions) == 0 {
		return fmt.Errorf("scan.extensions must not be empty")
	}
	if s.Upload.Concurrency < 1 {
		return fmt.Errorf("upload.concurrency must be at least 1")
	}
	if s.Upload.MaxAttempts < 1 {
		return fmt.Errorf("upload.max_attempts must be at least 1")
	}
	if s.Upload.InitialBackoff <= 0 || s.Upload.MaxBackoff < s.Upload.InitialBackoff {
		return fmt.Errorf("upload backoff must be positive with max_backoff >= initial_backoff")
	}
	if s.Upload.RequestTimeout <= 0 {
		return fmt.Errorf("upload.request_timeout must be positive")
	}
	if s.Process.PollInterval <= 0 || s.Process.MaxPollInterval < s.Process.PollInterval {
		return fmt.Errorf("process poll interval must be positive with max_poll_interval >= poll_interval")
	}
	if s.Process.Timeout <= 0 {
		return fmt.Errorf("process.timeout must be positive")
	}
	if s.Cleanup.Days < 1 {
		return fmt.Errorf("cleanup.days must be at least 1")
	}
	return nil
}

// Get returns the value at a dotted key such as "upload.concurrency".
func (s *Settings) Get(key string) (string, error) {
	var root yaml.Node
	if err := root.Encode(s); err != nil {
		return "", fmt.Errorf("failed to encode settings: %w", err)
	}
	node := lookup(&root, key)
	if node == nil {
		return "", fmt.Errorf("unknown setting %q", key)
	}
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value, nil
	case yaml.SequenceNode:
		var vals []string
		for _, c := range node.Content {
			if c.Kind != yaml.ScalarNode {
				return "", fmt.Errorf("setting %q is not a simple list", key)
			}
			vals = append(vals, c.Value)
		}
		return strings.Join(vals, ","), nil
	}
	return "", fmt.Errorf("setting %q is a section; use a nested key", key)
}

// Set updates a dotted key from its string form. Lists take comma separated values.
// The value is type checked by decoding, and the result must pass Validate.
func (s *Settings) Set(key, value string) error {
	var root yaml.Node
	if err := root.Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	node := lookup(&root, key)
	if node == nil {
		return fmt.Errorf("unknown setting %q", key)
	}

	switch node.Kind {
	case yaml.ScalarNode:
		node.Value = value
		node.Tag = ""
		node.Style = 0
	case yaml.SequenceNode:
		if len(node.Content) > 0 && node.Content[0].Kind != yaml.ScalarNode {
			return fmt.Errorf("setting %q cannot be set from the command line", key)
		}
		node.Content = nil
		node.Style = 0
		for _, v := range strings.Split(value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
		}
	default:
		return fmt.Errorf("setting %q is a section; use a nested key", key)
	}

	updated := *s
	if err := root.Decode(&updated); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	*s = updated
	return nil
}

// Keys lists every settable dotted key.
func (s *Settings) Keys() []string {
	var root yaml.Node
	if err := root.Encode(s); err != nil {
		return nil
	}
	var keys []string
	var walk func(prefix string, n *yaml.Node)
	walk = func(prefix string, n *yaml.Node) {
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i].Value, n.Content[i+1]
			if prefix != "" {
				k = prefix + "." + k
			}
			switch v.Kind {
			case yaml.MappingNode:
				walk(k, v)
			case yaml.SequenceNode:
				if len(v.Content) == 0 || v.Content[0].Kind == yaml.ScalarNode {
					keys = append(keys, k)
				}
			default:
				keys = append(keys, k)
			}
		}
	}
	walk("", &root)
	return keys
}

func lookup(root *yaml.Node, key string) *yaml.Node {
	n := root
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	for _, part := range strings.Split(key, ".") {
		if n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == part {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	return n
}
