// Package retention moves aged combat logs to the trash.
package retention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wvw-insights/cbtup/internal/catalog"
)

// DefaultThresholdDays is the age after which logs are cleaned up.
const DefaultThresholdDays = 30

// ErrUnsafeRoot is returned for filesystem roots and system directories.
var ErrUnsafeRoot = errors.New("refusing to clean a drive root or system directory")

// MoveError is a per-file failure inside a cleanup run.
type MoveError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (e MoveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// MovedFile is one log that went to the trash.
type MovedFile struct {
	From string `json:"from"`
	To   string `json:"to"`
	Size int64  `json:"size"`
}

// Run is the outcome of one cleanup.
type Run struct {
	ThresholdDays int         `json:"threshold_days"`
	FilesMoved    int         `json:"files_moved"`
	BytesFreed    int64       `json:"bytes_freed"`
	Moved         []MovedFile `json:"moved,omitempty"`
	Errors        []MoveError `json:"errors,omitempty"`
	Skipped       bool        `json:"skipped,omitempty"`
}

// Manager finds old logs and moves them to a Trash.
type Manager struct {
	catalog *catalog.Catalog
	trash   Trash
	flag    *Flag
	now     func() time.Time
	logger  *zap.Logger
}

// NewManager creates a retention manager. flag is the process-wide
// auto-cleanup cell and must be shared by every caller of AutoCleanupIfDue.
func NewManager(c *catalog.Catalog, trash Trash, flag *Flag, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if flag == nil {
		flag = &Flag{}
	}
	return &Manager{
		catalog: c,
		trash:   trash,
		flag:    flag,
		now:     c.Now,
		logger:  logger,
	}
}

// Flag returns the auto-cleanup flag.
func (m *Manager) Flag() *Flag {
	return m.flag
}

// Trash returns where cleaned logs go.
func (m *Manager) Trash() Trash {
	return m.trash
}

// Candidates lists logs under root last modified before now minus days.
func (m *Manager) Candidates(root string, days int, recursive bool) ([]catalog.LogEntry, error) {
	if days < 1 {
		days = DefaultThresholdDays
	}
	if err := checkRoot(root); err != nil {
		return nil, err
	}

	entries, err := m.catalog.Scan(root, recursive)
	if err != nil {
		return nil, err
	}

	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)
	trashDir := ""
	if m.trash != nil {
		trashDir = m.trash.Dir()
	}

	var out []catalog.LogEntry
	for _, e := range entries {
		if !e.ModifiedAt.Before(cutoff) {
			continue
		}
		if trashDir != "" && within(trashDir, e.Path) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Cleanup moves every candidate to the trash. Per-file failures are collected
// in the run and never stop the batch.
func (m *Manager) Cleanup(root string, days int, recursive bool) (*Run, error) {
	if days < 1 {
		days = DefaultThresholdDays
	}
	if m.trash == nil {
		return nil, fmt.Errorf("no trash configured")
	}

	candidates, err := m.Candidates(root, days, recursive)
	if err != nil {
		return nil, err
	}

	run := &Run{ThresholdDays: days}
	for _, e := range candidates {
		dest, err := m.trash.Move(e.Path)
		if err != nil {
			m.logger.Warn("failed to move log to trash", zap.String("path", e.Path), zap.Error(err))
			run.Errors = append(run.Errors, MoveError{Path: e.Path, Reason: err.Error()})
			continue
		}
		run.FilesMoved++
		run.BytesFreed += e.Size
		run.Moved = append(run.Moved, MovedFile{From: e.Path, To: dest, Size: e.Size})
	}

	m.logger.Info("cleanup finished",
		zap.String("root", root),
		zap.Int("threshold_days", days),
		zap.Int("moved", run.FilesMoved),
		zap.Int64("bytes", run.BytesFreed),
		zap.Int("errors", len(run.Errors)))
	return run, nil
}

// AutoCleanupIfDue runs Cleanup once per process. Later calls return an empty,
// skipped run. The flag is set before cleaning, so a failed run is not retried.
func (m *Manager) AutoCleanupIfDue(root string, days int, recursive bool) (*Run, error) {
	if days < 1 {
		days = DefaultThresholdDays
	}
	if !m.flag.TrySet() {
		return &Run{ThresholdDays: days, Skipped: true}, nil
	}
	return m.Cleanup(root, days, recursive)
}

func checkRoot(root string) error {
	if root == "" {
		return fmt.Errorf("%w: %s", catalog.ErrIO, "empty log directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("%w: %v", catalog.ErrIO, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if isUnsafeRoot(abs) {
		return fmt.Errorf("%w: %s", ErrUnsafeRoot, abs)
	}
	return nil
}

var systemDirs = map[string]bool{
	"/bin": true, "/boot": true, "/dev": true, "/etc": true, "/lib": true,
	"/proc": true, "/sbin": true, "/sys": true, "/usr": true, "/var": true,
	"/system": true, "/library": true, "/applications": true,
}

func isUnsafeRoot(abs string) bool {
	clean := filepath.Clean(abs)
	if filepath.Dir(clean) == clean {
		return true
	}
	lower := strings.ToLower(filepath.ToSlash(clean))
	if strings.HasSuffix(lower, ":/") || strings.HasSuffix(lower, ":") {
		return true
	}
	if strings.Contains(lower+"/", "/windows/") || strings.Contains(lower, "/program files") {
		return true
	}
	return systemDirs[lower]
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}
