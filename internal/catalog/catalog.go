// Package catalog discovers combat log files on disk and filters them by age.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrIO is returned when the log root cannot be read.
var ErrIO = errors.New("log directory not accessible")

// DefaultExtensions are the file extensions arcdps writes combat logs with.
var DefaultExtensions = []string{".zevtc", ".evtc"}

// defaultMaxDepth bounds recursive scans even when no symlink cycle is seen.
const defaultMaxDepth = 16

// LogEntry is an immutable snapshot of one discovered log file.
type LogEntry struct {
	Path       string    `json:"path"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// Name returns the file name of the entry.
func (e LogEntry) Name() string {
	return filepath.Base(e.Path)
}

// Options configures a Catalog.
type Options struct {
	Extensions []string // empty means DefaultExtensions
	Exclude    []string // regex patterns matched against full paths
	MaxDepth   int      // 0 means defaultMaxDepth

	// StartedAt is the process start time used by WindowSinceStart.
	// Zero means the time New is called.
	StartedAt time.Time
	Now       func() time.Time
}

// Catalog scans a log root and filters the results by time window.
type Catalog struct {
	startedAt  time.Time
	now        func() time.Time
	extensions []string
	exclude    []*regexp.Regexp
	maxDepth   int
}

// New creates a catalog. The session start time is captured here and never changes.
func New(opts Options) (*Catalog, error) {
	excludeRegexps := make([]*regexp.Regexp, 0, len(opts.Exclude))
	for _, pattern := range opts.Exclude {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		excludeRegexps = append(excludeRegexps, re)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	startedAt := opts.StartedAt
	if startedAt.IsZero() {
		startedAt = now()
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	normalized := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	return &Catalog{
		startedAt:  startedAt,
		now:        now,
		extensions: normalized,
		exclude:    excludeRegexps,
		maxDepth:   maxDepth,
	}, nil
}

// StartedAt returns the session start timestamp.
func (c *Catalog) StartedAt() time.Time {
	return c.startedAt
}

// Now returns the catalog's notion of the current time.
func (c *Catalog) Now() time.Time {
	return c.now()
}

// Scan discovers log files under root, newest first.
// Symlinked directories are followed at most once each.
func (c *Catalog) Scan(root string, recursive bool) ([]LogEntry, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: no log directory configured", ErrIO)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrIO, absRoot)
	}

	w := &walker{
		catalog:   c,
		recursive: recursive,
		visited:   make(map[string]struct{}),
	}
	if err := w.walk(absRoot, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	sortNewestFirst(w.entries)
	return w.entries, nil
}

// Matches reports whether path looks like a log file this catalog collects.
func (c *Catalog) Matches(path string) bool {
	if c.excluded(path) {
		return false
	}
	lower := strings.ToLower(path)
	for _, ext := range c.extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (c *Catalog) excluded(path string) bool {
	for _, re := range c.exclude {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

type walker struct {
	catalog   *Catalog
	recursive bool
	visited   map[string]struct{}
	entries   []LogEntry
}

// walk only reports an error for the root; unreadable subdirectories are skipped.
func (w *walker) walk(dir string, depth int) error {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if _, seen := w.visited[real]; seen {
		return nil
	}
	w.visited[real] = struct{}{}

	items, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, item := range items {
		path := filepath.Join(dir, item.Name())

		// Stat follows symlinks so linked log folders are still found.
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if info.IsDir() {
			if !w.recursive || depth+1 > w.catalog.maxDepth || w.catalog.excluded(path) {
				continue
			}
			_ = w.walk(path, depth+1)
			continue
		}

		if !info.Mode().IsRegular() || !w.catalog.Matches(path) {
			continue
		}

		w.entries = append(w.entries, LogEntry{
			Path:       path,
			ModifiedAt: info.ModTime(),
			Size:       info.Size(),
		})
	}
	return nil
}

func sortNewestFirst(entries []LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ModifiedAt.Equal(entries[j].ModifiedAt) {
			return entries[i].ModifiedAt.After(entries[j].ModifiedAt)
		}
		return entries[i].Path < entries[j].Path
	})
}
