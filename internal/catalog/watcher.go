package catalog

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettleDelay is how long a log must stay quiet before it is reported.
// arcdps writes the file and then compresses it, producing several events.
const DefaultSettleDelay = 2 * time.Second

// Watcher reports new or rewritten log files under a root as they settle.
type Watcher struct {
	catalog    *Catalog
	root       string
	recursive  bool
	delay      time.Duration
	logger     *zap.Logger
	fsWatcher  *fsnotify.Watcher
	eventsChan chan LogEntry
	done       chan struct{}
	stopOnce   sync.Once
	debounce   map[string]*time.Timer
	debounceMu sync.Mutex
}

// NewWatcher creates a watcher for root. Call Start to begin receiving events.
func (c *Catalog) NewWatcher(root string, recursive bool, delay time.Duration, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		catalog:    c,
		root:       root,
		recursive:  recursive,
		delay:      delay,
		logger:     logger,
		fsWatcher:  fsWatcher,
		eventsChan: make(chan LogEntry, 100),
		done:       make(chan struct{}),
		debounce:   make(map[string]*time.Timer),
	}, nil
}

// Events returns the channel of settled log entries.
func (w *Watcher) Events() <-chan LogEntry {
	return w.eventsChan
}

// Start adds the root (and its subdirectories when recursive) and starts processing.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "watch", Path: w.root, Err: os.ErrInvalid}
	}
	if err := w.addTree(w.root); err != nil {
		return err
	}

	go w.processEvents()
	return nil
}

// Stop stops the watcher and pending debounce timers.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsWatcher.Close()

		w.debounceMu.Lock()
		for path, timer := range w.debounce {
			timer.Stop()
			delete(w.debounce, path)
		}
		w.debounceMu.Unlock()
	})
}

func (w *Watcher) addTree(dir string) error {
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}
	if !w.recursive {
		return nil
	}

	items, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		sub := filepath.Join(dir, item.Name())
		if err := w.addTree(sub); err != nil {
			w.logger.Warn("failed to watch directory", zap.String("dir", sub), zap.Error(err))
		}
	}
	return nil
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 && w.recursive {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	if !w.catalog.Matches(event.Name) {
		return
	}

	w.debounceEvent(event.Name, func() {
		w.emit(event.Name)
	})
}

func (w *Watcher) debounceEvent(path string, fn func()) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}

	w.debounce[path] = time.AfterFunc(w.delay, func() {
		w.debounceMu.Lock()
		delete(w.debounce, path)
		w.debounceMu.Unlock()
		fn()
	})
}

func (w *Watcher) emit(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	entry := LogEntry{Path: path, ModifiedAt: info.ModTime(), Size: info.Size()}
	w.logger.Debug("log settled", zap.String("path", path), zap.Int64("size", entry.Size))

	select {
	case w.eventsChan <- entry:
	case <-w.done:
	}
}
