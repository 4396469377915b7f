// Package watch detects changes to the local files of datasets.
//
// Each dataset registers its location; the watcher subscribes to the
// directories the location can match and reports the dataset id once its
// files have been quiet for the debounce interval.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/scanner"
)

// DefaultDebounce is used when New is given a non-positive debounce
const DefaultDebounce = 2 * time.Second

// ChangeHandler is called with the id of a dataset whose files changed
type ChangeHandler func(datasetID string)

type target struct {
	location string
	dirs     []string
}

// Watcher monitors dataset directories using fsnotify
type Watcher struct {
	debounce time.Duration
	onChange ChangeHandler
	logger   *logging.Logger
	fw       *fsnotify.Watcher

	mu      sync.Mutex
	targets map[string]*target // dataset id -> location
	dirRefs map[string]int     // directory -> number of datasets watching it
	pending map[string]time.Time

	started atomic.Bool
	done    chan struct{}
}

// New creates a watcher. Call Start to begin delivering changes.
func New(debounce time.Duration, onChange ChangeHandler, logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		debounce: debounce,
		onChange: onChange,
		logger:   logging.OrGlobal(logger),
		fw:       fw,
		targets:  make(map[string]*target),
		dirRefs:  make(map[string]int),
		pending:  make(map[string]time.Time),
		done:     make(chan struct{}),
	}, nil
}

// Start begins processing file events
func (w *Watcher) Start() {
	if w.started.CompareAndSwap(false, true) {
		go w.loop()
	}
}

// Stop closes the watcher and waits for the event loop to exit
func (w *Watcher) Stop() {
	_ = w.fw.Close()
	if w.started.Load() {
		<-w.done
	}
}

// Watch registers or replaces the location of a dataset. Remote locations
// are ignored. Directories that do not exist yet are skipped; they are
// picked up when the dataset is watched again. An error is returned when
// no directory could be watched for any other reason.
func (w *Watcher) Watch(datasetID, location string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.unwatchLocked(datasetID)
	dirs := scanner.WatchDirs(location)
	if len(dirs) == 0 {
		return nil
	}

	t := &target{location: filepath.Clean(location)}
	var errs []error
	for _, dir := range dirs {
		if w.dirRefs[dir] == 0 {
			if err := w.fw.Add(dir); err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					errs = append(errs, fmt.Errorf("watch %s: %w", dir, err))
				}
				w.logger.Debug("Cannot watch dataset directory", "dataset_id", datasetID, "dir", dir, "error", err)
				continue
			}
		}
		w.dirRefs[dir]++
		t.dirs = append(t.dirs, dir)
	}
	w.targets[datasetID] = t
	if len(t.dirs) == 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Unwatch removes a dataset
func (w *Watcher) Unwatch(datasetID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unwatchLocked(datasetID)
}

func (w *Watcher) unwatchLocked(datasetID string) {
	t, ok := w.targets[datasetID]
	if !ok {
		return
	}
	delete(w.targets, datasetID)
	delete(w.pending, datasetID)
	for _, dir := range t.dirs {
		w.dirRefs[dir]--
		if w.dirRefs[dir] <= 0 {
			delete(w.dirRefs, dir)
			_ = w.fw.Remove(dir)
		}
	}
}

// Rename moves a registration to a new dataset id
func (w *Watcher) Rename(oldID, newID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.targets[oldID]
	if !ok {
		return
	}
	delete(w.targets, oldID)
	w.targets[newID] = t
	if since, ok := w.pending[oldID]; ok {
		delete(w.pending, oldID)
		w.pending[newID] = since
	}
}

// Watching reports whether a dataset has at least one watched directory
func (w *Watcher) Watching(datasetID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.targets[datasetID]
	return ok && len(t.dirs) > 0
}

// matches reports whether path is one of the files a location refers to
func (t *target) matches(path string) bool {
	if path == t.location {
		return true
	}
	ok, err := filepath.Match(t.location, path)
	return err == nil && ok
}

func (w *Watcher) record(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	for id, t := range w.targets {
		if t.matches(path) {
			w.pending[id] = now
		}
	}
}

// due removes and returns datasets that have been quiet for the debounce interval
func (w *Watcher) due() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	var ids []string
	for id, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ids = append(ids, id)
			delete(w.pending, id)
		}
	}
	return ids
}

func (w *Watcher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(max(w.debounce/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.record(filepath.Clean(event.Name))
			}

		case <-ticker.C:
			for _, id := range w.due() {
				w.logger.Debug("Dataset files changed", "dataset_id", id)
				w.onChange(id)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}
