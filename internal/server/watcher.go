package server

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchDebounce coalesces the bursts of events a single save produces.
const watchDebounce = 100 * time.Millisecond

// Watcher watches a directory tree for changed .s3 files.
type Watcher struct {
	watcher  *fsnotify.Watcher
	rootDir  string
	onChange func(relPath string)
	log      zerolog.Logger
	done     chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a watcher for rootDir. onChange receives the path of a
// written or created document relative to rootDir.
func NewWatcher(rootDir string, onChange func(string), log zerolog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		rootDir:  rootDir,
		onChange: onChange,
		log:      log,
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}

	if err := w.addDirectoryRecursive(rootDir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

// addDirectoryRecursive adds a directory and all its subdirectories to the
// watcher. Hidden directories such as .git and the preview directory are
// skipped.
func (w *Watcher) addDirectoryRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.log.Trace().Str("dir", path).Msg("Watching directory")
		return nil
	})
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Msg("Watch error")

			case <-w.done:
				return
			}
		}
	}()
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirectoryRecursive(event.Name); err != nil {
				w.log.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
			}
			return
		}
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Ext(event.Name) != ".s3" {
		return
	}

	relPath, err := filepath.Rel(w.rootDir, event.Name)
	if err != nil {
		relPath = event.Name
	}
	relPath = filepath.ToSlash(relPath)

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[relPath]; ok {
		t.Reset(watchDebounce)
		return
	}
	w.timers[relPath] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.timers, relPath)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		w.log.Debug().Str("file", relPath).Msg("File changed")
		w.onChange(relPath)
	})
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
