// Package watcher subscribes to filesystem change notifications and
// surfaces them as debounced per-directory refresh triggers.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"

	"github.com/maxkrueger/blink/internal/debug"
)

// ErrNotExist is returned by Watch for paths that do not exist.
var ErrNotExist = errors.New("watch path does not exist")

// Watcher watches directories for changes and notifies when refreshes
// are needed. Events are debounced per directory so bursts of writes
// collapse into a single notification.
type Watcher struct {
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	watching   map[string]bool // Currently watched paths
	recursive  map[string]bool // Roots watched recursively
	notify     chan string     // Channel to send changed directory paths
	done       chan struct{}   // Shutdown signal
	closeOnce  sync.Once
	debounceMs int
}

// New creates a watcher. debounceMs <= 0 falls back to 200ms.
func New(debounceMs int) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounceMs <= 0 {
		debounceMs = 200
	}

	dw := &Watcher{
		watcher:    w,
		watching:   make(map[string]bool),
		recursive:  make(map[string]bool),
		notify:     make(chan string, 10),
		done:       make(chan struct{}),
		debounceMs: debounceMs,
	}

	go dw.run()
	return dw, nil
}

// run processes filesystem events with debouncing
func (dw *Watcher) run() {
	// Debounce: track last event time per directory
	lastEvent := make(map[string]time.Time)
	pending := make(map[string]bool)
	ticker := time.NewTicker(time.Duration(dw.debounceMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-dw.done:
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			// We care about creates, deletes, renames, and writes
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Write) {
				continue
			}

			// fsnotify reports the full path of the changed file; the
			// refresh target is the watched directory containing it.
			changedPath := event.Name
			parentDir := filepath.Dir(changedPath)

			dw.mu.Lock()
			switch {
			case dw.watching[parentDir]:
				lastEvent[parentDir] = time.Now()
				pending[parentDir] = true
				debug.Log(debug.WATCH, "event: %s on %s (parent: %s)", event.Op, changedPath, parentDir)
			case dw.watching[changedPath]:
				// The watched directory itself was modified
				lastEvent[changedPath] = time.Now()
				pending[changedPath] = true
				debug.Log(debug.WATCH, "event: %s on watched dir %s", event.Op, changedPath)
			}

			// A directory created under a recursive root gets its own
			// watch handle so deeper changes keep arriving.
			if event.Has(fsnotify.Create) && dw.underRecursiveRootLocked(changedPath) {
				if info, err := os.Stat(changedPath); err == nil && info.IsDir() {
					if err := dw.watcher.Add(changedPath); err == nil {
						dw.watching[changedPath] = true
						debug.Log(debug.WATCH, "added watch for new dir %s", changedPath)
					}
				}
			}
			dw.mu.Unlock()

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			debug.Log(debug.WATCH, "error: %v", err)

		case <-ticker.C:
			// Check for debounced events ready to fire
			now := time.Now()
			debounce := time.Duration(dw.debounceMs) * time.Millisecond

			for dir, isPending := range pending {
				if isPending && now.Sub(lastEvent[dir]) >= debounce {
					select {
					case dw.notify <- dir:
						debug.Log(debug.WATCH, "change notification: %s", dir)
					default:
						// Channel full, skip
					}
					delete(pending, dir)
					delete(lastEvent, dir)
				}
			}
		}
	}
}

func (dw *Watcher) underRecursiveRootLocked(path string) bool {
	for root := range dw.recursive {
		if path == root || isUnder(path, root) {
			return true
		}
	}
	return false
}

// isUnder reports whether path sits strictly below root.
func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Watch adds a directory to the watch list. A recursive watch also
// registers every existing subdirectory; fsnotify itself only watches
// one level.
func (dw *Watcher) Watch(path string, recursive bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotExist, path)
	}

	dw.mu.Lock()
	defer dw.mu.Unlock()

	if !dw.watching[path] {
		if err := dw.watcher.Add(path); err != nil {
			return err
		}
		dw.watching[path] = true
		debug.Log(debug.WATCH, "now watching: %s", path)
	}

	if !recursive {
		return nil
	}
	dw.recursive[path] = true

	// fastwalk invokes the callback from its worker goroutines; walkMu
	// guards the watching map against concurrent callbacks. dw.mu stays
	// held by this goroutine for the walk, keeping everyone else out.
	var walkMu sync.Mutex
	conf := &fastwalk.Config{Follow: false}
	return fastwalk.Walk(conf, path, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || fullPath == path {
			return nil // Skip errors, continue walking
		}
		walkMu.Lock()
		defer walkMu.Unlock()
		if dw.watching[fullPath] {
			return nil
		}
		if err := dw.watcher.Add(fullPath); err != nil {
			debug.Log(debug.WATCH, "cannot watch %s: %v", fullPath, err)
			return nil
		}
		dw.watching[fullPath] = true
		return nil
	})
}

// Unwatch removes a directory (and, for recursive roots, everything
// under it) from the watch list.
func (dw *Watcher) Unwatch(path string) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if !dw.watching[path] {
		return nil // Not watching
	}

	if err := dw.watcher.Remove(path); err != nil {
		// Ignore errors when removing - path may already be gone
		debug.Log(debug.WATCH, "error unwatching %s: %v", path, err)
	}
	delete(dw.watching, path)

	if dw.recursive[path] {
		delete(dw.recursive, path)
		for watched := range dw.watching {
			if isUnder(watched, path) {
				dw.watcher.Remove(watched)
				delete(dw.watching, watched)
			}
		}
	}
	debug.Log(debug.WATCH, "stopped watching: %s", path)
	return nil
}

// Notify returns the channel that receives directory change
// notifications.
func (dw *Watcher) Notify() <-chan string {
	return dw.notify
}

// Close shuts down the watcher. Safe to call more than once.
func (dw *Watcher) Close() error {
	var err error
	dw.closeOnce.Do(func() {
		close(dw.done)
		err = dw.watcher.Close()
	})
	return err
}
