package manager

import (
	"context"

	"github.com/maxkrueger/blink/internal/debug"
	"github.com/maxkrueger/blink/internal/watcher"
)

// WatchDirectory starts watching dirPath and wires change
// notifications to RefreshDirectory. The watcher is created lazily on
// first use with the configured debounce interval.
func (m *Manager) WatchDirectory(dirPath string, recursive bool) error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.watch == nil {
		w, err := watcher.New(m.cfg.Watcher.DebounceMs)
		if err != nil {
			return err
		}
		m.watch = w
		m.watchDone = make(chan struct{})
		m.watchWG.Add(1)
		go m.consumeWatchEvents(w)
	}
	return m.watch.Watch(dirPath, recursive)
}

// UnwatchDirectory stops watching dirPath. No-op if it was never
// watched.
func (m *Manager) UnwatchDirectory(dirPath string) error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.watch == nil {
		return nil
	}
	return m.watch.Unwatch(dirPath)
}

// consumeWatchEvents turns debounced change notifications into
// targeted refreshes of the affected directory. Refreshes racing a
// manual one on the same path coalesce inside reconcilePath.
func (m *Manager) consumeWatchEvents(w *watcher.Watcher) {
	defer m.watchWG.Done()

	for {
		select {
		case <-m.watchDone:
			return
		case dir := <-w.Notify():
			debug.Log(debug.APP, "watch-triggered refresh: %s", dir)
			if err := m.RefreshDirectory(context.Background(), dir); err != nil {
				debug.Log(debug.APP, "watch refresh of %q failed: %v", dir, err)
			}
		}
	}
}

// Close stops the watcher and its consumer goroutine. The tree and
// registry stay usable; call Dispose to tear those down too.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.watch == nil {
		return nil
	}
	close(m.watchDone)
	err := m.watch.Close()
	m.watchWG.Wait()
	m.watch = nil
	return err
}

// Dispose shuts down watching and releases the tree. Terminal.
func (m *Manager) Dispose() {
	m.Close()
	m.tree.Dispose()
}
