package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/maxkrueger/blink/internal/debug"
	"github.com/maxkrueger/blink/internal/registry"
	"github.com/maxkrueger/blink/internal/tree"
)

// ErrNoDetector is returned by detection operations when no engine was
// injected.
var ErrNoDetector = errors.New("no detection engine configured")

// FilterKind selects a predicate for FilterSelectedImages.
type FilterKind int

const (
	FilterOpenEyes FilterKind = iota
	FilterClosedEyes
	FilterUndetected
)

// BatchResult summarizes a batch detection run. Failed images stay
// undetected; a partial batch is a normal outcome, not an error.
type BatchResult struct {
	Detected int
	Failed   int
}

// DetectEyesForSelectedImages dispatches every currently selected
// registry image to the detection engine.
func (m *Manager) DetectEyesForSelectedImages(ctx context.Context) (BatchResult, error) {
	if m.detector == nil {
		return BatchResult{}, ErrNoDetector
	}

	var paths []string
	for _, img := range m.reg.SelectedImages() {
		paths = append(paths, img.Path)
	}
	return m.detectBatch(ctx, paths), nil
}

// DetectEyesForDirectory dispatches every image node under dirPath to
// the detection engine.
func (m *Manager) DetectEyesForDirectory(ctx context.Context, dirPath string) (BatchResult, error) {
	if m.detector == nil {
		return BatchResult{}, ErrNoDetector
	}

	m.mu.Lock()
	root := m.rootPath
	m.mu.Unlock()

	prefix, err := m.treePrefix(root, dirPath)
	if err != nil {
		return BatchResult{}, err
	}
	if prefix != tree.RootPath {
		// Trailing separator so "Pictures" does not match "Pictures2".
		prefix += "/"
	}

	var paths []string
	for _, v := range m.tree.GetImageNodesByDirectory(prefix) {
		paths = append(paths, m.absPath(v.Path))
	}
	return m.detectBatch(ctx, paths), nil
}

// detectBatch fans the image paths out over a bounded worker pool.
// Per-image calls complete out of order and independently fail; a
// failure is logged, counted and the image stays undetected.
func (m *Manager) detectBatch(ctx context.Context, paths []string) BatchResult {
	if len(paths) == 0 {
		return BatchResult{}
	}

	workers := m.cfg.Performance.WorkerThreads
	if workers <= 0 {
		workers = 1
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	pathChan := make(chan string, len(paths))
	for _, p := range paths {
		pathChan <- p
	}
	close(pathChan)

	var detected, failed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range pathChan {
				if ctx.Err() != nil {
					failed.Add(1)
					continue
				}
				if m.detectOne(ctx, p) {
					detected.Add(1)
				} else {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	res := BatchResult{Detected: int(detected.Load()), Failed: int(failed.Load())}
	debug.Log(debug.DETECT, "batch complete: %d detected, %d failed", res.Detected, res.Failed)
	return res
}

// detectOne runs the engine on a single image and merges the result
// into both the tree node and the registry record, joined by path.
func (m *Manager) detectOne(ctx context.Context, absPath string) bool {
	data, err := m.fs.ReadFile(absPath)
	if err != nil {
		debug.Log(debug.DETECT, "read %q: %v", absPath, err)
		return false
	}
	result, err := m.detector.Detect(ctx, data)
	if err != nil {
		debug.Log(debug.DETECT, "detect %q: %v", absPath, err)
		return false
	}

	if node, ok := m.tree.GetNodeByPath(m.treePathOf(absPath)); ok {
		m.tree.SetEyeDetection(node.ID, result)
	}
	if rec, ok := m.reg.GetByPath(absPath); ok {
		m.reg.UpdateEyeDetection(rec.ID, result)
	}
	return true
}

// treePathOf maps an absolute filesystem path onto its tree path.
func (m *Manager) treePathOf(absPath string) string {
	m.mu.Lock()
	root := m.rootPath
	m.mu.Unlock()

	prefix, err := m.treePrefix(root, absPath)
	if err != nil {
		return ""
	}
	return prefix
}

// FilterSelectedImages applies a pure predicate over the current
// registry selection.
func (m *Manager) FilterSelectedImages(kind FilterKind) []registry.ImageInfo {
	var out []registry.ImageInfo
	for _, img := range m.reg.SelectedImages() {
		switch kind {
		case FilterOpenEyes:
			if img.EyeDetection != nil && img.EyeDetection.IsOpen {
				out = append(out, img)
			}
		case FilterClosedEyes:
			if img.EyeDetection != nil && !img.EyeDetection.IsOpen {
				out = append(out, img)
			}
		case FilterUndetected:
			if img.EyeDetection == nil {
				out = append(out, img)
			}
		}
	}
	return out
}
