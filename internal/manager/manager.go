// Package manager composes the tree store, image registry, scanner,
// watcher and the external detection engine into the operations the
// application uses: scan, refresh, watch, upload, batch-detect and
// filter.
package manager

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/maxkrueger/blink/internal/config"
	"github.com/maxkrueger/blink/internal/debug"
	"github.com/maxkrueger/blink/internal/detect"
	"github.com/maxkrueger/blink/internal/fsys"
	"github.com/maxkrueger/blink/internal/registry"
	"github.com/maxkrueger/blink/internal/scanner"
	"github.com/maxkrueger/blink/internal/tree"
	"github.com/maxkrueger/blink/internal/watcher"
)

// ErrNotScanned is returned when an operation references a directory
// that has not been brought into the tree yet.
var ErrNotScanned = errors.New("directory not in tree")

// Manager is the integration coordinator. All tree/registry mutation
// funnels through it; concurrent reconciliation of one root path is
// serialized with a coalescing pending flag.
type Manager struct {
	cfg      config.Config
	fs       fsys.FS
	tree     *tree.Tree
	reg      *registry.Registry
	scan     *scanner.Scanner
	detector detect.Detector

	mu       sync.Mutex
	rootPath string          // absolute path the tree root mirrors
	inflight map[string]bool // reconciles currently running, by path
	pending  map[string]bool // coalesced re-run requests, by path

	watchMu   sync.Mutex
	watch     *watcher.Watcher
	watchDone chan struct{}
	watchWG   sync.WaitGroup
}

// New wires a manager over the real or injected filesystem. detector
// may be nil, in which case detection operations report every image as
// failed.
func New(cfg config.Config, fs fsys.FS, detector detect.Detector) *Manager {
	reg := registry.New()
	return &Manager{
		cfg:  cfg,
		fs:   fs,
		tree: tree.New(reg),
		reg:  reg,
		scan: scanner.New(fs, scanner.Rules{
			IgnoreHidden:        cfg.Scanner.IgnoreHidden,
			ExcludedDirectories: cfg.Scanner.ExcludedDirectories,
			IgnorePatterns:      cfg.Scanner.IgnorePatterns,
		}),
		detector: detector,
		inflight: make(map[string]bool),
		pending:  make(map[string]bool),
	}
}

// Tree returns the directory tree store.
func (m *Manager) Tree() *tree.Tree { return m.tree }

// Registry returns the image registry.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// ScanDirectoryStructure scans rootPath recursively and reconciles the
// result into the tree. The tree root mirrors rootPath afterwards;
// scanning a different root replaces the previous contents through the
// same reconcile path.
func (m *Manager) ScanDirectoryStructure(ctx context.Context, rootPath string) error {
	rootPath = filepath.Clean(rootPath)

	m.mu.Lock()
	oldRoot := m.rootPath
	m.rootPath = rootPath
	m.mu.Unlock()

	if oldRoot != "" && oldRoot != rootPath {
		m.clearPrevious(oldRoot)
	}
	return m.reconcilePath(ctx, rootPath)
}

// clearPrevious drops every node of the previous root along with the
// registry records they were joined to. Registry paths were built
// against the old root, so they must be resolved here, before any
// reconcile runs with the new root's path semantics.
func (m *Manager) clearPrevious(oldRoot string) {
	for _, v := range m.tree.Nodes() {
		if v.Kind != tree.KindImage {
			continue
		}
		abs := filepath.Join(oldRoot, filepath.FromSlash(strings.TrimPrefix(v.Path, "/")))
		if rec, ok := m.reg.GetByPath(abs); ok {
			m.reg.RemoveImage(rec.ID)
		}
	}

	if root, ok := m.tree.GetNode(tree.RootID); ok {
		for _, childID := range root.ChildIDs {
			m.tree.RemoveNode(childID)
		}
	}
	debug.Log(debug.APP, "cleared previous root %q", oldRoot)
}

// RefreshDirectory re-scans dirPath (the scanned root or any directory
// under it) and reconciles the subtree. Re-running on an unchanged
// directory produces no mutations.
func (m *Manager) RefreshDirectory(ctx context.Context, dirPath string) error {
	dirPath = filepath.Clean(dirPath)

	m.mu.Lock()
	root := m.rootPath
	m.mu.Unlock()
	if root == "" {
		return ErrNotScanned
	}
	if dirPath != root && !isUnder(dirPath, root) {
		return fmt.Errorf("%w: %s is outside %s", ErrNotScanned, dirPath, root)
	}

	return m.reconcilePath(ctx, dirPath)
}

// reconcilePath serializes scan+reconcile per path. A trigger arriving
// while one is in flight sets a pending flag and returns; the in-flight
// run loops until the flag stays clear.
func (m *Manager) reconcilePath(ctx context.Context, scanRoot string) error {
	m.mu.Lock()
	if m.inflight[scanRoot] {
		m.pending[scanRoot] = true
		m.mu.Unlock()
		debug.Log(debug.APP, "reconcile of %q already in flight, coalescing", scanRoot)
		return nil
	}
	m.inflight[scanRoot] = true
	m.mu.Unlock()

	var err error
	for {
		err = m.scanAndReconcile(ctx, scanRoot)

		m.mu.Lock()
		if m.pending[scanRoot] {
			delete(m.pending, scanRoot)
			m.mu.Unlock()
			continue
		}
		delete(m.inflight, scanRoot)
		m.mu.Unlock()
		return err
	}
}

func (m *Manager) scanAndReconcile(ctx context.Context, scanRoot string) error {
	res := m.scan.Scan(ctx, scanRoot, scanner.Options{
		IncludeImages:         true,
		IncludeSubdirectories: true,
	})
	if !res.Success {
		// A failed or cancelled scan leaves committed tree state
		// untouched.
		debug.Log(debug.APP, "scan of %q failed: %v", scanRoot, res.Err)
		return res.Err
	}
	return m.reconcile(scanRoot, res)
}

// reconcile merges a flat scan result into the tree without touching
// nodes outside the scanned subtree.
func (m *Manager) reconcile(scanRoot string, res scanner.Result) error {
	m.mu.Lock()
	root := m.rootPath
	m.mu.Unlock()

	prefix, err := m.treePrefix(root, scanRoot)
	if err != nil {
		return err
	}
	anchor, ok := m.tree.GetNodeByPath(prefix)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotScanned, scanRoot)
	}

	base := prefix
	if base == tree.RootPath {
		base = ""
	}

	desiredDirs := make(map[string]scanner.DirectoryInfo, len(res.Directories))
	for _, d := range res.Directories {
		desiredDirs[base+"/"+d.Path] = d
	}
	desiredImages := make(map[string]scanner.ImageInfo, len(res.Images))
	for _, img := range res.Images {
		desiredImages[base+"/"+img.Path] = img
	}

	m.removeStale(prefix, desiredDirs, desiredImages)
	m.addDirectories(anchor, base, res.Directories)
	m.syncImages(anchor, base, res.Images)

	debug.Log(debug.APP, "reconciled %q: %d dirs %d images, tree now %d nodes",
		scanRoot, len(res.Directories), len(res.Images), m.tree.Len())
	return nil
}

// removeStale drops nodes under prefix that the scan no longer
// reports, purging matching registry records by path.
func (m *Manager) removeStale(prefix string, desiredDirs map[string]scanner.DirectoryInfo, desiredImages map[string]scanner.ImageInfo) {
	var removeIDs []string
	var removeImagePaths []string

	for _, v := range m.tree.Nodes() {
		if v.Path == prefix || !hasPathPrefix(v.Path, prefix) {
			continue
		}
		if v.Kind == tree.KindImage {
			if _, keep := desiredImages[v.Path]; !keep {
				removeIDs = append(removeIDs, v.ID)
				removeImagePaths = append(removeImagePaths, v.Path)
			}
		} else {
			if _, keep := desiredDirs[v.Path]; !keep {
				removeIDs = append(removeIDs, v.ID)
			}
		}
	}

	// RemoveNode is idempotent, so ids already destroyed as descendants
	// of an earlier removal are harmless here.
	for _, id := range removeIDs {
		m.tree.RemoveNode(id)
	}
	for _, p := range removeImagePaths {
		if rec, ok := m.reg.GetByPath(m.absPath(p)); ok {
			m.reg.RemoveImage(rec.ID)
		}
	}
}

// addDirectories creates missing directory nodes, shallowest first so
// parents always exist before their children.
func (m *Manager) addDirectories(anchor tree.View, base string, dirs []scanner.DirectoryInfo) {
	ordered := make([]scanner.DirectoryInfo, len(dirs))
	copy(ordered, dirs)
	sortByDepth(ordered)

	for _, d := range ordered {
		treePath := base + "/" + d.Path
		if _, exists := m.tree.GetNodeByPath(treePath); exists {
			continue
		}
		parentID := m.parentIDFor(anchor, base, d.ParentPath)
		if _, ok := m.tree.AddDirectory(d.Name, treePath, parentID); !ok {
			debug.Log(debug.APP, "reconcile: could not add directory %q", treePath)
		}
	}
}

// syncImages creates missing image nodes and refreshes metadata on
// changed ones, mirroring both into the registry keyed by absolute
// path.
func (m *Manager) syncImages(anchor tree.View, base string, images []scanner.ImageInfo) {
	for _, img := range images {
		treePath := base + "/" + img.Path
		absPath := m.absPath(treePath)
		meta := tree.ImageMetadata{
			Size:         img.Size,
			LastModified: img.LastModified,
			MimeType:     img.MimeType,
			Dimensions:   img.Dimensions,
		}

		if existing, ok := m.tree.GetNodeByPath(treePath); ok {
			if existing.Kind != tree.KindImage || !metadataChanged(existing.Metadata, meta) {
				continue
			}
			m.tree.UpdateImageMetadata(existing.ID, meta)
			if rec, found := m.reg.GetByPath(absPath); found {
				m.reg.UpdateImage(rec.ID, registry.Update{
					Size:         &img.Size,
					LastModified: &img.LastModified,
					MimeType:     &img.MimeType,
					Dimensions:   img.Dimensions,
				})
			}
			continue
		}

		parentID := m.parentIDFor(anchor, base, img.ParentPath)
		if _, ok := m.tree.AddImageNode(img.Name, treePath, parentID, meta); !ok {
			debug.Log(debug.APP, "reconcile: could not add image %q", treePath)
			continue
		}
		if _, found := m.reg.GetByPath(absPath); !found {
			m.reg.AddImage(registry.ImageInfo{
				Name:         img.Name,
				Path:         absPath,
				MimeType:     img.MimeType,
				Size:         img.Size,
				LastModified: img.LastModified,
				Dimensions:   img.Dimensions,
			})
		}
	}
}

func (m *Manager) parentIDFor(anchor tree.View, base, parentPath string) string {
	if parentPath == "" {
		return anchor.ID
	}
	if parent, ok := m.tree.GetNodeByPath(base + "/" + parentPath); ok {
		return parent.ID
	}
	return ""
}

// treePrefix maps an absolute scan root onto its tree path.
func (m *Manager) treePrefix(root, scanRoot string) (string, error) {
	if root == "" {
		return "", ErrNotScanned
	}
	if scanRoot == root {
		return tree.RootPath, nil
	}
	rel, err := filepath.Rel(root, scanRoot)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrNotScanned, scanRoot, root)
	}
	return "/" + filepath.ToSlash(rel), nil
}

// absPath maps a tree path back onto the real filesystem.
func (m *Manager) absPath(treePath string) string {
	m.mu.Lock()
	root := m.rootPath
	m.mu.Unlock()
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(treePath, "/")))
}

func metadataChanged(old *tree.ImageMetadata, next tree.ImageMetadata) bool {
	if old == nil {
		return true
	}
	if old.Size != next.Size || !old.LastModified.Equal(next.LastModified) || old.MimeType != next.MimeType {
		return true
	}
	switch {
	case old.Dimensions == nil && next.Dimensions == nil:
		return false
	case old.Dimensions == nil || next.Dimensions == nil:
		return true
	default:
		return *old.Dimensions != *next.Dimensions
	}
}

func hasPathPrefix(p, prefix string) bool {
	if prefix == tree.RootPath {
		return strings.HasPrefix(p, "/")
	}
	// Trailing separator keeps "Pictures" from matching "Pictures2".
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func isUnder(p, root string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func sortByDepth(dirs []scanner.DirectoryInfo) {
	sort.SliceStable(dirs, func(i, j int) bool {
		return depth(dirs[i].Path) < depth(dirs[j].Path)
	})
}

func depth(p string) int {
	return strings.Count(path.Clean(p), "/")
}
