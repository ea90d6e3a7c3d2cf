// Package tree owns the in-memory directory/image node graph: a single
// root, a flat id index mirroring the reachable set, and the selection
// and expansion state that the view layer renders from.
//
// The flat index and the parent/child edges are kept bidirectionally
// consistent: every node reachable from the root is in the index, and
// nothing else is. All mutations go through Tree methods which hold
// the mutex; reads return copies so callers can't break the invariant
// from outside.
package tree

import (
	"strings"
	"sync"
	"time"

	"github.com/maxkrueger/blink/internal/debug"
	"github.com/maxkrueger/blink/internal/detect"
	"github.com/maxkrueger/blink/internal/ident"
	"github.com/maxkrueger/blink/internal/registry"
)

// Kind discriminates the two node variants.
type Kind int

const (
	KindDirectory Kind = iota
	KindImage
)

// RootID is the reserved id of the single root node.
const RootID = "root"

// RootPath is the root node's path.
const RootPath = "/"

// ImageMetadata is the per-image payload carried by image nodes.
// EyeDetection is nil until a result has been merged in.
type ImageMetadata struct {
	Size         int64
	LastModified time.Time
	MimeType     string
	Dimensions   *registry.Dimensions
	EyeDetection *detect.Result
}

// node is the internal representation. Children is ordered and only
// populated for directories.
type node struct {
	id       string
	name     string
	path     string
	parentID string
	kind     Kind
	children []*node
	expanded bool
	meta     *ImageMetadata
}

// View is an immutable copy of a node handed to callers. ChildIDs
// preserves child order.
type View struct {
	ID         string
	Name       string
	Path       string
	ParentID   string
	Kind       Kind
	IsExpanded bool
	ChildIDs   []string
	Metadata   *ImageMetadata
}

// Stats aggregates image nodes under a path prefix.
type Stats struct {
	TotalImages       int
	OpenEyeImages     int
	ClosedEyeImages   int
	TotalSize         int64
	AverageConfidence float64
}

// Tree is the directory tree store. It owns an image registry which is
// released on Dispose; Dispose is terminal, not a reset.
type Tree struct {
	mu       sync.RWMutex
	root     *node
	nodes    map[string]*node // flat index
	selected map[string]bool
	expanded map[string]bool
	registry *registry.Registry
	disposed bool
}

// New creates a tree holding only the root node. The root starts
// expanded; everything else defaults collapsed.
func New(reg *registry.Registry) *Tree {
	root := &node{
		id:       RootID,
		name:     "Root",
		path:     RootPath,
		kind:     KindDirectory,
		expanded: true,
	}
	t := &Tree{
		root:     root,
		nodes:    map[string]*node{RootID: root},
		selected: make(map[string]bool),
		expanded: map[string]bool{RootID: true},
		registry: reg,
	}
	return t
}

// Registry returns the owned image registry, nil after Dispose.
func (t *Tree) Registry() *registry.Registry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.registry
}

// AddDirectory creates a directory node under parentID (the root when
// parentID is empty) and returns its id. An unknown parent is a
// documented no-op: the node is not created and ok is false.
func (t *Tree) AddDirectory(name, path, parentID string) (id string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return "", false
	}
	if parentID == "" {
		parentID = RootID
	}
	parent, found := t.nodes[parentID]
	if !found || parent.kind != KindDirectory {
		debug.Log(debug.TREE, "AddDirectory: parent %q not found for %q", parentID, path)
		return "", false
	}

	n := &node{
		id:       ident.New("dir"),
		name:     name,
		path:     path,
		parentID: parentID,
		kind:     KindDirectory,
	}
	parent.children = append(parent.children, n)
	t.nodes[n.id] = n
	debug.Log(debug.TREE_NODE, "AddDirectory: %s -> %q", n.id, path)
	return n.id, true
}

// AddImageNode creates an image node under parentID. Metadata is
// copied verbatim. Same no-op contract as AddDirectory for unknown
// parents.
func (t *Tree) AddImageNode(name, path, parentID string, meta ImageMetadata) (id string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return "", false
	}
	if parentID == "" {
		parentID = RootID
	}
	parent, found := t.nodes[parentID]
	if !found || parent.kind != KindDirectory {
		debug.Log(debug.TREE, "AddImageNode: parent %q not found for %q", parentID, path)
		return "", false
	}

	m := meta
	n := &node{
		id:       ident.New("img"),
		name:     name,
		path:     path,
		parentID: parentID,
		kind:     KindImage,
		meta:     &m,
	}
	parent.children = append(parent.children, n)
	t.nodes[n.id] = n
	debug.Log(debug.TREE_NODE, "AddImageNode: %s -> %q", n.id, path)
	return n.id, true
}

// RemoveNode unlinks a node from its parent and destroys it together
// with all descendants, purging their ids from the flat index, the
// selection set and the expansion set. Removing an unknown id (or the
// root) is a no-op; the operation is idempotent.
func (t *Tree) RemoveNode(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed || id == RootID {
		return false
	}
	n, found := t.nodes[id]
	if !found {
		return false
	}

	// Cut the parent edge first so no reader can reach a half-removed
	// subtree.
	if parent, ok := t.nodes[n.parentID]; ok {
		for i, c := range parent.children {
			if c.id == id {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
	}
	t.destroyLocked(n)
	return true
}

func (t *Tree) destroyLocked(n *node) {
	for _, c := range n.children {
		t.destroyLocked(c)
	}
	delete(t.nodes, n.id)
	delete(t.selected, n.id)
	delete(t.expanded, n.id)
	debug.Log(debug.TREE_NODE, "removed %s (%q)", n.id, n.path)
}

// ToggleNodeSelection flips selection membership for id. Unknown ids
// are a no-op.
func (t *Tree) ToggleNodeSelection(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return false
	}
	if _, found := t.nodes[id]; !found {
		return false
	}
	if t.selected[id] {
		delete(t.selected, id)
	} else {
		t.selected[id] = true
	}
	return true
}

// ClearSelection empties the node selection set.
func (t *Tree) ClearSelection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	t.selected = make(map[string]bool)
}

// ToggleNodeExpansion flips expansion for a directory node. Image
// nodes and unknown ids are a no-op. The set is authoritative; the
// node's expanded flag is a cache of it for the view layer.
func (t *Tree) ToggleNodeExpansion(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return false
	}
	n, found := t.nodes[id]
	if !found || n.kind != KindDirectory {
		return false
	}
	if t.expanded[id] {
		delete(t.expanded, id)
		n.expanded = false
	} else {
		t.expanded[id] = true
		n.expanded = true
	}
	return true
}

// SelectedNodeIDs returns the node selection set.
func (t *Tree) SelectedNodeIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.selected))
	for id := range t.selected {
		out = append(out, id)
	}
	return out
}

// GetNode returns a view of the node with the given id.
func (t *Tree) GetNode(id string) (View, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, found := t.nodes[id]
	if !found {
		return View{}, false
	}
	return t.viewLocked(n), true
}

// GetNodeByPath linearly scans the flat index for a node with the
// given path.
func (t *Tree) GetNodeByPath(path string) (View, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, n := range t.nodes {
		if n.path == path {
			return t.viewLocked(n), true
		}
	}
	return View{}, false
}

// GetImageNodesByDirectory returns views of all image nodes whose path
// starts with prefix. The match is a plain string-prefix test, so
// callers normalize with a trailing separator to avoid "Pictures"
// matching "Pictures2".
func (t *Tree) GetImageNodesByDirectory(prefix string) []View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []View
	for _, n := range t.nodes {
		if n.kind == KindImage && strings.HasPrefix(n.path, prefix) {
			out = append(out, t.viewLocked(n))
		}
	}
	return out
}

// UpdateImageMetadata replaces the metadata of an image node, keeping
// any existing detection result unless the new metadata carries one.
// Unknown ids and directory nodes are a no-op.
func (t *Tree) UpdateImageMetadata(id string, meta ImageMetadata) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return false
	}
	n, found := t.nodes[id]
	if !found || n.kind != KindImage {
		return false
	}
	if meta.EyeDetection == nil && n.meta != nil {
		meta.EyeDetection = n.meta.EyeDetection
	}
	m := meta
	n.meta = &m
	return true
}

// SetEyeDetection merges a detection result onto an image node.
// Unknown ids and directory nodes are a no-op.
func (t *Tree) SetEyeDetection(id string, result detect.Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return false
	}
	n, found := t.nodes[id]
	if !found || n.kind != KindImage || n.meta == nil {
		return false
	}
	res := result
	n.meta.EyeDetection = &res
	return true
}

// GetDirectoryStats aggregates over the image nodes matching the path
// prefix. AverageConfidence averages only over nodes that carry a
// detection result; zero detected nodes yields 0, not an error.
func (t *Tree) GetDirectoryStats(prefix string) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var s Stats
	var confSum float64
	var detected int
	for _, n := range t.nodes {
		if n.kind != KindImage || !strings.HasPrefix(n.path, prefix) {
			continue
		}
		s.TotalImages++
		if n.meta == nil {
			continue
		}
		s.TotalSize += n.meta.Size
		if n.meta.EyeDetection != nil {
			detected++
			confSum += n.meta.EyeDetection.Confidence
			if n.meta.EyeDetection.IsOpen {
				s.OpenEyeImages++
			} else {
				s.ClosedEyeImages++
			}
		}
	}
	if detected > 0 {
		s.AverageConfidence = confSum / float64(detected)
	}
	return s
}

// Nodes returns views of every node in the flat index, root included.
// Order is unspecified.
func (t *Tree) Nodes() []View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]View, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, t.viewLocked(n))
	}
	return out
}

// Len returns the number of nodes in the flat index, root included.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Dispose releases the registry and clears the flat index, selection
// and expansion state. Terminal: every later operation is a no-op.
func (t *Tree) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.disposed {
		return
	}
	t.disposed = true
	t.registry = nil
	t.nodes = make(map[string]*node)
	t.selected = make(map[string]bool)
	t.expanded = make(map[string]bool)
	t.root.children = nil
	debug.Log(debug.TREE, "Dispose: tree released")
}

func (t *Tree) viewLocked(n *node) View {
	v := View{
		ID:         n.id,
		Name:       n.name,
		Path:       n.path,
		ParentID:   n.parentID,
		Kind:       n.kind,
		IsExpanded: n.expanded,
	}
	if len(n.children) > 0 {
		v.ChildIDs = make([]string, len(n.children))
		for i, c := range n.children {
			v.ChildIDs[i] = c.id
		}
	}
	if n.meta != nil {
		m := *n.meta
		if m.Dimensions != nil {
			d := *m.Dimensions
			m.Dimensions = &d
		}
		if m.EyeDetection != nil {
			r := *m.EyeDetection
			m.EyeDetection = &r
		}
		v.Metadata = &m
	}
	return v
}
