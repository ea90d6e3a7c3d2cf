package tree

import (
	"testing"
	"time"

	"github.com/maxkrueger/blink/internal/detect"
	"github.com/maxkrueger/blink/internal/registry"
)

func newTestTree() *Tree {
	return New(registry.New())
}

// checkIntegrity verifies the core invariant: the flat index contains
// exactly the set of nodes reachable from the root, and every non-root
// node appears exactly once in its parent's child sequence.
func checkIntegrity(t *testing.T, tr *Tree) {
	t.Helper()

	reachable := make(map[string]bool)
	var walk func(n *node)
	walk = func(n *node) {
		if reachable[n.id] {
			t.Fatalf("node %s reachable twice", n.id)
		}
		reachable[n.id] = true
		for _, c := range n.children {
			if c.parentID != n.id {
				t.Errorf("child %s has parentID %q, want %q", c.id, c.parentID, n.id)
			}
			walk(c)
		}
	}
	walk(tr.root)

	if len(reachable) != len(tr.nodes) {
		t.Errorf("flat index has %d nodes, %d reachable from root", len(tr.nodes), len(reachable))
	}
	for id := range tr.nodes {
		if !reachable[id] {
			t.Errorf("flat index contains unreachable node %s", id)
		}
	}
	for id, n := range tr.nodes {
		if id == RootID {
			continue
		}
		parent, ok := tr.nodes[n.parentID]
		if !ok {
			t.Errorf("node %s has missing parent %s", id, n.parentID)
			continue
		}
		count := 0
		for _, c := range parent.children {
			if c.id == id {
				count++
			}
		}
		if count != 1 {
			t.Errorf("node %s appears %d times in parent's children, want 1", id, count)
		}
	}
}

func TestNewTree(t *testing.T) {
	tr := newTestTree()

	root, ok := tr.GetNode(RootID)
	if !ok {
		t.Fatal("root node missing")
	}
	if root.Path != RootPath {
		t.Errorf("root path = %q, want %q", root.Path, RootPath)
	}
	if !root.IsExpanded {
		t.Error("root should start expanded")
	}
	if tr.Len() != 1 {
		t.Errorf("new tree has %d nodes, want 1", tr.Len())
	}
	checkIntegrity(t, tr)
}

func TestAddDirectory(t *testing.T) {
	tr := newTestTree()

	id, ok := tr.AddDirectory("Pictures", "/Pictures", "")
	if !ok || id == "" {
		t.Fatal("AddDirectory under root failed")
	}
	child, ok := tr.AddDirectory("2024", "/Pictures/2024", id)
	if !ok {
		t.Fatal("AddDirectory under parent failed")
	}

	v, ok := tr.GetNode(child)
	if !ok {
		t.Fatal("child not found")
	}
	if v.ParentID != id {
		t.Errorf("child parentID = %q, want %q", v.ParentID, id)
	}

	parent, _ := tr.GetNode(id)
	if len(parent.ChildIDs) != 1 || parent.ChildIDs[0] != child {
		t.Errorf("parent children = %v, want [%s]", parent.ChildIDs, child)
	}
	checkIntegrity(t, tr)
}

func TestAddDirectoryUnknownParent(t *testing.T) {
	tr := newTestTree()

	id, ok := tr.AddDirectory("orphan", "/orphan", "nope")
	if ok || id != "" {
		t.Errorf("AddDirectory with unknown parent: got (%q, %v), want no-op", id, ok)
	}
	if tr.Len() != 1 {
		t.Errorf("tree has %d nodes after failed add, want 1", tr.Len())
	}
	checkIntegrity(t, tr)
}

func TestAddImageNodeUnderImageParent(t *testing.T) {
	tr := newTestTree()

	imgID, _ := tr.AddImageNode("a.png", "/a.png", "", ImageMetadata{})
	if _, ok := tr.AddImageNode("b.png", "/b.png", imgID, ImageMetadata{}); ok {
		t.Error("adding a child under an image node should be a no-op")
	}
	checkIntegrity(t, tr)
}

func TestRemoveNodeRecursive(t *testing.T) {
	tr := newTestTree()

	dir, _ := tr.AddDirectory("a", "/a", "")
	sub, _ := tr.AddDirectory("b", "/a/b", dir)
	deep, _ := tr.AddDirectory("c", "/a/b/c", sub)
	img, _ := tr.AddImageNode("x.png", "/a/b/c/x.png", deep, ImageMetadata{})

	tr.ToggleNodeSelection(img)
	tr.ToggleNodeSelection(sub)
	tr.ToggleNodeExpansion(dir)
	tr.ToggleNodeExpansion(sub)

	if !tr.RemoveNode(dir) {
		t.Fatal("RemoveNode failed")
	}

	// Neither the node nor any former descendant may survive anywhere.
	for _, id := range []string{dir, sub, deep, img} {
		if _, ok := tr.GetNode(id); ok {
			t.Errorf("node %s still in flat index after removal", id)
		}
		if tr.selected[id] {
			t.Errorf("node %s still selected after removal", id)
		}
		if tr.expanded[id] {
			t.Errorf("node %s still expanded after removal", id)
		}
	}
	if tr.Len() != 1 {
		t.Errorf("tree has %d nodes, want only root", tr.Len())
	}
	checkIntegrity(t, tr)
}

func TestRemoveNodeIdempotent(t *testing.T) {
	tr := newTestTree()

	dir, _ := tr.AddDirectory("a", "/a", "")
	if !tr.RemoveNode(dir) {
		t.Fatal("first removal failed")
	}
	if tr.RemoveNode(dir) {
		t.Error("second removal should be a no-op")
	}
	if tr.RemoveNode("unknown") {
		t.Error("removing an unknown id should be a no-op")
	}
	if tr.RemoveNode(RootID) {
		t.Error("removing the root should be a no-op")
	}
}

func TestToggleNodeExpansion(t *testing.T) {
	tr := newTestTree()

	dir, _ := tr.AddDirectory("a", "/a", "")
	img, _ := tr.AddImageNode("x.png", "/a/x.png", dir, ImageMetadata{})

	if !tr.ToggleNodeExpansion(dir) {
		t.Fatal("toggle on directory failed")
	}
	v, _ := tr.GetNode(dir)
	if !v.IsExpanded {
		t.Error("expanded flag not mirrored onto node")
	}
	if !tr.expanded[dir] {
		t.Error("expansion set not updated")
	}

	tr.ToggleNodeExpansion(dir)
	v, _ = tr.GetNode(dir)
	if v.IsExpanded {
		t.Error("second toggle should collapse")
	}

	if tr.ToggleNodeExpansion(img) {
		t.Error("toggle on image node should be a no-op")
	}
	if tr.ToggleNodeExpansion("unknown") {
		t.Error("toggle on unknown id should be a no-op")
	}
}

func TestSelection(t *testing.T) {
	tr := newTestTree()

	a, _ := tr.AddImageNode("a.png", "/a.png", "", ImageMetadata{})
	b, _ := tr.AddImageNode("b.png", "/b.png", "", ImageMetadata{})

	tr.ToggleNodeSelection(a)
	tr.ToggleNodeSelection(b)
	if got := len(tr.SelectedNodeIDs()); got != 2 {
		t.Fatalf("selected %d nodes, want 2", got)
	}

	tr.ToggleNodeSelection(a)
	if tr.selected[a] {
		t.Error("second toggle should deselect")
	}

	tr.ClearSelection()
	if len(tr.SelectedNodeIDs()) != 0 {
		t.Error("ClearSelection left selections behind")
	}

	if tr.ToggleNodeSelection("unknown") {
		t.Error("selecting an unknown id should be a no-op")
	}
}

func TestGetNodeByPath(t *testing.T) {
	tr := newTestTree()

	tr.AddDirectory("a", "/a", "")
	if _, ok := tr.GetNodeByPath("/a"); !ok {
		t.Error("node at /a not found by path")
	}
	if _, ok := tr.GetNodeByPath("/missing"); ok {
		t.Error("found node at nonexistent path")
	}
}

func TestGetImageNodesByDirectoryPrefix(t *testing.T) {
	tr := newTestTree()

	pics, _ := tr.AddDirectory("Pictures", "/Pictures", "")
	tr.AddDirectory("Pictures2", "/Pictures2", "")
	tr.AddImageNode("in.png", "/Pictures/in.png", pics, ImageMetadata{})
	other, _ := tr.GetNodeByPath("/Pictures2")
	tr.AddImageNode("out.png", "/Pictures2/out.png", other.ID, ImageMetadata{})

	// Plain prefix test: unnormalized prefix spuriously matches the
	// sibling directory, so callers append the separator.
	if got := len(tr.GetImageNodesByDirectory("/Pictures")); got != 2 {
		t.Errorf("unnormalized prefix matched %d images, want 2", got)
	}
	if got := len(tr.GetImageNodesByDirectory("/Pictures/")); got != 1 {
		t.Errorf("normalized prefix matched %d images, want 1", got)
	}
}

func TestGetDirectoryStats(t *testing.T) {
	tr := newTestTree()

	now := time.Now()
	tr.AddImageNode("open.png", "/open.png", "", ImageMetadata{
		Size:         100,
		MimeType:     "image/png",
		EyeDetection: &detect.Result{IsOpen: true, Confidence: 0.8, Timestamp: now},
	})
	tr.AddImageNode("closed.png", "/closed.png", "", ImageMetadata{
		Size:         200,
		MimeType:     "image/png",
		EyeDetection: &detect.Result{IsOpen: false, Confidence: 0.6, Timestamp: now},
	})
	tr.AddImageNode("pending.png", "/pending.png", "", ImageMetadata{
		Size:     300,
		MimeType: "image/png",
	})

	stats := tr.GetDirectoryStats("/")
	if stats.TotalImages != 3 {
		t.Errorf("TotalImages = %d, want 3", stats.TotalImages)
	}
	if stats.OpenEyeImages != 1 {
		t.Errorf("OpenEyeImages = %d, want 1", stats.OpenEyeImages)
	}
	if stats.ClosedEyeImages != 1 {
		t.Errorf("ClosedEyeImages = %d, want 1", stats.ClosedEyeImages)
	}
	if stats.TotalSize != 600 {
		t.Errorf("TotalSize = %d, want 600", stats.TotalSize)
	}
	// Average over detected images only.
	if stats.AverageConfidence < 0.699 || stats.AverageConfidence > 0.701 {
		t.Errorf("AverageConfidence = %v, want 0.7", stats.AverageConfidence)
	}
}

func TestGetDirectoryStatsEmpty(t *testing.T) {
	tr := newTestTree()

	stats := tr.GetDirectoryStats("/")
	if stats.TotalImages != 0 || stats.AverageConfidence != 0 {
		t.Errorf("empty tree stats = %+v, want zeros", stats)
	}
}

func TestSetEyeDetection(t *testing.T) {
	tr := newTestTree()

	img, _ := tr.AddImageNode("a.png", "/a.png", "", ImageMetadata{Size: 1})
	dir, _ := tr.AddDirectory("d", "/d", "")

	if !tr.SetEyeDetection(img, detect.Result{IsOpen: true, Confidence: 0.9}) {
		t.Fatal("SetEyeDetection on image failed")
	}
	v, _ := tr.GetNode(img)
	if v.Metadata.EyeDetection == nil || !v.Metadata.EyeDetection.IsOpen {
		t.Error("detection result not stored on node")
	}

	if tr.SetEyeDetection(dir, detect.Result{}) {
		t.Error("SetEyeDetection on directory should be a no-op")
	}
	if tr.SetEyeDetection("unknown", detect.Result{}) {
		t.Error("SetEyeDetection on unknown id should be a no-op")
	}
}

func TestUpdateImageMetadataKeepsDetection(t *testing.T) {
	tr := newTestTree()

	img, _ := tr.AddImageNode("a.png", "/a.png", "", ImageMetadata{Size: 1})
	tr.SetEyeDetection(img, detect.Result{IsOpen: true, Confidence: 0.5})

	tr.UpdateImageMetadata(img, ImageMetadata{Size: 2, MimeType: "image/png"})
	v, _ := tr.GetNode(img)
	if v.Metadata.Size != 2 {
		t.Errorf("Size = %d, want 2", v.Metadata.Size)
	}
	if v.Metadata.EyeDetection == nil {
		t.Error("metadata update dropped the detection result")
	}
}

func TestViewDoesNotAliasTree(t *testing.T) {
	tr := newTestTree()

	img, _ := tr.AddImageNode("a.png", "/a.png", "", ImageMetadata{
		Size:       1,
		Dimensions: &registry.Dimensions{Width: 10, Height: 20},
	})
	tr.SetEyeDetection(img, detect.Result{IsOpen: false, Confidence: 0.4})

	v, _ := tr.GetNode(img)
	v.Metadata.EyeDetection.IsOpen = true
	v.Metadata.Dimensions.Width = 999

	fresh, _ := tr.GetNode(img)
	if fresh.Metadata.EyeDetection.IsOpen {
		t.Error("mutating a view changed the stored detection result")
	}
	if fresh.Metadata.Dimensions.Width != 10 {
		t.Error("mutating a view changed the stored dimensions")
	}
}

func TestDisposeIsTerminal(t *testing.T) {
	tr := newTestTree()

	tr.AddDirectory("a", "/a", "")
	tr.Dispose()

	if tr.Registry() != nil {
		t.Error("registry not released on dispose")
	}
	if tr.Len() != 0 {
		t.Errorf("flat index has %d nodes after dispose, want 0", tr.Len())
	}
	if _, ok := tr.AddDirectory("b", "/b", ""); ok {
		t.Error("AddDirectory after dispose should be a no-op")
	}
	// Dispose twice is harmless.
	tr.Dispose()
}
