package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/maxkrueger/blink/internal/debug"
	"github.com/maxkrueger/blink/internal/detect"
	"github.com/maxkrueger/blink/internal/registry"
	"github.com/maxkrueger/blink/internal/scanner"
	"github.com/maxkrueger/blink/internal/thumbs"
	"github.com/maxkrueger/blink/internal/tree"
)

// UploadImageToDirectory writes fileBytes into dirPath (the scanned
// root or a directory already in the tree), registers the image in
// both the tree and the registry and, when configured, dispatches it
// to the detection engine. The returned result is nil when detection
// was skipped or failed; the image is then simply "not yet detected".
func (m *Manager) UploadImageToDirectory(ctx context.Context, fileBytes []byte, name, dirPath string) (nodeID string, result *detect.Result, err error) {
	mimeType, ok := scanner.MimeTypeFor(name)
	if !ok {
		return "", nil, fmt.Errorf("upload: %q is not a supported image type", name)
	}

	m.mu.Lock()
	root := m.rootPath
	m.mu.Unlock()

	dirPath = filepath.Clean(dirPath)
	prefix, err := m.treePrefix(root, dirPath)
	if err != nil {
		return "", nil, err
	}
	parent, ok := m.tree.GetNodeByPath(prefix)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrNotScanned, dirPath)
	}

	absPath := filepath.Join(dirPath, name)
	if err := m.fs.WriteFile(absPath, fileBytes, 0o644); err != nil {
		return "", nil, fmt.Errorf("upload: write %s: %w", absPath, err)
	}

	treePath := prefix + "/" + name
	if prefix == tree.RootPath {
		treePath = "/" + name
	}
	meta := tree.ImageMetadata{
		Size:         int64(len(fileBytes)),
		LastModified: time.Now(),
		MimeType:     mimeType,
		Dimensions:   scanner.ProbeDimensions(fileBytes, mimeType),
	}

	nodeID, ok = m.tree.AddImageNode(name, treePath, parent.ID, meta)
	if !ok {
		return "", nil, fmt.Errorf("upload: could not attach %q to tree", treePath)
	}

	info := registry.ImageInfo{
		Name:         name,
		Path:         absPath,
		MimeType:     mimeType,
		Size:         meta.Size,
		LastModified: meta.LastModified,
		Dimensions:   meta.Dimensions,
	}
	// Thumbnail generation is best-effort; an undecodable upload still
	// lands in the tree and registry.
	if thumb, terr := thumbs.Generate(fileBytes, mimeType, thumbs.Options{
		MaxDimension: m.cfg.Performance.MaxThumbnailSize,
		JpegQuality:  m.cfg.Performance.JpegQuality,
	}); terr == nil {
		info.Thumbnail = thumb
	} else {
		debug.Log(debug.APP, "upload: thumbnail for %q: %v", name, terr)
	}
	imageID := m.reg.AddImage(info)

	if m.cfg.Detection.DetectOnUpload && m.detector != nil {
		res, derr := m.detector.Detect(ctx, fileBytes)
		if derr != nil {
			debug.Log(debug.DETECT, "upload: detect %q: %v", name, derr)
		} else {
			m.tree.SetEyeDetection(nodeID, res)
			m.reg.UpdateEyeDetection(imageID, res)
			result = &res
		}
	}

	debug.Log(debug.APP, "uploaded %q -> node %s", absPath, nodeID)
	return nodeID, result, nil
}
