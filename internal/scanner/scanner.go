// Package scanner walks a real directory subtree and produces a flat
// scan result (directories plus images) independent of the in-memory
// tree. Reconciling the result into the tree is the coordinator's job.
package scanner

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/maxkrueger/blink/internal/debug"
	"github.com/maxkrueger/blink/internal/fsys"
	"github.com/maxkrueger/blink/internal/registry"
)

// imageMimeTypes is the extension allow-list. Classification is purely
// by extension, case-insensitive; content is never sniffed.
var imageMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
}

// MimeTypeFor returns the mime type for a file name, classifying by
// extension against the allow-list. ok is false for non-images.
func MimeTypeFor(name string) (mimeType string, ok bool) {
	mimeType, ok = imageMimeTypes[strings.ToLower(filepath.Ext(name))]
	return mimeType, ok
}

// DirectoryInfo describes one discovered directory. Path and
// ParentPath are relative to the scanned root; direct children of the
// root carry an empty ParentPath.
type DirectoryInfo struct {
	Name       string
	Path       string
	ParentPath string
}

// ImageInfo describes one discovered image file, paths relative to the
// scanned root like DirectoryInfo.
type ImageInfo struct {
	Name         string
	Path         string
	ParentPath   string
	MimeType     string
	Size         int64
	LastModified time.Time
	Dimensions   *registry.Dimensions
}

// Options controls a scan.
type Options struct {
	IncludeImages         bool
	IncludeSubdirectories bool
}

// Result is the typed outcome of a scan. Validation failures come back
// as Success=false with Err set; they are never raised as panics past
// this boundary.
type Result struct {
	Success     bool
	RootPath    string
	Options     Options
	Directories []DirectoryInfo
	Images      []ImageInfo
	Err         error
}

// Rules are the entry filters applied while walking, loaded from
// config.
type Rules struct {
	IgnoreHidden        bool
	ExcludedDirectories []string
	IgnorePatterns      []string
}

// Scanner walks directories through an injected filesystem.
type Scanner struct {
	fs       fsys.FS
	rules    Rules
	excluded map[string]bool
}

// New returns a scanner reading through fs with the given rules.
func New(fs fsys.FS, rules Rules) *Scanner {
	excluded := make(map[string]bool, len(rules.ExcludedDirectories))
	for _, d := range rules.ExcludedDirectories {
		excluded[strings.ToLower(d)] = true
	}
	return &Scanner{fs: fs, rules: rules, excluded: excluded}
}

// Scan validates rootPath and walks it depth-first. Per-entry failures
// (unreadable file, permission denied) are logged and skipped; a
// single bad entry never aborts the whole scan. Cancelling the context
// returns a failed result with whatever had not yet been collected
// discarded.
func (s *Scanner) Scan(ctx context.Context, rootPath string, opts Options) Result {
	res := Result{
		RootPath:    rootPath,
		Options:     opts,
		Directories: []DirectoryInfo{},
		Images:      []ImageInfo{},
	}

	if !s.fs.Exists(rootPath) {
		res.Err = fmt.Errorf("scan: path does not exist: %s", rootPath)
		return res
	}
	info, err := s.fs.Stat(rootPath)
	if err != nil {
		res.Err = fmt.Errorf("scan: stat %s: %w", rootPath, err)
		return res
	}
	if !info.IsDir() {
		res.Err = fmt.Errorf("scan: not a directory: %s", rootPath)
		return res
	}

	debug.Log(debug.SCAN, "Scan: root=%q images=%v subdirs=%v",
		rootPath, opts.IncludeImages, opts.IncludeSubdirectories)

	if err := s.walk(ctx, rootPath, "", opts, &res); err != nil {
		res.Directories = []DirectoryInfo{}
		res.Images = []ImageInfo{}
		res.Err = err
		return res
	}

	res.Success = true
	debug.Log(debug.SCAN, "Scan: complete, %d dirs %d images",
		len(res.Directories), len(res.Images))
	return res
}

// walk processes one directory level. rel is the directory's path
// relative to the root ("" for the root itself).
func (s *Scanner) walk(ctx context.Context, rootPath, rel string, opts Options, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	abs := filepath.Join(rootPath, filepath.FromSlash(rel))
	entries, err := s.fs.ReadDir(abs)
	if err != nil {
		// Root unreadable is a hard failure; deeper levels are skipped.
		if rel == "" {
			return fmt.Errorf("scan: read %s: %w", abs, err)
		}
		debug.Log(debug.SCAN, "walk: skipping unreadable dir %q: %v", abs, err)
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.Name()
		entryRel := path.Join(rel, name)

		if entry.IsDir() {
			if s.skipDir(name) {
				debug.Log(debug.SCAN_ENTRY, "walk: ignoring dir %q", entryRel)
				continue
			}
			res.Directories = append(res.Directories, DirectoryInfo{
				Name:       name,
				Path:       entryRel,
				ParentPath: rel,
			})
			if opts.IncludeSubdirectories {
				if err := s.walk(ctx, rootPath, entryRel, opts, res); err != nil {
					return err
				}
			}
			continue
		}

		if !opts.IncludeImages {
			continue
		}
		mime, isImage := imageMimeTypes[strings.ToLower(filepath.Ext(name))]
		if !isImage {
			continue
		}
		if s.skipFile(name) {
			debug.Log(debug.SCAN_ENTRY, "walk: ignoring file %q", entryRel)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			debug.Log(debug.SCAN_ENTRY, "walk: skipping %q: %v", entryRel, err)
			continue
		}

		img := ImageInfo{
			Name:         name,
			Path:         entryRel,
			ParentPath:   rel,
			MimeType:     mime,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		}
		img.Dimensions = s.probeDimensions(filepath.Join(abs, name), mime)
		res.Images = append(res.Images, img)
		debug.Log(debug.SCAN_ENTRY, "walk: image %q (%s, %d bytes)", entryRel, mime, img.Size)
	}
	return nil
}

func (s *Scanner) skipDir(name string) bool {
	if s.rules.IgnoreHidden && strings.HasPrefix(name, ".") {
		return true
	}
	if s.excluded[strings.ToLower(name)] {
		return true
	}
	return s.matchesIgnorePattern(name)
}

func (s *Scanner) skipFile(name string) bool {
	if s.rules.IgnoreHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return s.matchesIgnorePattern(name)
}

// matchesIgnorePattern applies the glob rules; they match directory
// and file names alike.
func (s *Scanner) matchesIgnorePattern(name string) bool {
	for _, pattern := range s.rules.IgnorePatterns {
		if matched, _ := path.Match(pattern, name); matched {
			return true
		}
	}
	return false
}
