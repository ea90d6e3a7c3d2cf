// Package registry is the flat keyed store of image records, kept
// independent of tree shape. The tree and the registry may both hold
// the same image under different ids; path is the join key between
// them.
package registry

import (
	"sync"
	"time"

	"github.com/maxkrueger/blink/internal/debug"
	"github.com/maxkrueger/blink/internal/detect"
	"github.com/maxkrueger/blink/internal/ident"
)

// Dimensions holds pixel width and height of an image.
type Dimensions struct {
	Width  int
	Height int
}

// ImageInfo is a registry record. EyeDetection is nil until a
// detection result has been merged in; nil means "not yet detected".
type ImageInfo struct {
	ID           string
	Name         string
	Path         string
	MimeType     string
	Size         int64
	LastModified time.Time
	Dimensions   *Dimensions
	EyeDetection *detect.Result
	Thumbnail    string // base64 data URL, optional
}

// Update carries a partial record for UpdateImage. Nil fields are left
// untouched; set fields win wholesale (last write wins per field).
type Update struct {
	Name         *string
	Path         *string
	MimeType     *string
	Size         *int64
	LastModified *time.Time
	Dimensions   *Dimensions
	Thumbnail    *string
}

// Registry is the single source of truth for image records and the
// image selection set. All mutations go through methods which hold the
// mutex; reads return copies so callers can't mutate internal state.
type Registry struct {
	mu       sync.RWMutex
	images   map[string]*ImageInfo
	selected map[string]bool
}

func New() *Registry {
	return &Registry{
		images:   make(map[string]*ImageInfo),
		selected: make(map[string]bool),
	}
}

// AddImage registers a record and returns its assigned id. Any id on
// the input is ignored; the registry owns id assignment.
func (r *Registry) AddImage(info ImageInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	info.ID = ident.New("img")
	r.images[info.ID] = &info
	debug.Log(debug.REG, "AddImage: id=%s path=%q", info.ID, info.Path)
	return info.ID
}

// UpdateImage merges the set fields of upd into the record. Returns
// false (did nothing) if the id is unknown.
func (r *Registry) UpdateImage(id string, upd Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	img, ok := r.images[id]
	if !ok {
		return false
	}
	if upd.Name != nil {
		img.Name = *upd.Name
	}
	if upd.Path != nil {
		img.Path = *upd.Path
	}
	if upd.MimeType != nil {
		img.MimeType = *upd.MimeType
	}
	if upd.Size != nil {
		img.Size = *upd.Size
	}
	if upd.LastModified != nil {
		img.LastModified = *upd.LastModified
	}
	if upd.Dimensions != nil {
		d := *upd.Dimensions
		img.Dimensions = &d
	}
	if upd.Thumbnail != nil {
		img.Thumbnail = *upd.Thumbnail
	}
	return true
}

// RemoveImage deletes a record and drops it from the selection set.
// Returns false if the id is unknown.
func (r *Registry) RemoveImage(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.images[id]; !ok {
		return false
	}
	delete(r.images, id)
	delete(r.selected, id)
	debug.Log(debug.REG, "RemoveImage: id=%s", id)
	return true
}

// UpdateEyeDetection merges a detection result into the record.
// Unknown ids are a documented no-op - a result must never create a
// placeholder record.
func (r *Registry) UpdateEyeDetection(id string, result detect.Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	img, ok := r.images[id]
	if !ok {
		debug.Log(debug.REG, "UpdateEyeDetection: unknown id %s, ignoring", id)
		return false
	}
	res := result
	img.EyeDetection = &res
	return true
}

// Get returns a copy of the record, or false if the id is unknown.
func (r *Registry) Get(id string) (ImageInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	img, ok := r.images[id]
	if !ok {
		return ImageInfo{}, false
	}
	return copyInfo(img), true
}

// GetByPath returns a copy of the record with the given path.
func (r *Registry) GetByPath(path string) (ImageInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, img := range r.images {
		if img.Path == path {
			return copyInfo(img), true
		}
	}
	return ImageInfo{}, false
}

// Images returns copies of all records.
func (r *Registry) Images() []ImageInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ImageInfo, 0, len(r.images))
	for _, img := range r.images {
		out = append(out, copyInfo(img))
	}
	return out
}

// Count returns the number of records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.images)
}

// ToggleImageSelection flips membership of id in the selection set.
// Unknown ids are a no-op.
func (r *Registry) ToggleImageSelection(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.images[id]; !ok {
		return false
	}
	if r.selected[id] {
		delete(r.selected, id)
	} else {
		r.selected[id] = true
	}
	return true
}

// SelectImages replaces the selection set wholesale. Ids not present
// in the registry are dropped.
func (r *Registry) SelectImages(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.selected = make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.images[id]; ok {
			r.selected[id] = true
		}
	}
}

// ClearSelection empties the selection set.
func (r *Registry) ClearSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = make(map[string]bool)
}

// SelectedImages returns copies of the currently selected records.
func (r *Registry) SelectedImages() []ImageInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ImageInfo, 0, len(r.selected))
	for id := range r.selected {
		if img, ok := r.images[id]; ok {
			out = append(out, copyInfo(img))
		}
	}
	return out
}

// IsSelected reports selection membership for id.
func (r *Registry) IsSelected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected[id]
}

// Derived views below are computed on every read. Correctness depends
// only on record state, never on view invalidation.

// OpenEyeImages returns records detected with open eyes.
func (r *Registry) OpenEyeImages() []ImageInfo {
	return r.filter(func(img *ImageInfo) bool {
		return img.EyeDetection != nil && img.EyeDetection.IsOpen
	})
}

// ClosedEyeImages returns records detected with closed eyes.
func (r *Registry) ClosedEyeImages() []ImageInfo {
	return r.filter(func(img *ImageInfo) bool {
		return img.EyeDetection != nil && !img.EyeDetection.IsOpen
	})
}

// DetectedImages returns records that have any detection result.
func (r *Registry) DetectedImages() []ImageInfo {
	return r.filter(func(img *ImageInfo) bool {
		return img.EyeDetection != nil
	})
}

// UndetectedImages returns records not yet run through detection.
func (r *Registry) UndetectedImages() []ImageInfo {
	return r.filter(func(img *ImageInfo) bool {
		return img.EyeDetection == nil
	})
}

// TotalSize returns the byte total across all records.
func (r *Registry) TotalSize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, img := range r.images {
		total += img.Size
	}
	return total
}

func (r *Registry) filter(pred func(*ImageInfo) bool) []ImageInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ImageInfo
	for _, img := range r.images {
		if pred(img) {
			out = append(out, copyInfo(img))
		}
	}
	return out
}

// copyInfo deep-copies a record. The pointer fields must not alias
// internal state once the record leaves the mutex.
func copyInfo(img *ImageInfo) ImageInfo {
	out := *img
	if img.Dimensions != nil {
		d := *img.Dimensions
		out.Dimensions = &d
	}
	if img.EyeDetection != nil {
		res := *img.EyeDetection
		out.EyeDetection = &res
	}
	return out
}
