package scanner

import (
	"bytes"
	"encoding/binary"

	"github.com/maxkrueger/blink/internal/debug"
	"github.com/maxkrueger/blink/internal/registry"
)

// pngSignature is the fixed 8-byte PNG file signature.
var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// pngHeaderLen covers the signature plus the IHDR chunk header and the
// width/height fields (big-endian uint32 at offsets 16 and 20).
const pngHeaderLen = 24

// jpegPlaceholder is returned for JPEG files instead of decoding the
// real frame header. Known approximation carried over from the
// original design; callers treating dimensions as best-effort must not
// rely on it being exact.
var jpegPlaceholder = registry.Dimensions{Width: 1920, Height: 1080}

// probeDimensions reads only the leading header bytes of the file and
// hands them to ProbeDimensions.
func (s *Scanner) probeDimensions(absPath, mimeType string) *registry.Dimensions {
	if mimeType != "image/png" && mimeType != "image/jpeg" {
		return nil
	}
	header, err := s.fs.ReadHeader(absPath, pngHeaderLen)
	if err != nil {
		debug.Log(debug.SCAN_ENTRY, "probeDimensions: %q: unreadable header: %v", absPath, err)
		return nil
	}
	return ProbeDimensions(header, mimeType)
}

// ProbeDimensions extracts image dimensions from leading file bytes.
// Only the minimal PNG header is parsed; JPEG gets a fixed placeholder.
// Failures return nil ("no dimensions") rather than an error; dimension
// extraction is strictly best-effort.
func ProbeDimensions(header []byte, mimeType string) *registry.Dimensions {
	switch mimeType {
	case "image/png":
		if len(header) < pngHeaderLen || !bytes.Equal(header[:8], pngSignature) {
			return nil
		}
		return &registry.Dimensions{
			Width:  int(binary.BigEndian.Uint32(header[16:20])),
			Height: int(binary.BigEndian.Uint32(header[20:24])),
		}
	case "image/jpeg":
		d := jpegPlaceholder
		return &d
	default:
		return nil
	}
}
