// Package thumbs generates reduced-resolution preview thumbnails as
// base64 JPEG data URLs.
package thumbs

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// Options controls thumbnail generation.
type Options struct {
	MaxDimension int // longest edge of the thumbnail, pixels
	JpegQuality  int // 1-100
}

// DefaultOptions matches the medium preview quality profile.
var DefaultOptions = Options{MaxDimension: 512, JpegQuality: 85}

// Generate decodes data according to its declared mime type, scales it
// down to fit opts.MaxDimension and returns a "data:image/jpeg;base64,"
// URL. SVG cannot be rasterized here and returns an error.
func Generate(data []byte, mimeType string, opts Options) (string, error) {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultOptions.MaxDimension
	}
	if opts.JpegQuality <= 0 {
		opts.JpegQuality = DefaultOptions.JpegQuality
	}

	img, err := decode(data, mimeType)
	if err != nil {
		return "", err
	}

	if _, isPaletted := img.(*image.Paletted); isPaletted {
		rgba := image.NewRGBA(img.Bounds())
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
		img = rgba
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var newWidth, newHeight uint
	maxDim := opts.MaxDimension
	if width >= height {
		if width > maxDim {
			newWidth = uint(maxDim)
			newHeight = uint(float64(height) * float64(maxDim) / float64(width))
		} else {
			newWidth, newHeight = uint(width), uint(height)
		}
	} else {
		if height > maxDim {
			newHeight = uint(maxDim)
			newWidth = uint(float64(width) * float64(maxDim) / float64(height))
		} else {
			newWidth, newHeight = uint(width), uint(height)
		}
	}

	thumb := resize.Resize(newWidth, newHeight, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: opts.JpegQuality}); err != nil {
		return "", err
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decode(data []byte, mimeType string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch mimeType {
	case "image/jpeg":
		return jpeg.Decode(r)
	case "image/png":
		return png.Decode(r)
	case "image/gif":
		return gif.Decode(r)
	case "image/bmp":
		return bmp.Decode(r)
	case "image/tiff":
		return tiff.Decode(r)
	case "image/webp":
		return webp.Decode(r)
	case "image/svg+xml":
		return nil, fmt.Errorf("thumbs: cannot rasterize svg")
	default:
		img, _, err := image.Decode(r)
		return img, err
	}
}
