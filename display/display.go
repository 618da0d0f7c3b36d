// Package display renders the latest depth frame for a display surface. Rendering (disparity
// conversion, equalization, scaling) runs on its own worker, off the capture delivery context.
package display

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/depthcapture/rimage"
)

// A Display shows rendered depth images. Show is called from the renderer's worker only.
type Display interface {
	Show(img image.Image, size image.Point) error
}

// DisplayFunc adapts a function to a Display.
type DisplayFunc func(img image.Image, size image.Point) error

// Show calls f.
func (f DisplayFunc) Show(img image.Image, size image.Point) error {
	return f(img, size)
}

// ImageFormats are the file formats FileDisplay can write.
var ImageFormats = []string{"png", "jpeg", "ppm", "qoi"}

// FileDisplay writes each shown frame to a numbered file in Dir, encoded as Format (png when
// empty) and colorized when Colorize is set.
type FileDisplay struct {
	Dir      string
	Format   string
	Colorize bool

	count atomic.Int64
}

// Show writes img to the next file.
func (d *FileDisplay) Show(img image.Image, size image.Point) (err error) {
	format := d.Format
	if format == "" {
		format = "png"
	}
	n := d.count.Inc()
	if d.Colorize {
		img = rimage.GrayToColor(img)
	}
	path := filepath.Join(d.Dir, fmt.Sprintf("depth_%05d.%s", n, format))
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "cannot create preview file")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return EncodeImage(f, img, format)
}

// Count returns the number of frames shown.
func (d *FileDisplay) Count() int64 {
	return d.count.Load()
}

// EncodeImage writes img to w in format, one of ImageFormats.
func EncodeImage(w io.Writer, img image.Image, format string) error {
	switch format {
	case "png":
		return png.Encode(w, img)
	case "jpeg", "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "ppm":
		return ppm.Encode(w, img)
	case "qoi":
		return qoi.Encode(w, img)
	default:
		return errors.Errorf("unsupported image format %q", format)
	}
}

// FormatFromPath returns the image format implied by path's extension.
func FormatFromPath(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "jpg" {
		return "jpeg"
	}
	return ext
}
