// Package rimage holds the depth image types shared by capture, display and recording, and the
// transforms applied to depth maps before they are shown.
package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Depth is the distance to a point in millimeters. 0 means no reading.
type Depth uint16

// MaxDepth is the largest representable depth.
const MaxDepth = Depth(65535)

// maxDimension guards against corrupt headers when reading depth maps from disk.
const maxDimension = 100000

// DepthMap is a row-major grid of depths. It implements image.Image as 16-bit grayscale so it can
// be handed to any stdlib or imaging routine.
type DepthMap struct {
	width  int
	height int

	data []Depth
}

// NewEmptyDepthMap returns a zeroed depth map of the given size.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

// NewDepthMapFromGray16 copies a 16-bit gray image (for example a Z16 sensor frame) into a depth map.
func NewDepthMapFromGray16(img *image.Gray16) *DepthMap {
	bounds := img.Bounds()
	dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			dm.data[dm.kxy(x, y)] = Depth(img.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
		}
	}
	return dm
}

// ConvertImageToDepthMap accepts 16-bit gray images (or existing depth maps) and returns a depth map.
func ConvertImageToDepthMap(img image.Image) (*DepthMap, error) {
	switch ii := img.(type) {
	case *DepthMap:
		return ii, nil
	case *image.Gray16:
		return NewDepthMapFromGray16(ii), nil
	default:
		return nil, errors.Errorf("don't know how to make a DepthMap from %T", img)
	}
}

// HasData reports whether the depth map has any pixels.
func (dm *DepthMap) HasData() bool {
	return dm.width > 0 && dm.data != nil
}

// Width returns the number of columns.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the number of rows.
func (dm *DepthMap) Height() int {
	return dm.height
}

func (dm *DepthMap) kxy(x, y int) int {
	return (y * dm.width) + x
}

// Contains reports whether (x, y) is inside the map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// GetDepth returns the depth at (x, y).
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[dm.kxy(x, y)]
}

// Set sets the depth at (x, y).
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[dm.kxy(x, y)] = val
}

// Clone returns a deep copy. Consumers that need a depth map beyond the callback it was delivered
// in must clone it.
func (dm *DepthMap) Clone() *DepthMap {
	out := &DepthMap{width: dm.width, height: dm.height, data: make([]Depth, len(dm.data))}
	copy(out.data, dm.data)
	return out
}

// ColorModel is image.Gray16.
func (dm *DepthMap) ColorModel() color.Model {
	return color.Gray16Model
}

// Bounds returns the map's rectangle, anchored at the origin.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// At returns the depth at (x, y) as a color.Gray16.
func (dm *DepthMap) At(x, y int) color.Color {
	if !dm.Contains(x, y) {
		return color.Gray16{}
	}
	return color.Gray16{uint16(dm.GetDepth(x, y))}
}

// MinMax returns the smallest and largest non-zero depth. Both are 0 if there is no reading.
func (dm *DepthMap) MinMax() (Depth, Depth) {
	min := MaxDepth
	max := Depth(0)
	for _, z := range dm.data {
		if z == 0 {
			continue
		}
		if z < min {
			min = z
		}
		if z > max {
			max = z
		}
	}
	if max == 0 {
		return 0, 0
	}
	return min, max
}

// ToGray16 returns a copy of the map as an *image.Gray16.
func (dm *DepthMap) ToGray16() *image.Gray16 {
	img := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			img.SetGray16(x, y, color.Gray16{uint16(dm.GetDepth(x, y))})
		}
	}
	return img
}

// ParseDepthMap reads a depth map written by WriteToFile. Files ending in .gz are gunzipped.
func ParseDepthMap(fn string) (dm *DepthMap, err error) {
	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var r io.Reader = f
	if filepath.Ext(fn) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer func() {
			err = multierr.Combine(err, gz.Close())
		}()
		r = gz
	}

	return ReadDepthMap(bufio.NewReader(r))
}

// ReadDepthMap reads a depth map: little-endian uint64 width and height, then width*height
// little-endian uint16 depths in row-major order.
func ReadDepthMap(r io.Reader) (*DepthMap, error) {
	var header [2]uint64
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "cannot read depth map header")
	}
	width, height := int(header[0]), int(header[1])
	if width <= 0 || width >= maxDimension || height <= 0 || height >= maxDimension {
		return nil, errors.Errorf("bad width or height for depth map %v %v", width, height)
	}

	dm := NewEmptyDepthMap(width, height)
	if err := binary.Read(r, binary.LittleEndian, dm.data); err != nil {
		return nil, errors.Wrap(err, "cannot read depth map data")
	}
	return dm, nil
}

// WriteToFile writes the depth map to fn, gzipping it if fn ends in .gz.
func (dm *DepthMap) WriteToFile(fn string) (err error) {
	f, err := os.Create(filepath.Clean(fn))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var out io.Writer = f
	if filepath.Ext(fn) == ".gz" {
		gout := gzip.NewWriter(f)
		defer func() {
			err = multierr.Combine(err, gout.Close())
		}()
		out = gout
	}

	return dm.WriteDepthMap(out)
}

// WriteDepthMap writes the depth map in the format ReadDepthMap reads.
func (dm *DepthMap) WriteDepthMap(out io.Writer) error {
	header := [2]uint64{uint64(dm.width), uint64(dm.height)}
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(out, binary.LittleEndian, dm.data)
}
