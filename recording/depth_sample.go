package recording

import (
	"image"
	"image/color"
	"math"
	"time"

	"github.com/disintegration/imaging"

	"go.viam.com/depthcapture/rimage"
)

// NewDepthSample converts a depth map into a sample at the settings' frame size, stamped with the
// paired color frame's timestamp and duration.
func NewDepthSample(dm *rimage.DepthMap, pts, duration time.Duration, settings Settings) Sample {
	return Sample{
		Image:    DepthToGray(dm, settings.Size(), settings.MaxDepth),
		PTS:      pts,
		Duration: duration,
	}
}

// DepthToGray renders dm as 8-bit gray, near bright and no reading black, scaled to fit size
// with its aspect ratio kept and centered on a black frame.
func DepthToGray(dm *rimage.DepthMap, size image.Point, maxDepth rimage.Depth) *image.Gray {
	var src image.Image
	if maxDepth == 0 {
		src = rimage.TransformDepth(dm, image.Point{}, false, false)
	} else {
		src = clampedGray(dm, maxDepth)
	}

	w, h := dm.Width(), dm.Height()
	if w == 0 || h == 0 || size.X <= 0 || size.Y <= 0 {
		return image.NewGray(image.Rectangle{Max: size})
	}
	scale := math.Min(float64(size.X)/float64(w), float64(size.Y)/float64(h))
	fitW := max(1, int(math.Round(float64(w)*scale)))
	fitH := max(1, int(math.Round(float64(h)*scale)))

	// Nearest neighbor keeps "no reading" pixels from bleeding into their neighbors.
	fitted := imaging.Resize(src, fitW, fitH, imaging.NearestNeighbor)
	canvas := imaging.PasteCenter(imaging.New(size.X, size.Y, color.Black), fitted)
	return nrgbaToGray(canvas)
}

func clampedGray(dm *rimage.DepthMap, maxDepth rimage.Depth) *image.Gray {
	gray := image.NewGray(dm.Bounds())
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			z := dm.GetDepth(x, y)
			if z == 0 {
				continue
			}
			if z > maxDepth {
				z = maxDepth
			}
			ratio := 1 - float64(z)/float64(maxDepth)
			gray.SetGray(x, y, color.Gray{Y: uint8(1 + math.Round(ratio*254))})
		}
	}
	return gray
}

// nrgbaToGray takes the red channel; the input is already gray.
func nrgbaToGray(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride:]
		dst := gray.Pix[y*gray.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = src[x*4]
		}
	}
	return gray
}
