package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// DepthTransformer turns a raw depth map into an image ready for display. Implementations must be
// pure: no shared state, safe to call from any goroutine.
type DepthTransformer interface {
	Transform(dm *DepthMap, targetSize image.Point, useDisparity, applyEqualization bool) image.Image
}

// DepthTransformerFunc adapts a function to a DepthTransformer.
type DepthTransformerFunc func(dm *DepthMap, targetSize image.Point, useDisparity, applyEqualization bool) image.Image

// Transform calls f.
func (f DepthTransformerFunc) Transform(
	dm *DepthMap, targetSize image.Point, useDisparity, applyEqualization bool,
) image.Image {
	return f(dm, targetSize, useDisparity, applyEqualization)
}

// DefaultDepthTransformer normalizes depth to 8-bit gray, optionally converting to disparity and
// equalizing the histogram, then scales to the target size.
var DefaultDepthTransformer DepthTransformer = DepthTransformerFunc(TransformDepth)

const histogramBins = 256

// TransformDepth is the DefaultDepthTransformer. Near is bright, far is dark; pixels with no
// reading are black. A zero targetSize keeps the depth map's own size.
func TransformDepth(dm *DepthMap, targetSize image.Point, useDisparity, applyEqualization bool) image.Image {
	values := make([]float64, dm.width*dm.height)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, z := range dm.data {
		if z == 0 {
			values[i] = math.NaN()
			continue
		}
		v := float64(z)
		if useDisparity {
			v = Disparity(z)
		}
		values[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	gray := image.NewGray(dm.Bounds())
	span := hi - lo
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		ratio := 1.0
		if span > 0 {
			ratio = (v - lo) / span
			if !useDisparity {
				// Distance grows away from the camera; flip it so near stays bright.
				ratio = 1 - ratio
			}
		}
		// Reserve 0 for "no reading".
		gray.Pix[i] = uint8(1 + math.Round(ratio*254))
	}

	if applyEqualization {
		equalizeHistogram(gray)
	}

	if targetSize.X <= 0 || targetSize.Y <= 0 || targetSize == gray.Bounds().Size() {
		return gray
	}
	return imaging.Resize(gray, targetSize.X, targetSize.Y, imaging.NearestNeighbor)
}

// Disparity converts a depth in millimeters to inverse meters. A zero depth has zero disparity.
func Disparity(z Depth) float64 {
	if z == 0 {
		return 0
	}
	return 1000.0 / float64(z)
}

// equalizeHistogram spreads the gray levels of valid (non-zero) pixels over 1..255 in place.
func equalizeHistogram(img *image.Gray) {
	var hist [histogramBins]int
	valid := 0
	for _, p := range img.Pix {
		if p == 0 {
			continue
		}
		hist[p]++
		valid++
	}
	if valid == 0 {
		return
	}

	var cdf [histogramBins]int
	running := 0
	cdfMin := 0
	for i := 1; i < histogramBins; i++ {
		running += hist[i]
		cdf[i] = running
		if cdfMin == 0 && running > 0 {
			cdfMin = running
		}
	}

	denom := valid - cdfMin
	var lut [histogramBins]uint8
	for i := 1; i < histogramBins; i++ {
		if denom <= 0 {
			lut[i] = uint8(i)
			continue
		}
		lut[i] = uint8(1 + math.Round(float64(cdf[i]-cdfMin)/float64(denom)*254))
	}
	for i, p := range img.Pix {
		if p != 0 {
			img.Pix[i] = lut[p]
		}
	}
}

// GrayToColor maps a normalized depth image to a color, hue running from red (near) to blue (far).
// Used when rendering previews to PNG.
func GrayToColor(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			if g == 0 {
				continue
			}
			r, gg, b := colorful.Hsv(240*(1-float64(g)/255), 1, 1).RGB255()
			out.SetNRGBA(x, y, color.NRGBA{R: r, G: gg, B: b, A: 255})
		}
	}
	return out
}
