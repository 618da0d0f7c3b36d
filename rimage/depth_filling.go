package rimage

import (
	"image"
	"math"
)

// DefaultFillIterations is how far, in ray steps, FillDepthHoles looks for valid neighbors.
const DefaultFillIterations = 4

// directions for ray-marching.
var sixteenPoints = []image.Point{
	{0, 2},
	{0, -2},
	{-2, 0},
	{2, 0},
	{-2, 2},
	{2, 2},
	{-2, -2},
	{2, -2},
	{-2, 1},
	{-1, 2},
	{1, 2},
	{2, 1},
	{-2, -1},
	{-1, -2},
	{1, -2},
	{2, -1},
}

// FillDepthHoles returns a copy of dm where each pixel with no reading is imputed from the valid
// pixels found by ray-marching out from it in sixteen directions, weighted by distance. Pixels
// with no valid pixel within reach stay empty. dm is not modified.
func FillDepthHoles(dm *DepthMap, iterations int) *DepthMap {
	if iterations <= 0 {
		iterations = DefaultFillIterations
	}
	out := dm.Clone()
	spatialGaus := gaussianFunction2D(float64(iterations))
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			if dm.GetDepth(x, y) != 0 {
				continue
			}
			out.Set(x, y, imputeMissingDepth(x, y, iterations, dm, spatialGaus))
		}
	}
	return out
}

func imputeMissingDepth(x, y, iterations int, dm *DepthMap, weightFn func(dx, dy float64) float64) Depth {
	depthAvg, weightTot := 0.0, 0.0
	for _, dir := range sixteenPoints {
		i, j := x, y
		for iter := 0; iter < iterations; iter++ {
			i += dir.X
			j += dir.Y
			if !dm.Contains(i, j) {
				break
			}
			z := dm.GetDepth(i, j)
			if z == 0 {
				continue
			}
			w := weightFn(float64(i-x), float64(j-y))
			depthAvg += float64(z) * w
			weightTot += w
			break
		}
	}
	if weightTot == 0 {
		return 0
	}
	return Depth(math.Round(depthAvg / weightTot))
}

func gaussianFunction2D(sigma float64) func(dx, dy float64) float64 {
	return func(dx, dy float64) float64 {
		return math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
	}
}
