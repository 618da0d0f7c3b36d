package config

import "image"

func imagePoint(x, y int) image.Point {
	if x == 0 || y == 0 {
		return image.Point{}
	}
	return image.Pt(x, y)
}
