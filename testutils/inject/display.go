package inject

import (
	"image"

	"go.viam.com/depthcapture/display"
)

// Display is an injected display.
type Display struct {
	display.Display
	ShowFunc func(img image.Image, size image.Point) error
}

// Show calls the injected Show or the real version.
func (d *Display) Show(img image.Image, size image.Point) error {
	if d.ShowFunc == nil {
		return d.Display.Show(img, size)
	}
	return d.ShowFunc(img, size)
}
