package capture

import (
	"image"
	"math"
)

// DetectionMapper maps a sensor-normalized detection into the pixel space of the color frame it
// was paired with.
type DetectionMapper func(det RawDetection, color RawColorFrame) MetadataDetection

// NewDetectionMapper returns the mapper for cfg: normalized coordinates are scaled to the color
// frame's bounds and flipped horizontally when the camera is mirrored.
func NewDetectionMapper(cfg CameraConfiguration) DetectionMapper {
	return func(det RawDetection, color RawColorFrame) MetadataDetection {
		var bounds image.Rectangle
		if color.Image != nil {
			bounds = color.Image.Bounds()
		}
		return MetadataDetection{
			Label:      det.Label,
			Confidence: det.Confidence,
			Bounds:     MapNormalizedRect(det.Bounds, bounds, cfg.Mirrored),
		}
	}
}

// MapNormalizedRect scales r into frame and clips it to frame.
func MapNormalizedRect(r NormalizedRect, frame image.Rectangle, mirrored bool) image.Rectangle {
	x := r.X
	if mirrored {
		x = 1 - r.X - r.Width
	}
	w, h := float64(frame.Dx()), float64(frame.Dy())
	out := image.Rect(
		frame.Min.X+int(math.Round(x*w)),
		frame.Min.Y+int(math.Round(r.Y*h)),
		frame.Min.X+int(math.Round((x+r.Width)*w)),
		frame.Min.Y+int(math.Round((r.Y+r.Height)*h)),
	)
	return out.Intersect(frame)
}
