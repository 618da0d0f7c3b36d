// Package capture defines the frames a depth-capable camera produces, the FrameSource contract that
// delivers them, and the errors a device can report.
package capture

import (
	"image"
	"time"

	"go.viam.com/depthcapture/rimage"
)

// DropReason says why a source marked a frame as dropped.
type DropReason int

const (
	// NotDropped is the zero value: the frame carries data.
	NotDropped DropReason = iota
	// DroppedLateData means the frame arrived too late to be processed.
	DroppedLateData
	// DroppedOutOfBuffers means the device ran out of buffers to capture into.
	DroppedOutOfBuffers
	// DroppedDiscontinuity means the device lost frames, e.g. while reconfiguring.
	DroppedDiscontinuity
)

func (r DropReason) String() string {
	switch r {
	case NotDropped:
		return "none"
	case DroppedLateData:
		return "late_data"
	case DroppedOutOfBuffers:
		return "out_of_buffers"
	case DroppedDiscontinuity:
		return "discontinuity"
	default:
		return "unknown"
	}
}

// RawColorFrame is one color frame as delivered by a FrameSource. Timestamp and Duration are on the
// source's presentation clock. The image is owned by the source; consumers must copy it if they
// keep it past the callback they received it in.
type RawColorFrame struct {
	Image     image.Image
	Timestamp time.Duration
	Duration  time.Duration
	// Seq is a per-source sequence number, assigned in delivery order.
	Seq        uint64
	DropReason DropReason
}

// Dropped reports whether the source flagged this frame as dropped.
func (f RawColorFrame) Dropped() bool {
	return f.DropReason != NotDropped
}

// RawDepthFrame is one depth map as delivered by a FrameSource.
type RawDepthFrame struct {
	Depth      *rimage.DepthMap
	Timestamp  time.Duration
	Seq        uint64
	DropReason DropReason
	// Filtered is true if the device applied its hole-filling filter to this map.
	Filtered bool
}

// Dropped reports whether the source flagged this frame as dropped.
func (f RawDepthFrame) Dropped() bool {
	return f.DropReason != NotDropped
}

// NormalizedRect is a rectangle in unit coordinates: (0,0) is the top left of the sensor and (1,1)
// the bottom right, independent of the color frame's pixel size.
type NormalizedRect struct {
	X, Y, Width, Height float64
}

// RawDetection is a single detected object in sensor-normalized coordinates.
type RawDetection struct {
	Label      string
	Bounds     NormalizedRect
	Confidence float64
}

// RawMetadata is the set of detections a source produced for one timestamp, in the source's order.
type RawMetadata struct {
	Detections []RawDetection
	Timestamp  time.Duration
	Seq        uint64
	DropReason DropReason
}

// Dropped reports whether the source flagged this metadata as dropped.
func (m RawMetadata) Dropped() bool {
	return m.DropReason != NotDropped
}

// MetadataDetection is a detection mapped into its color frame's pixel space.
type MetadataDetection struct {
	Label      string
	Bounds     image.Rectangle
	Confidence float64
}

// SynchronizedTuple is everything captured for one tick. Color is always present and never
// dropped. Depth and Detection are nil when their stream had nothing for this tick.
type SynchronizedTuple struct {
	Color     RawColorFrame
	Depth     *RawDepthFrame
	Detection *MetadataDetection
}
