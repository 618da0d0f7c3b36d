package recording

import (
	"image"
	"time"

	"go.viam.com/depthcapture/rimage"
)

// Default encode settings. The output is a single portrait video track.
const (
	DefaultWidth       = 720
	DefaultHeight      = 1280
	DefaultBitrateKbps = 6000
	DefaultFrameRate   = 30
	DefaultCodec       = "libx264"
)

// Settings are the fixed encode settings of a recording.
type Settings struct {
	Width       int
	Height      int
	BitrateKbps int
	FrameRate   float64
	Codec       string
	// MaxDepth is the depth rendered darkest; anything farther is clamped. Zero scales each frame
	// to its own depth range.
	MaxDepth rimage.Depth
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		BitrateKbps: DefaultBitrateKbps,
		FrameRate:   DefaultFrameRate,
		Codec:       DefaultCodec,
	}
}

// Size returns the output frame size.
func (s Settings) Size() image.Point {
	return image.Pt(s.Width, s.Height)
}

// A Sample is one container-native video sample. PTS is on the color frame's presentation clock,
// the same clock the session was started on.
type Sample struct {
	Image    *image.Gray
	PTS      time.Duration
	Duration time.Duration
}

// A Sink is an open media container with one video track.
//
// All methods except the done callback of Finish are called from the writer's serialized context.
type Sink interface {
	// StartSession anchors the container's clock: a sample with PTS equal to at is written at
	// time zero.
	StartSession(at time.Duration) error

	// ReadyForMoreData reports whether Append would be accepted without blocking.
	ReadyForMoreData() bool

	// Append writes one sample. The sink must not retain s.Image after returning.
	Append(s Sample) error

	// Finish signals end of stream. done is called exactly once, from any goroutine, after the
	// container is flushed and closed (or failed to be).
	Finish(done func(error))
}

// SinkFactory opens a new container at path. The file at path does not exist when it is called.
type SinkFactory func(path string, settings Settings) (Sink, error)
