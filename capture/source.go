package capture

import (
	"context"
	"image"
)

// Handlers are the typed callbacks a FrameSource delivers into. A source invokes them one at a
// time from a single delivery goroutine, so no two handlers ever run concurrently and a handler is
// never re-entered. Any nil handler is skipped. Handlers must not call back into the source.
type Handlers struct {
	Color    func(RawColorFrame)
	Depth    func(RawDepthFrame)
	Metadata func(RawMetadata)
	// Error reports an asynchronous device failure. The source stops delivering after calling it.
	Error func(error)
}

// Properties describes what a source can produce.
type Properties struct {
	SupportsDepth    bool
	SupportsMetadata bool
	ColorSize        image.Point
	DepthSize        image.Point
	FrameRate        float32
}

// A FrameSource wraps a physical capture session and pushes color, depth and metadata frames,
// each tagged with a presentation timestamp, to the registered Handlers.
//
// Handlers are registered by Start and released by Stop: once Stop returns, no handler will be
// called again until the next Start.
type FrameSource interface {
	// Properties returns the capabilities of the device in its current configuration.
	Properties() Properties

	// Start begins delivering frames to handlers. It fails with ErrInvalidState if already started.
	Start(ctx context.Context, handlers Handlers) error

	// Stop ends delivery. Stopping a stopped source is a no-op.
	Stop(ctx context.Context) error

	// Reconfigure applies cfg. It fails with ErrInvalidState while started.
	Reconfigure(ctx context.Context, cfg CameraConfiguration) error

	// Configuration returns the configuration last applied.
	Configuration() CameraConfiguration

	// SetDepthFilterEnabled passes the hole-filling toggle to the device. It does not change
	// what or when the source delivers.
	SetDepthFilterEnabled(enabled bool)

	// Close stops the source and releases the device.
	Close(ctx context.Context) error
}
