// Package fake implements a synthetic FrameSource driven by a clock. It renders a moving target
// into the color, depth and metadata streams and can drop frames on a fixed pattern, which makes
// it useful for tests and for running the pipeline without a depth camera.
package fake

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/rimage"
	"go.viam.com/depthcapture/utils"
)

// Config describes what the fake source produces. Zero values take the defaults.
type Config struct {
	ColorSize image.Point
	DepthSize image.Point
	FrameRate float64

	NoDepth    bool
	NoMetadata bool

	// DropColorEvery flags every Nth color frame (by sequence number, starting at 1) as dropped.
	DropColorEvery int
	// DropDepthEvery flags every Nth depth frame as dropped.
	DropDepthEvery int
	// SkipDepthEvery omits every Nth depth frame entirely.
	SkipDepthEvery int
	// MetadataEvery delivers a detection on every Nth tick. Zero means every tick.
	MetadataEvery int
	// DepthFirst delivers each tick's depth before its color.
	DepthFirst bool

	// Clock drives frame delivery. Defaults to the real clock.
	Clock clock.Clock
}

func (c Config) withDefaults() Config {
	if c.ColorSize == (image.Point{}) {
		c.ColorSize = image.Pt(64, 48)
	}
	if c.DepthSize == (image.Point{}) {
		c.DepthSize = image.Pt(32, 24)
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}
	if c.MetadataEvery <= 0 {
		c.MetadataEvery = 1
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// Source is a synthetic FrameSource.
type Source struct {
	cfg    Config
	id     string
	logger logging.Logger

	mu       sync.Mutex
	camera   capture.CameraConfiguration
	running  bool
	closed   bool
	workers  utils.StoppableWorkers
	failures chan error

	filterEnabled atomic.Bool
	delivered     atomic.Uint64
}

// NewSource returns a stopped fake source.
func NewSource(cfg Config, logger logging.Logger) *Source {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Source{
		cfg:    cfg,
		id:     id,
		logger: logger.WithFields("device", id),
	}
}

// ID identifies this simulated device.
func (s *Source) ID() string {
	return s.id
}

// Properties reports what the source produces.
func (s *Source) Properties() capture.Properties {
	props := capture.Properties{
		SupportsDepth:    !s.cfg.NoDepth,
		SupportsMetadata: !s.cfg.NoMetadata,
		ColorSize:        s.cfg.ColorSize,
		FrameRate:        float32(s.cfg.FrameRate),
	}
	if props.SupportsDepth {
		props.DepthSize = s.cfg.DepthSize
	}
	return props
}

func (s *Source) interval() time.Duration {
	return time.Duration(float64(time.Second) / s.cfg.FrameRate)
}

// Start begins delivering a tick per frame interval.
func (s *Source) Start(ctx context.Context, handlers capture.Handlers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.NewDeviceError("start", capture.ErrDeviceClosed)
	}
	if s.running {
		return capture.NewDeviceError("start", capture.ErrInvalidState)
	}

	// The ticker exists before Start returns so no tick is missed.
	ticker := s.cfg.Clock.Ticker(s.interval())
	failures := make(chan error, 1)
	camera := s.camera
	s.failures = failures
	s.running = true
	s.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		defer ticker.Stop()
		var seq uint64
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-failures:
				s.logger.Errorw("device failed", "error", err)
				if handlers.Error != nil {
					handlers.Error(capture.NewDeviceError("capture", err))
				}
				return
			case <-ticker.C:
				seq++
				s.deliver(seq, camera, handlers)
			}
		}
	})
	s.logger.Infow("fake source started", "frame_rate", s.cfg.FrameRate, "camera", camera)
	return nil
}

// Stop ends delivery and waits for any in-progress tick to finish.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Source) stopLocked() error {
	if !s.running {
		return nil
	}
	s.workers.Stop()
	s.workers = nil
	s.running = false
	s.logger.Infow("fake source stopped", "delivered", s.delivered.Load())
	return nil
}

// Reconfigure applies cfg. It fails with ErrInvalidState while running.
func (s *Source) Reconfigure(ctx context.Context, cfg capture.CameraConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.NewDeviceError("reconfigure", capture.ErrDeviceClosed)
	}
	if s.running {
		return capture.NewDeviceError("reconfigure", capture.ErrInvalidState)
	}
	s.camera = cfg
	s.logger.Debugw("fake source reconfigured", "camera", cfg)
	return nil
}

// Configuration returns the camera configuration last applied.
func (s *Source) Configuration() capture.CameraConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// SetDepthFilterEnabled controls whether depth frames have holes.
func (s *Source) SetDepthFilterEnabled(enabled bool) {
	s.filterEnabled.Store(enabled)
}

// Fail simulates an asynchronous device failure. The source reports err through the Error handler
// and stops delivering. It does nothing if the source is not running.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	select {
	case s.failures <- err:
	default:
	}
}

// Delivered returns the number of ticks delivered since creation.
func (s *Source) Delivered() uint64 {
	return s.delivered.Load()
}

// Close stops the source. A closed source cannot be started again.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.stopLocked()
}

func (s *Source) deliver(seq uint64, camera capture.CameraConfiguration, h capture.Handlers) {
	ts := time.Duration(seq) * s.interval()

	colorFrame := capture.RawColorFrame{
		Image:     s.renderColor(seq, camera),
		Timestamp: ts,
		Duration:  s.interval(),
		Seq:       seq,
	}
	if every(seq, s.cfg.DropColorEvery) {
		colorFrame.DropReason = capture.DroppedLateData
	}

	deliverDepth := func() {
		if s.cfg.NoDepth || h.Depth == nil || every(seq, s.cfg.SkipDepthEvery) {
			return
		}
		filtered := s.filterEnabled.Load()
		depthFrame := capture.RawDepthFrame{Timestamp: ts, Seq: seq, Filtered: filtered}
		if every(seq, s.cfg.DropDepthEvery) {
			depthFrame.DropReason = capture.DroppedOutOfBuffers
		} else {
			depthFrame.Depth = s.renderDepth(seq, camera, filtered)
		}
		h.Depth(depthFrame)
	}

	if s.cfg.DepthFirst {
		deliverDepth()
	}
	if h.Color != nil {
		h.Color(colorFrame)
	}
	if !s.cfg.DepthFirst {
		deliverDepth()
	}
	if !s.cfg.NoMetadata && h.Metadata != nil && seq%uint64(s.cfg.MetadataEvery) == 0 {
		h.Metadata(capture.RawMetadata{
			Timestamp:  ts,
			Seq:        seq,
			Detections: []capture.RawDetection{{Label: "target", Bounds: s.target(seq), Confidence: 0.9}},
		})
	}
	s.delivered.Inc()
}

func every(seq uint64, n int) bool {
	return n > 0 && seq%uint64(n) == 0
}

// target is the normalized box of the moving target at seq. It sweeps horizontally once every
// 120 ticks.
func (s *Source) target(seq uint64) capture.NormalizedRect {
	phase := float64(seq%120) / 120
	x := 0.1 + 0.6*(0.5+0.5*math.Sin(2*math.Pi*phase))
	return capture.NormalizedRect{X: x, Y: 0.35, Width: 0.2, Height: 0.3}
}

func (s *Source) renderColor(seq uint64, camera capture.CameraConfiguration) image.Image {
	size := s.cfg.ColorSize
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	bg := color.RGBA{R: 40, G: 40, B: uint8(40 + seq%64), A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = bg.R, bg.G, bg.B, bg.A
	}
	box := capture.MapNormalizedRect(s.target(seq), img.Bounds(), camera.Mirrored)
	fg := color.RGBA{R: 230, G: 120, B: 30, A: 255}
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			img.SetRGBA(x, y, fg)
		}
	}
	return img
}

// renderDepth is a far wall with the target in front of it. Without filtering every eighth
// column has no reading.
func (s *Source) renderDepth(seq uint64, camera capture.CameraConfiguration, filtered bool) *rimage.DepthMap {
	size := s.cfg.DepthSize
	dm := rimage.NewEmptyDepthMap(size.X, size.Y)
	box := capture.MapNormalizedRect(s.target(seq), image.Rect(0, 0, size.X, size.Y), camera.Mirrored)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			if !filtered && x%8 == 7 {
				continue
			}
			z := rimage.Depth(3000 + 10*y)
			if image.Pt(x, y).In(box) {
				z = 800
			}
			dm.Set(x, y, z)
		}
	}
	return dm
}
