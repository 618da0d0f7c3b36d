// Package webcam implements a FrameSource over local video devices using pion/mediadevices: one
// device for color and, optionally, a second device streaming Z16 depth. Webcams produce no
// detection metadata.
package webcam

import (
	"context"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/rimage"
	"go.viam.com/depthcapture/utils"
)

// Config selects and configures the devices.
type Config struct {
	// ColorPath is matched against device labels; empty picks the first color device.
	ColorPath string `json:"color_path,omitempty"`
	// DepthPath is matched against device labels; empty disables depth.
	DepthPath string  `json:"depth_path,omitempty"`
	Width     int     `json:"width_px,omitempty"`
	Height    int     `json:"height_px,omitempty"`
	FrameRate float32 `json:"frame_rate,omitempty"`
	Debug     bool    `json:"debug,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) ([]string, error) {
	if c.Width < 0 || c.Height < 0 {
		return nil, errors.Errorf(
			"got illegal negative dimensions for width_px and height_px (%d, %d) fields set for webcam camera",
			c.Width, c.Height)
	}
	if c.FrameRate < 0 {
		return nil, utils.NewConfigValidationError(path, errors.New("frame_rate cannot be negative"))
	}
	return []string{}, nil
}

// lateAfter is how many frame intervals old a frame may be when delivered before it is flagged as
// late data.
const lateAfter = 2

type stream struct {
	driver driverutils.Driver
	media  prop.Media
}

type event struct {
	color *capture.RawColorFrame
	depth *capture.RawDepthFrame
	err   error
	at    time.Time
}

// Source is a webcam FrameSource.
type Source struct {
	conf   Config
	logger logging.Logger

	color stream
	depth *stream
	props capture.Properties

	mu       sync.Mutex
	camera   capture.CameraConfiguration
	running  bool
	closed   bool
	stopping atomic.Bool
	workers  utils.StoppableWorkers

	filterEnabled atomic.Bool
}

// NewSource finds the configured devices and reads their capabilities. The devices are not
// opened for streaming until Start.
func NewSource(conf Config, logger logging.Logger) (*Source, error) {
	return newSource(conf, func() []driverutils.Driver {
		return driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
	}, logger)
}

func newSource(conf Config, getDrivers func() []driverutils.Driver, logger logging.Logger) (*Source, error) {
	if _, err := conf.Validate("webcam"); err != nil {
		return nil, err
	}
	mediadevicescamera.Initialize()
	drivers := getDrivers()

	color, err := findStream(drivers, conf.ColorPath, false, conf, logger)
	if err != nil {
		return nil, errors.Wrap(err, "found no color webcam")
	}
	s := &Source{conf: conf, logger: logger, color: *color}
	s.props = capture.Properties{
		ColorSize: image.Pt(color.media.Width, color.media.Height),
		FrameRate: color.media.FrameRate,
	}
	if s.props.FrameRate <= 0 {
		s.props.FrameRate = 30
	}
	if conf.DepthPath != "" {
		depth, err := findStream(drivers, conf.DepthPath, true, conf, logger)
		if err != nil {
			return nil, errors.Wrap(err, "found no depth webcam")
		}
		s.depth = depth
		s.props.SupportsDepth = true
		s.props.DepthSize = image.Pt(depth.media.Width, depth.media.Height)
	}
	logger.Infow("webcam source ready",
		"color", color.driver.Info().Label,
		"color_format", color.media.FrameFormat,
		"depth", s.props.SupportsDepth)
	return s, nil
}

func findStream(
	drivers []driverutils.Driver, path string, depth bool, conf Config, logger logging.Logger,
) (*stream, error) {
	for _, d := range drivers {
		label := d.Info().Label
		if path != "" && !strings.Contains(label, path) {
			continue
		}
		props, err := getDriverProperties(d)
		if err != nil {
			logger.Debugw("cannot access driver properties, skipping", "driver", label, "error", err)
			continue
		}
		media, ok := selectMedia(props, depth, conf)
		if !ok {
			continue
		}
		if conf.Debug {
			logger.Debugw("selected driver", "driver", label, "media", media)
		}
		return &stream{driver: d, media: media}, nil
	}
	return nil, errors.Wrap(capture.ErrUnsupportedFormat, "no matching device")
}

// getDriverProperties returns the Media properties of a driver, opening it if needed.
func getDriverProperties(d driverutils.Driver) (_ []prop.Media, err error) {
	// Need to open driver to get properties
	if d.Status() == driverutils.StateClosed {
		if errOpen := d.Open(); errOpen != nil {
			return nil, errOpen
		}
		defer func() {
			err = multierr.Combine(err, d.Close())
		}()
	}
	return d.Properties(), nil
}

// selectMedia picks the first media of the right kind (Z16 for depth, anything else for color)
// that matches the configured size and frame rate.
func selectMedia(props []prop.Media, depth bool, conf Config) (prop.Media, bool) {
	for _, p := range props {
		if (p.FrameFormat == frame.FormatZ16) != depth {
			continue
		}
		if conf.Width != 0 && p.Width != conf.Width {
			continue
		}
		if conf.Height != 0 && p.Height != conf.Height {
			continue
		}
		if conf.FrameRate != 0 && p.FrameRate != 0 && p.FrameRate != conf.FrameRate {
			continue
		}
		return p, true
	}
	return prop.Media{}, false
}

// Properties reports what the source produces.
func (s *Source) Properties() capture.Properties {
	return s.props
}

func (s *Source) interval() time.Duration {
	return time.Duration(float64(time.Second) / float64(s.props.FrameRate))
}

func openReader(st stream) (video.Reader, error) {
	if st.driver.Status() == driverutils.StateClosed {
		if err := st.driver.Open(); err != nil {
			return nil, err
		}
	}
	recorder, ok := st.driver.(driverutils.VideoRecorder)
	if !ok {
		return nil, errors.Wrap(capture.ErrUnsupportedFormat, "driver is not a video recorder")
	}
	return recorder.VideoRecord(st.media)
}

// Start opens the devices and begins delivery.
func (s *Source) Start(ctx context.Context, handlers capture.Handlers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.NewDeviceError("start", capture.ErrDeviceClosed)
	}
	if s.running {
		return capture.NewDeviceError("start", capture.ErrInvalidState)
	}

	colorReader, err := openReader(s.color)
	if err != nil {
		return capture.NewDeviceError("start", multierr.Combine(err, s.closeDrivers()))
	}
	var depthReader video.Reader
	if s.depth != nil {
		if depthReader, err = openReader(*s.depth); err != nil {
			return capture.NewDeviceError("start", multierr.Combine(err, s.closeDrivers()))
		}
	}

	camera := s.camera
	events := make(chan event, 4)
	clk := newSlotClock(time.Now(), s.interval())
	s.stopping.Store(false)
	s.running = true

	s.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		s.deliver(ctx, events, handlers)
	})
	s.workers.AddWorkers(func(ctx context.Context) {
		s.readColor(ctx, colorReader, clk.stream(), camera, events)
	})
	if depthReader != nil {
		s.workers.AddWorkers(func(ctx context.Context) {
			s.readDepth(ctx, depthReader, clk.stream(), camera, events)
		})
	}
	s.logger.Infow("webcam source started", "camera", camera)
	return nil
}

func (s *Source) send(ctx context.Context, events chan<- event, ev event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Source) readErr(ctx context.Context, err error, events chan<- event) {
	if ctx.Err() != nil || s.stopping.Load() {
		return
	}
	s.send(ctx, events, event{err: err})
}

func (s *Source) readColor(
	ctx context.Context, reader video.Reader, clk *streamClock, camera capture.CameraConfiguration, events chan<- event,
) {
	for ctx.Err() == nil {
		img, release, err := reader.Read()
		if err != nil {
			s.readErr(ctx, err, events)
			return
		}
		now := time.Now()
		ts, seq := clk.stamp(now)
		var out image.Image = imaging.Clone(img)
		if release != nil {
			release()
		}
		if camera.Mirrored {
			out = imaging.FlipH(out)
		}
		f := &capture.RawColorFrame{Image: out, Timestamp: ts, Duration: s.interval(), Seq: seq}
		if !s.send(ctx, events, event{color: f, at: now}) {
			return
		}
	}
}

func (s *Source) readDepth(
	ctx context.Context, reader video.Reader, clk *streamClock, camera capture.CameraConfiguration, events chan<- event,
) {
	for ctx.Err() == nil {
		img, release, err := reader.Read()
		if err != nil {
			s.readErr(ctx, err, events)
			return
		}
		now := time.Now()
		ts, seq := clk.stamp(now)
		dm, err := rimage.ConvertImageToDepthMap(img)
		if release != nil {
			release()
		}
		if err != nil {
			s.readErr(ctx, multierr.Combine(capture.ErrUnsupportedFormat, err), events)
			return
		}
		if camera.Mirrored {
			dm = flipDepthH(dm)
		}
		filtered := s.filterEnabled.Load()
		if filtered {
			dm = rimage.FillDepthHoles(dm, rimage.DefaultFillIterations)
		}
		f := &capture.RawDepthFrame{Depth: dm, Timestamp: ts, Seq: seq, Filtered: filtered}
		if !s.send(ctx, events, event{depth: f, at: now}) {
			return
		}
	}
}

// deliver is the single delivery goroutine: every handler call happens here.
func (s *Source) deliver(ctx context.Context, events <-chan event, h capture.Handlers) {
	late := lateAfter * s.interval()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch {
			case ev.err != nil:
				s.logger.Errorw("webcam read failed", "error", ev.err)
				if h.Error != nil {
					h.Error(capture.NewDeviceError("read", ev.err))
				}
				return
			case ev.color != nil:
				if time.Since(ev.at) > late {
					ev.color.Image = nil
					ev.color.DropReason = capture.DroppedLateData
				}
				if h.Color != nil {
					h.Color(*ev.color)
				}
			case ev.depth != nil:
				if time.Since(ev.at) > late {
					ev.depth.Depth = nil
					ev.depth.DropReason = capture.DroppedLateData
				}
				if h.Depth != nil {
					h.Depth(*ev.depth)
				}
			}
		}
	}
}

func (s *Source) closeDrivers() error {
	var err error
	if s.color.driver.Status() != driverutils.StateClosed {
		err = multierr.Combine(err, s.color.driver.Close())
	}
	if s.depth != nil && s.depth.driver.Status() != driverutils.StateClosed {
		err = multierr.Combine(err, s.depth.driver.Close())
	}
	return err
}

// Stop closes the devices and waits for delivery to end.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Source) stopLocked() error {
	if !s.running {
		return nil
	}
	s.stopping.Store(true)
	// closing the drivers unblocks pending reads
	err := s.closeDrivers()
	s.workers.Stop()
	s.workers = nil
	s.running = false
	s.logger.Info("webcam source stopped")
	return err
}

// Reconfigure applies cfg. It fails with ErrInvalidState while running. Webcams have no facing;
// the facing is recorded as given.
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
	return nil
}

// Configuration returns the configuration last applied.
func (s *Source) Configuration() capture.CameraConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// SetDepthFilterEnabled turns software hole filling of depth frames on or off.
func (s *Source) SetDepthFilterEnabled(enabled bool) {
	s.filterEnabled.Store(enabled)
}

// Close stops the source for good.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.stopLocked()
}

func flipDepthH(dm *rimage.DepthMap) *rimage.DepthMap {
	w, h := dm.Width(), dm.Height()
	out := rimage.NewEmptyDepthMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(w-1-x, y, dm.GetDepth(x, y))
		}
	}
	return out
}
