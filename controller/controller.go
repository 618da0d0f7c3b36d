// Package controller orchestrates a capture session: it starts, stops and reconfigures the
// FrameSource, runs every delivery and synchronizer tick on one serial queue, and owns the
// recording writer.
//
// All source deliveries, synchronizer ticks and writer transitions (arm, submit, finalize and the
// sink's completion) run on the controller's queue, one at a time and in arrival order. Public
// methods may be called from any goroutine; the ones that touch the writer route the call through
// the queue.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/config"
	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/recording"
	"go.viam.com/depthcapture/rimage"
	"go.viam.com/depthcapture/synchronizer"
	"go.viam.com/depthcapture/utils"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("capture controller is closed")
	// ErrFinalizeTimeout is returned by StopCapture when it waited for a recording to finalize and
	// gave up. Capture is stopped regardless.
	ErrFinalizeTimeout = errors.New("timed out waiting for recording to finalize")
)

// Options configure a Controller.
type Options struct {
	Synchronizer synchronizer.Config

	// RecordingPath is where recordings are written; it is cleared before each one.
	RecordingPath string
	Recording     recording.Settings
	NewSink       recording.SinkFactory

	// WaitForFinalize makes StopCapture block until an active recording has been finalized, or
	// until FinalizeTimeout. When false, StopCapture requests finalization and returns at once,
	// and a very short recording may be cut off if the process exits right after.
	WaitForFinalize bool
	FinalizeTimeout time.Duration

	QueueSize int
	Clock     clock.Clock

	// OnRecordingFinalized is called on the queue once a recording's container is closed, or
	// failed to close. The file at Result.Path is ready to be shared when Result.Err is nil.
	OnRecordingFinalized func(recording.Result)
	// OnDeviceError is called after a device failure has stopped capture.
	OnDeviceError func(error)
}

// OptionsFromConfig builds Options from a loaded config. The sink factory and callbacks are left
// for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Synchronizer:    cfg.Synchronizer.SynchronizerConfig(),
		RecordingPath:   cfg.Recording.OutputPath,
		Recording:       cfg.Recording.Settings(),
		WaitForFinalize: cfg.Recording.WaitForFinalize,
		FinalizeTimeout: cfg.Recording.FinalizeTimeout(),
	}
}

// Stats is a snapshot of the session counters.
type Stats struct {
	Running      bool
	Synchronizer synchronizer.Stats
	Recording    recording.Stats
}

// A Controller runs one FrameSource.
type Controller struct {
	opts   Options
	logger logging.Logger
	source capture.FrameSource
	queue  *utils.SerialQueue
	sync   *synchronizer.Synchronizer
	writer *recording.Writer

	// mu serializes lifecycle transitions.
	mu      sync.Mutex
	closed  bool
	running atomic.Bool

	latest atomic.Pointer[rimage.DepthMap]

	// queue only
	finalizeWaiters []chan struct{}
}

// New returns a stopped Controller for source.
func New(source capture.FrameSource, opts Options, logger logging.Logger) (*Controller, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = config.DefaultFinalizeTimeout
	}
	if opts.NewSink == nil {
		opts.NewSink = recording.NewFFmpegSinkFactory(logger.Sublogger("sink"))
	}
	c := &Controller{
		opts:   opts,
		logger: logger,
		source: source,
		queue:  utils.NewSerialQueue(opts.QueueSize),
		sync:   synchronizer.New(opts.Synchronizer, logger.Sublogger("synchronizer")),
	}
	writer, err := recording.NewWriter(recording.Options{
		Path:        opts.RecordingPath,
		Settings:    opts.Recording,
		NewSink:     opts.NewSink,
		Dispatch:    c.dispatchCompletion,
		OnFinalized: c.recordingFinalized,
	}, logger.Sublogger("recording"))
	if err != nil {
		c.queue.Close()
		return nil, err
	}
	c.writer = writer

	c.sync.AddConsumer(c.storeLatest)
	c.sync.AddConsumer(c.writer.SubmitTuple)
	return c, nil
}

// AddConsumer registers a consumer of synchronized tuples. It is called on the queue for every
// tick and must not keep the tuple's buffers after returning.
func (c *Controller) AddConsumer(consumer synchronizer.Consumer) (remove func()) {
	return c.sync.AddConsumer(consumer)
}

// IsRunning reports whether capture is running.
func (c *Controller) IsRunning() bool {
	return c.running.Load()
}

// Configuration returns the source's current camera configuration.
func (c *Controller) Configuration() capture.CameraConfiguration {
	return c.source.Configuration()
}

// StartCapture starts delivery from the source. Starting a running controller is a no-op.
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.running.Load() {
		return nil
	}
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	props := c.source.Properties()
	mapper := capture.NewDetectionMapper(c.source.Configuration())
	if err := c.queue.DispatchSync(ctx, func() { c.sync.Reset(props, mapper) }); err != nil {
		return err
	}
	if err := c.source.Start(ctx, c.handlers()); err != nil {
		return err
	}
	c.running.Store(true)
	c.logger.Infow("capture started",
		"depth", props.SupportsDepth,
		"metadata", props.SupportsMetadata,
		"camera", c.source.Configuration())
	return nil
}

func (c *Controller) handlers() capture.Handlers {
	return capture.Handlers{
		Color: func(f capture.RawColorFrame) {
			c.deliver(func() { c.sync.HandleColor(f) })
		},
		Depth: func(f capture.RawDepthFrame) {
			c.deliver(func() { c.sync.HandleDepth(f) })
		},
		Metadata: func(m capture.RawMetadata) {
			c.deliver(func() { c.sync.HandleMetadata(m) })
		},
		Error: c.deviceFailed,
	}
}

func (c *Controller) deliver(fn func()) {
	if err := c.queue.Dispatch(context.Background(), fn); err != nil {
		c.logger.Debugw("delivery discarded", "error", err)
	}
}

// StopCapture stops delivery, completes any pending tick and finalizes an active recording. It is
// safe to call at any time. Unless Options.WaitForFinalize is set it does not wait for the
// recording's container to be closed.
func (c *Controller) StopCapture(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) error {
	var stopErr error
	if c.running.Load() {
		stopErr = c.source.Stop(ctx)
		c.running.Store(false)
	}

	// Deliveries queued before the source stopped run first.
	var finalized chan struct{}
	if err := c.queue.DispatchSync(ctx, func() {
		c.sync.Flush()
		c.writer.Finalize()
		if c.opts.WaitForFinalize && c.writer.State() != recording.StateIdle {
			finalized = make(chan struct{})
			c.finalizeWaiters = append(c.finalizeWaiters, finalized)
		}
	}); err != nil {
		return multierr.Combine(stopErr, err)
	}
	c.logger.Infow("capture stopped", "stats", c.sync.Stats())

	if finalized == nil {
		return stopErr
	}
	timer := c.opts.Clock.Timer(c.opts.FinalizeTimeout)
	defer timer.Stop()
	select {
	case <-finalized:
		return stopErr
	case <-timer.C:
		c.logger.Warnw("recording did not finalize in time", "timeout", c.opts.FinalizeTimeout)
		return multierr.Combine(stopErr, ErrFinalizeTimeout)
	case <-ctx.Done():
		return multierr.Combine(stopErr, ctx.Err())
	}
}

// ChangeCamera applies cfg as one transaction: a running capture is stopped, the source is
// reconfigured, and capture is restarted only if it was running before. If reconfiguring fails
// capture stays stopped. Stopping finalizes an active recording.
func (c *Controller) ChangeCamera(ctx context.Context, cfg capture.CameraConfiguration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	wasRunning := c.running.Load()
	if wasRunning {
		if err := c.stopLocked(ctx); err != nil {
			return errors.Wrap(err, "failed to stop capture for reconfiguration")
		}
	}
	if err := c.source.Reconfigure(ctx, cfg); err != nil {
		c.logger.Errorw("camera reconfiguration failed", "camera", cfg, "error", err)
		return err
	}
	c.logger.Infow("camera reconfigured", "camera", cfg, "resuming", wasRunning)
	if !wasRunning {
		return nil
	}
	return c.startLocked(ctx)
}

// SetDepthFilterEnabled passes the hole-filling toggle through to the source.
func (c *Controller) SetDepthFilterEnabled(enabled bool) {
	c.source.SetDepthFilterEnabled(enabled)
}

// StartRecording arms the writer. It fails with a WriterError wrapping recording.ErrAlreadyArmed
// or recording.ErrAllocationFailed.
func (c *Controller) StartRecording(ctx context.Context) error {
	var armErr error
	if err := c.queue.DispatchSync(ctx, func() { armErr = c.writer.Arm() }); err != nil {
		return err
	}
	return armErr
}

// StopRecording requests finalization of the active recording. Completion is reported through
// Options.OnRecordingFinalized.
func (c *Controller) StopRecording(ctx context.Context) error {
	return c.queue.DispatchSync(ctx, c.writer.Finalize)
}

// RecordingState returns the writer's state.
func (c *Controller) RecordingState() recording.State {
	return c.writer.State()
}

// RecordingPath returns where recordings are written.
func (c *Controller) RecordingPath() string {
	return c.writer.Path()
}

// LatestDepth returns the depth map of the most recent tick that had one. The map is shared and
// must not be modified. It matches display.DepthProvider.
func (c *Controller) LatestDepth() (*rimage.DepthMap, bool) {
	dm := c.latest.Load()
	return dm, dm != nil
}

// Stats returns a snapshot of the session counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Running:      c.running.Load(),
		Synchronizer: c.sync.Stats(),
		Recording:    c.writer.Stats(),
	}
}

// storeLatest copies the tick's depth out, since tuple buffers only live for the callback.
func (c *Controller) storeLatest(tuple capture.SynchronizedTuple) {
	if tuple.Depth == nil || tuple.Depth.Depth == nil {
		return
	}
	c.latest.Store(tuple.Depth.Depth.Clone())
}

// dispatchCompletion routes the sink's completion back onto the queue. The sink may complete
// from within Finish, which itself runs on the queue, so the hand-off happens on its own goroutine.
func (c *Controller) dispatchCompletion(fn func()) {
	goutils.PanicCapturingGo(func() {
		if err := c.queue.Dispatch(context.Background(), fn); err != nil {
			// closed; nothing else touches the writer any more
			fn()
		}
	})
}

func (c *Controller) recordingFinalized(res recording.Result) {
	for _, ch := range c.finalizeWaiters {
		close(ch)
	}
	c.finalizeWaiters = nil
	if c.opts.OnRecordingFinalized != nil {
		c.opts.OnRecordingFinalized(res)
	}
}

// deviceFailed runs on the source's delivery goroutine, which must not wait on the source.
func (c *Controller) deviceFailed(err error) {
	if !capture.IsDeviceError(err) {
		err = capture.NewDeviceError("capture", err)
	}
	c.logger.Errorw("device failed, stopping capture", "error", err)
	goutils.PanicCapturingGo(func() {
		if stopErr := c.StopCapture(context.Background()); stopErr != nil && !errors.Is(stopErr, ErrClosed) {
			c.logger.Warnw("error stopping capture after device failure", "error", stopErr)
		}
		if c.opts.OnDeviceError != nil {
			c.opts.OnDeviceError(err)
		}
	})
}

// Close stops capture, finalizes any recording and releases the source.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	err := c.stopLocked(ctx)
	c.closed = true
	err = multierr.Combine(err, c.source.Close(ctx))
	c.queue.Close()
	return err
}
