package main

import (
	"context"
	"image"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"go.viam.com/depthcapture/config"
	"go.viam.com/depthcapture/controller"
	"go.viam.com/depthcapture/display"
	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/recording"
)

func recordAction(c *cli.Context, logger logging.Logger) (err error) {
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	ctx := c.Context

	source, err := newSource(ctx, cfg, logger)
	if err != nil {
		return err
	}

	finalized := make(chan recording.Result, 1)
	deviceErrs := make(chan error, 1)
	opts := controller.OptionsFromConfig(cfg)
	opts.OnRecordingFinalized = func(res recording.Result) {
		select {
		case finalized <- res:
		default:
		}
	}
	opts.OnDeviceError = func(err error) {
		select {
		case deviceErrs <- err:
		default:
		}
	}
	ctrl, err := controller.New(source, opts, logger.Sublogger("controller"))
	if err != nil {
		return multierr.Combine(err, source.Close(ctx))
	}
	defer func() {
		err = multierr.Combine(err, ctrl.Close(context.Background()))
	}()

	intervals := &intervalRecorder{}
	ctrl.AddConsumer(intervals.observe)

	var renderer *display.Renderer
	toggles := display.NewToggles(cfg.Display.Toggles())
	if dir := c.String(flagPreview); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrap(err, "cannot create preview directory")
		}
		renderer = display.NewRenderer(display.RendererOptions{
			Depth:   ctrl.LatestDepth,
			Toggles: toggles,
			Display: &display.FileDisplay{Dir: dir, Colorize: true},
		}, logger.Sublogger("preview"))
		defer renderer.Close()
	}

	if c.Bool(flagWatch) {
		path := c.String(flagConfig)
		if path == "" {
			return errors.New("--watch needs --config")
		}
		watcher, watchErr := config.NewWatcher(path, config.DefaultDebounceDelay, func(newCfg *config.Config) {
			applyConfig(ctx, ctrl, toggles, newCfg, logger)
		}, logger.Sublogger("config"))
		if watchErr != nil {
			return watchErr
		}
		defer func() {
			err = multierr.Combine(err, watcher.Close())
		}()
	}

	if err := ctrl.StartCapture(ctx); err != nil {
		return err
	}
	if err := ctrl.StartRecording(ctx); err != nil {
		return err
	}
	logger.Infow("recording", "path", ctrl.RecordingPath(), "duration", c.Duration(flagDuration))

	var loops []func(context.Context) error
	if renderer != nil {
		limiter := rate.NewLimiter(rate.Limit(c.Float64(flagRate)), 1)
		loops = append(loops, func(ctx context.Context) error {
			return redrawLoop(ctx, renderer, limiter, image.Point{}, nil)
		})
	}
	var progress *recordProgress
	if c.Bool(flagProgress) {
		p, progressErr := startRecordProgress(defaultSpinnerFactory, ctrl.RecordingPath(), ctrl.Stats)
		if progressErr != nil {
			logger.Warnw("cannot show progress", "error", progressErr)
		} else {
			progress = p
			loops = append(loops, progress.run)
		}
	}

	start := time.Now()
	runErr := runUntilDone(ctx, c.Duration(flagDuration), deviceErrs, loops...)

	// The run context may already be cancelled by an interrupt; stopping must still happen.
	stopErr := ctrl.StopCapture(context.Background())
	var res recording.Result
	select {
	case res = <-finalized:
	case <-time.After(cfg.Recording.FinalizeTimeout()):
		res = recording.Result{Path: ctrl.RecordingPath(), Err: controller.ErrFinalizeTimeout}
	}
	if progress != nil {
		progress.finish(res)
	}

	if path := c.String(flagDumpDepth); path != "" {
		if dm, ok := ctrl.LatestDepth(); ok {
			if err := dm.WriteToFile(path); err != nil {
				logger.Warnw("cannot save depth map", "path", path, "error", err)
			}
		}
	}

	sum := summary{
		Elapsed:      time.Since(start),
		Stats:        ctrl.Stats(),
		Result:       res,
		TickInterval: intervals.intervals(),
	}
	if info, err := os.Stat(res.Path); err == nil {
		sum.FileSize = info.Size()
	}
	if renderer != nil {
		stats := renderer.Stats()
		sum.Preview = &stats
	}
	if err := writeSummary(c.App.Writer, sum); err != nil {
		logger.Warnw("cannot write summary", "error", err)
	}
	return multierr.Combine(runErr, stopErr, res.Err)
}

// runUntilDone blocks until duration elapses (forever when zero), ctx is done or the device
// fails. loops run alongside and are cancelled when it returns.
func runUntilDone(
	ctx context.Context,
	duration time.Duration,
	deviceErrs <-chan error,
	loops ...func(context.Context) error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		var timeout <-chan time.Time
		if duration > 0 {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-runCtx.Done():
			return nil
		case <-timeout:
			return nil
		case err := <-deviceErrs:
			return err
		}
	})
	for _, loop := range loops {
		loop := loop
		g.Go(func() error {
			return loop(runCtx)
		})
	}
	return g.Wait()
}

// redrawLoop requests a redraw at the limiter's pace until ctx is done or done reports true.
func redrawLoop(
	ctx context.Context,
	renderer *display.Renderer,
	limiter *rate.Limiter,
	size image.Point,
	done func() bool,
) error {
	for done == nil || !done() {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		renderer.Redraw(size)
	}
	return nil
}

// applyConfig applies a changed config file to a running session. The output path and
// synchronizer settings only apply to the next run.
func applyConfig(
	ctx context.Context,
	ctrl *controller.Controller,
	toggles *display.Toggles,
	cfg *config.Config,
	logger logging.Logger,
) {
	toggles.Apply(cfg.Display.Toggles())
	ctrl.SetDepthFilterEnabled(cfg.Display.FilterEnabled)

	camera, err := cfg.Camera.CameraConfiguration()
	if err != nil {
		logger.Warnw("ignoring camera configuration", "error", err)
		return
	}
	if camera == ctrl.Configuration() {
		return
	}
	if ctrl.RecordingState() != recording.StateIdle {
		logger.Warn("changing the camera ends the current recording")
	}
	if err := ctrl.ChangeCamera(ctx, camera); err != nil {
		logger.Errorw("cannot change camera", "camera", camera, "error", err)
	}
}
