package main

import (
	"context"
	"image"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"go.viam.com/depthcapture/controller"
	"go.viam.com/depthcapture/display"
	"go.viam.com/depthcapture/logging"
)

func previewAction(c *cli.Context, logger logging.Logger) (err error) {
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	format, err := imageFormat(c.String(flagFormat))
	if err != nil {
		return err
	}
	frames := c.Int(flagFrames)
	if frames <= 0 {
		return errors.New("--frames must be positive")
	}
	dir := c.String(flagDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, "cannot create output directory")
	}
	ctx := c.Context

	source, err := newSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	ctrl, err := controller.New(source, controller.OptionsFromConfig(cfg), logger.Sublogger("controller"))
	if err != nil {
		return multierr.Combine(err, source.Close(ctx))
	}
	defer func() {
		err = multierr.Combine(err, ctrl.Close(context.Background()))
	}()

	out := &display.FileDisplay{Dir: dir, Format: format, Colorize: c.Bool(flagColorize)}
	renderer := display.NewRenderer(display.RendererOptions{
		Depth:   ctrl.LatestDepth,
		Toggles: display.NewToggles(cfg.Display.Toggles()),
		Display: out,
	}, logger.Sublogger("preview"))

	if err := ctrl.StartCapture(ctx); err != nil {
		renderer.Close()
		return err
	}
	size := image.Pt(c.Int(flagWidth), c.Int(flagHeight))
	limiter := rate.NewLimiter(rate.Limit(c.Float64(flagRate)), 1)
	runErr := redrawLoop(ctx, renderer, limiter, size, func() bool {
		return out.Count() >= int64(frames)
	})
	renderer.Close()
	stopErr := ctrl.StopCapture(context.Background())

	stats := renderer.Stats()
	if err := writeSummary(c.App.Writer, summary{Stats: ctrl.Stats(), Preview: &stats}); err != nil {
		logger.Warnw("cannot write summary", "error", err)
	}
	logger.Infow("preview written", "dir", dir, "frames", out.Count())
	return multierr.Combine(runErr, stopErr)
}
