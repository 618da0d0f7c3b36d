// Package main is the depthcapture command line tool: it records depth video from a camera,
// renders depth previews and converts saved depth maps to images.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/capture/fake"
	"go.viam.com/depthcapture/capture/webcam"
	"go.viam.com/depthcapture/config"
	"go.viam.com/depthcapture/display"
	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/utils"
)

const (
	// Flags.
	flagConfig    = "config"
	flagDebug     = "debug"
	flagSource    = "source"
	flagOut       = "out"
	flagDuration  = "duration"
	flagPreview   = "preview-dir"
	flagFrames    = "frames"
	flagDir       = "dir"
	flagFormat    = "format"
	flagColorize  = "colorize"
	flagDisparity = "disparity"
	flagEqualize  = "equalize"
	flagFilter    = "filter"
	flagWidth     = "width"
	flagHeight    = "height"
	flagRate      = "rate"
	flagDumpDepth = "dump-depth"
	flagWatch     = "watch"
	flagLogFile   = "log-file"
	flagProgress  = "progress"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logging.Global().Errorw("depthcapture failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var (
		logger  logging.Logger
		logFile *logging.FileAppender
	)
	toggleFlags := []cli.Flag{
		&cli.BoolFlag{Name: flagDisparity, Usage: "render disparity instead of distance"},
		&cli.BoolFlag{Name: flagEqualize, Usage: "equalize the depth histogram"},
		&cli.BoolFlag{Name: flagFilter, Usage: "enable the device's depth hole filling"},
	}

	return &cli.App{
		Name:  "depthcapture",
		Usage: "record and preview synchronized depth video",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated by size",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("depthcapture")
			} else {
				logger = logging.NewLogger("depthcapture")
			}
			if path := c.String(flagLogFile); path != "" {
				logFile = logging.NewFileAppender(path, logging.DefaultLogFileMaxSizeMB)
				logger.AddAppender(logFile)
			}
			logging.ReplaceGlobal(logger)
			return nil
		},
		After: func(c *cli.Context) error {
			if logFile == nil {
				return nil
			}
			return logFile.Close()
		},
		Commands: []*cli.Command{
			{
				Name:  "record",
				Usage: "record depth video to a file",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagSource, Usage: "frame source: fake or webcam"},
					&cli.StringFlag{Name: flagOut, Aliases: []string{"o"}, Usage: "output `FILE`"},
					&cli.DurationFlag{Name: flagDuration, Aliases: []string{"d"}, Usage: "stop after this long; 0 records until interrupted"},
					&cli.StringFlag{Name: flagPreview, Usage: "also write rendered preview frames to `DIR`"},
					&cli.Float64Flag{Name: flagRate, Value: 5, Usage: "preview frames per second"},
					&cli.StringFlag{Name: flagDumpDepth, Usage: "save the last depth map to `FILE`"},
					&cli.BoolFlag{Name: flagWatch, Usage: "apply changes to the config file while recording"},
					&cli.BoolFlag{
						Name:  flagProgress,
						Value: term.IsTerminal(int(os.Stdout.Fd())),
						Usage: "show a progress spinner while recording",
					},
				}, toggleFlags...),
				Action: func(c *cli.Context) error {
					return recordAction(c, logger)
				},
			},
			{
				Name:  "preview",
				Usage: "render depth frames to image files",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagSource, Usage: "frame source: fake or webcam"},
					&cli.IntFlag{Name: flagFrames, Value: 30, Usage: "number of frames to render"},
					&cli.StringFlag{Name: flagDir, Value: ".", Usage: "output `DIR`"},
					&cli.StringFlag{Name: flagFormat, Value: "png", Usage: "image format"},
					&cli.BoolFlag{Name: flagColorize, Usage: "map depth to a color ramp"},
					&cli.Float64Flag{Name: flagRate, Value: 10, Usage: "frames per second"},
					&cli.IntFlag{Name: flagWidth, Usage: "render width; 0 keeps the depth map's"},
					&cli.IntFlag{Name: flagHeight, Usage: "render height; 0 keeps the depth map's"},
				}, toggleFlags...),
				Action: func(c *cli.Context) error {
					return previewAction(c, logger)
				},
			},
			{
				Name:      "transform",
				Usage:     "convert a saved depth map to an image",
				ArgsUsage: "<depth map> <image>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagDisparity, Usage: "render disparity instead of distance"},
					&cli.BoolFlag{Name: flagEqualize, Usage: "equalize the depth histogram"},
					&cli.BoolFlag{Name: flagColorize, Usage: "map depth to a color ramp"},
					&cli.IntFlag{Name: flagWidth, Usage: "output width"},
					&cli.IntFlag{Name: flagHeight, Usage: "output height"},
				},
				Action: transformAction,
			},
			{
				Name:  "schema",
				Usage: "print the JSON schema of the configuration file",
				Action: func(c *cli.Context) error {
					out, err := config.SchemaJSON()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(c.App.Writer, string(out))
					return err
				},
			},
		},
	}
}

// loadConfig reads the config named by --config, or the defaults, and applies the command's
// overriding flags.
func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	cfg := config.Defaults()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path, logger); err != nil {
			return nil, err
		}
	}
	if source := c.String(flagSource); source != "" && source != cfg.Source.Type {
		cfg.Source = config.SourceConfig{Type: source}
	}
	if out := c.String(flagOut); out != "" {
		cfg.Recording.OutputPath = out
	}
	if c.IsSet(flagDisparity) {
		cfg.Display.UseDisparity = c.Bool(flagDisparity)
	}
	if c.IsSet(flagEqualize) {
		cfg.Display.Equalize = c.Bool(flagEqualize)
	}
	if c.IsSet(flagFilter) {
		cfg.Display.FilterEnabled = c.Bool(flagFilter)
	}
	cfg.Debug = cfg.Debug || c.Bool(flagDebug)
	cfg.FillDefaults()
	if cfg.Recording.OutputPath != "" {
		resolved, err := utils.ResolveFile(cfg.Recording.OutputPath)
		if err != nil {
			return nil, err
		}
		cfg.Recording.OutputPath = resolved
	}
	if _, err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newSource opens the configured frame source and applies the camera configuration.
func newSource(ctx context.Context, cfg *config.Config, logger logging.Logger) (capture.FrameSource, error) {
	var source capture.FrameSource
	switch cfg.Source.Type {
	case config.SourceTypeFake:
		source = fake.NewSource(cfg.Source.Fake.FakeConfig(), logger.Sublogger("fake"))
	case config.SourceTypeWebcam:
		webcamCfg := *cfg.Source.Webcam
		webcamCfg.Debug = webcamCfg.Debug || cfg.Debug
		cam, err := webcam.NewSource(webcamCfg, logger.Sublogger("webcam"))
		if err != nil {
			return nil, err
		}
		source = cam
	default:
		return nil, errors.Errorf("unknown source type %q", cfg.Source.Type)
	}

	camera, err := cfg.Camera.CameraConfiguration()
	if err != nil {
		return nil, err
	}
	if err := source.Reconfigure(ctx, camera); err != nil {
		return nil, errors.Wrap(err, "cannot apply camera configuration")
	}
	source.SetDepthFilterEnabled(cfg.Display.FilterEnabled)
	return source, nil
}

func imageFormat(format string) (string, error) {
	for _, f := range display.ImageFormats {
		if f == format {
			return f, nil
		}
	}
	return "", errors.Errorf("unsupported image format %q, use one of %v", format, display.ImageFormats)
}
