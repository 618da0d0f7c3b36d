package main

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/depthcapture/display"
	"go.viam.com/depthcapture/rimage"
)

func transformAction(c *cli.Context) (err error) {
	if c.NArg() != 2 {
		return errors.New("transform needs an input depth map and an output image")
	}
	in, outPath := c.Args().Get(0), c.Args().Get(1)
	format, err := imageFormat(display.FormatFromPath(outPath))
	if err != nil {
		return err
	}

	dm, err := readDepth(in)
	if err != nil {
		return err
	}
	size := image.Pt(c.Int(flagWidth), c.Int(flagHeight))
	img := rimage.DefaultDepthTransformer.Transform(dm, size, c.Bool(flagDisparity), c.Bool(flagEqualize))
	if c.Bool(flagColorize) {
		img = rimage.GrayToColor(img)
	}

	//nolint:gosec
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return display.EncodeImage(f, img, format)
}

// readDepth reads a 16-bit PNG in millimeters, or a depth map file as written by --dump-depth.
func readDepth(path string) (_ *rimage.DepthMap, err error) {
	if strings.ToLower(filepath.Ext(path)) != ".png" {
		return rimage.ParseDepthMap(path)
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %s", path)
	}
	return rimage.ConvertImageToDepthMap(img)
}
