package display_test

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcapture/display"
	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/rimage"
)

type transformCall struct {
	size                image.Point
	disparity, equalize bool
}

func TestRendererLatestWins(t *testing.T) {
	dm := rimage.NewEmptyDepthMap(4, 4)
	started := make(chan transformCall, 10)
	release := make(chan struct{})
	shown := make(chan image.Point, 10)
	toggles := display.NewToggles(display.ToggleSnapshot{})

	r := display.NewRenderer(display.RendererOptions{
		Depth:   func() (*rimage.DepthMap, bool) { return dm, true },
		Toggles: toggles,
		Display: display.DisplayFunc(func(img image.Image, size image.Point) error {
			shown <- size
			return nil
		}),
		Transformer: rimage.DepthTransformerFunc(
			func(d *rimage.DepthMap, size image.Point, disparity, equalize bool) image.Image {
				started <- transformCall{size, disparity, equalize}
				<-release
				return image.NewGray(image.Rectangle{Max: size})
			}),
	}, logging.NewTestLogger(t))
	defer r.Close()

	r.Redraw(image.Pt(10, 10))
	first := <-started
	test.That(t, first, test.ShouldResemble, transformCall{image.Pt(10, 10), false, false})

	// while the worker is busy, two redraws arrive; only the newest survives
	toggles.SetUseDisparity(true)
	r.Redraw(image.Pt(20, 20))
	toggles.SetEqualize(true)
	r.Redraw(image.Pt(30, 30))
	// toggles flipped after the request do not apply to it
	toggles.Apply(display.ToggleSnapshot{})

	release <- struct{}{}
	second := <-started
	test.That(t, second, test.ShouldResemble, transformCall{image.Pt(30, 30), true, true})
	release <- struct{}{}

	test.That(t, <-shown, test.ShouldResemble, image.Pt(10, 10))
	test.That(t, <-shown, test.ShouldResemble, image.Pt(30, 30))

	stats := r.Stats()
	test.That(t, stats.Requested, test.ShouldEqual, uint64(3))
	test.That(t, stats.Overwritten, test.ShouldEqual, uint64(1))
	select {
	case extra := <-started:
		t.Fatalf("unexpected render %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRendererNoDepth(t *testing.T) {
	r := display.NewRenderer(display.RendererOptions{
		Depth: func() (*rimage.DepthMap, bool) { return nil, false },
		Display: display.DisplayFunc(func(image.Image, image.Point) error {
			return errors.New("should not be called")
		}),
	}, logging.NewTestLogger(t))
	r.Redraw(image.Pt(5, 5))
	r.Close()

	stats := r.Stats()
	test.That(t, stats.NoDepth, test.ShouldEqual, uint64(1))
	test.That(t, stats.Rendered, test.ShouldEqual, uint64(0))
	test.That(t, stats.Failed, test.ShouldEqual, uint64(0))
}

func TestFileDisplay(t *testing.T) {
	dir := t.TempDir()
	dm := rimage.NewEmptyDepthMap(4, 4)
	for x := 0; x < 4; x++ {
		dm.Set(x, 1, rimage.Depth(1000+100*x))
	}
	d := &display.FileDisplay{Dir: dir, Colorize: true}
	done := make(chan struct{})
	r := display.NewRenderer(display.RendererOptions{
		Depth: func() (*rimage.DepthMap, bool) { return dm, true },
		Display: display.DisplayFunc(func(img image.Image, size image.Point) error {
			defer close(done)
			return d.Show(img, size)
		}),
	}, logging.NewTestLogger(t))
	defer r.Close()

	r.Redraw(image.Pt(8, 8))
	<-done

	test.That(t, d.Count(), test.ShouldEqual, int64(1))
	f, err := os.Open(filepath.Join(dir, "depth_00001.png"))
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, format, test.ShouldEqual, "png")
	test.That(t, cfg.Width, test.ShouldEqual, 8)
}

func TestToggles(t *testing.T) {
	toggles := display.NewToggles(display.ToggleSnapshot{FilterEnabled: true})
	toggles.SetUseDisparity(true)
	test.That(t, toggles.Snapshot(), test.ShouldResemble, display.ToggleSnapshot{FilterEnabled: true, UseDisparity: true})
	toggles.SetFilterEnabled(false)
	test.That(t, toggles.Snapshot().FilterEnabled, test.ShouldBeFalse)
}

func TestEncodeImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	for _, format := range display.ImageFormats {
		var buf bytes.Buffer
		test.That(t, display.EncodeImage(&buf, img, format), test.ShouldBeNil)
		test.That(t, buf.Len(), test.ShouldBeGreaterThan, 0)
	}
	test.That(t, display.EncodeImage(&bytes.Buffer{}, img, "tiff"), test.ShouldNotBeNil)

	test.That(t, display.FormatFromPath("out/frame.JPG"), test.ShouldEqual, "jpeg")
	test.That(t, display.FormatFromPath("frame.qoi"), test.ShouldEqual, "qoi")
}
