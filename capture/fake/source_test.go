package fake_test

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/capture/fake"
	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/rimage"
)

const interval = time.Second / 30

type recorder struct {
	colors chan capture.RawColorFrame
	depths chan capture.RawDepthFrame
	metas  chan capture.RawMetadata
	errs   chan error
	order  chan string
}

func newRecorder() *recorder {
	return &recorder{
		colors: make(chan capture.RawColorFrame, 100),
		depths: make(chan capture.RawDepthFrame, 100),
		metas:  make(chan capture.RawMetadata, 100),
		errs:   make(chan error, 1),
		order:  make(chan string, 300),
	}
}

func (r *recorder) handlers() capture.Handlers {
	return capture.Handlers{
		Color: func(f capture.RawColorFrame) {
			r.order <- "color"
			r.colors <- f
		},
		Depth: func(f capture.RawDepthFrame) {
			r.order <- "depth"
			r.depths <- f
		},
		Metadata: func(m capture.RawMetadata) {
			r.order <- "metadata"
			r.metas <- m
		},
		Error: func(err error) { r.errs <- err },
	}
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

// tick advances the mock clock one frame and waits for that tick's color frame.
func tick(t *testing.T, mock *clock.Mock, r *recorder) capture.RawColorFrame {
	t.Helper()
	mock.Add(interval)
	return receive(t, r.colors)
}

func TestSourceDelivers(t *testing.T) {
	mock := clock.NewMock()
	src := fake.NewSource(fake.Config{Clock: mock}, logging.NewTestLogger(t))
	defer src.Close(context.Background())
	r := newRecorder()

	props := src.Properties()
	test.That(t, props.SupportsDepth, test.ShouldBeTrue)
	test.That(t, props.SupportsMetadata, test.ShouldBeTrue)
	test.That(t, props.FrameRate, test.ShouldEqual, float32(30))

	test.That(t, src.Start(context.Background(), r.handlers()), test.ShouldBeNil)
	for i := 1; i <= 3; i++ {
		c := tick(t, mock, r)
		d := receive(t, r.depths)
		m := receive(t, r.metas)
		test.That(t, c.Seq, test.ShouldEqual, uint64(i))
		test.That(t, c.Timestamp, test.ShouldEqual, time.Duration(i)*interval)
		test.That(t, c.Duration, test.ShouldEqual, interval)
		test.That(t, c.Dropped(), test.ShouldBeFalse)
		test.That(t, c.Image.Bounds().Size(), test.ShouldResemble, props.ColorSize)
		test.That(t, d.Timestamp, test.ShouldEqual, c.Timestamp)
		test.That(t, d.Depth.Bounds().Size(), test.ShouldResemble, props.DepthSize)
		test.That(t, m.Timestamp, test.ShouldEqual, c.Timestamp)
		test.That(t, m.Detections, test.ShouldHaveLength, 1)
		test.That(t, <-r.order, test.ShouldEqual, "color")
		test.That(t, <-r.order, test.ShouldEqual, "depth")
		test.That(t, <-r.order, test.ShouldEqual, "metadata")
	}
	test.That(t, src.Stop(context.Background()), test.ShouldBeNil)
	test.That(t, src.Delivered(), test.ShouldEqual, uint64(3))

	// nothing is delivered once stopped
	mock.Add(10 * interval)
	test.That(t, r.colors, test.ShouldHaveLength, 0)
	test.That(t, src.Stop(context.Background()), test.ShouldBeNil)
}

func TestSourceDropPatterns(t *testing.T) {
	mock := clock.NewMock()
	src := fake.NewSource(fake.Config{
		Clock:          mock,
		DropColorEvery: 3,
		DropDepthEvery: 2,
		SkipDepthEvery: 5,
		NoMetadata:     true,
		DepthFirst:     true,
	}, logging.NewTestLogger(t))
	defer src.Close(context.Background())
	r := newRecorder()
	test.That(t, src.Start(context.Background(), r.handlers()), test.ShouldBeNil)

	var depths []capture.RawDepthFrame
	for i := 1; i <= 6; i++ {
		c := tick(t, mock, r)
		test.That(t, c.Dropped(), test.ShouldEqual, i%3 == 0)
		if i != 5 {
			depths = append(depths, receive(t, r.depths))
		}
	}
	test.That(t, src.Stop(context.Background()), test.ShouldBeNil)

	test.That(t, r.metas, test.ShouldHaveLength, 0)
	test.That(t, r.depths, test.ShouldHaveLength, 0)
	test.That(t, depths, test.ShouldHaveLength, 5)
	for _, d := range depths {
		test.That(t, d.Dropped(), test.ShouldEqual, d.Seq%2 == 0)
		test.That(t, d.Depth == nil, test.ShouldEqual, d.Dropped())
	}
	test.That(t, <-r.order, test.ShouldEqual, "depth")
	test.That(t, <-r.order, test.ShouldEqual, "color")
}

func TestSourceDepthFilter(t *testing.T) {
	mock := clock.NewMock()
	src := fake.NewSource(fake.Config{Clock: mock, NoMetadata: true}, logging.NewTestLogger(t))
	defer src.Close(context.Background())
	r := newRecorder()
	test.That(t, src.Start(context.Background(), r.handlers()), test.ShouldBeNil)

	tick(t, mock, r)
	holes := receive(t, r.depths)
	test.That(t, holes.Filtered, test.ShouldBeFalse)
	test.That(t, holes.Depth.GetDepth(7, 0), test.ShouldEqual, rimage.Depth(0))

	src.SetDepthFilterEnabled(true)
	tick(t, mock, r)
	filled := receive(t, r.depths)
	test.That(t, filled.Filtered, test.ShouldBeTrue)
	test.That(t, filled.Depth.GetDepth(7, 0), test.ShouldNotEqual, rimage.Depth(0))
}

// targetCenterX is the horizontal center of the pixels on row y that match, as a fraction of the
// width.
func targetCenterX(bounds image.Rectangle, y int, match func(x, y int) bool) float64 {
	minX, maxX := -1, -1
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		if match(x, y) {
			if minX < 0 {
				minX = x
			}
			maxX = x
		}
	}
	return float64(minX+maxX+1) / 2 / float64(bounds.Dx())
}

func TestSourceMirroring(t *testing.T) {
	for _, mirrored := range []bool{false, true} {
		mock := clock.NewMock()
		src := fake.NewSource(fake.Config{Clock: mock, NoMetadata: true}, logging.NewTestLogger(t))
		r := newRecorder()
		test.That(t, src.Reconfigure(context.Background(), capture.CameraConfiguration{Mirrored: mirrored}), test.ShouldBeNil)
		src.SetDepthFilterEnabled(true)
		test.That(t, src.Start(context.Background(), r.handlers()), test.ShouldBeNil)

		// at tick 30 the target is at the right end of its sweep
		var (
			c capture.RawColorFrame
			d capture.RawDepthFrame
		)
		for i := 0; i < 30; i++ {
			c = tick(t, mock, r)
			d = receive(t, r.depths)
		}
		test.That(t, src.Close(context.Background()), test.ShouldBeNil)
		test.That(t, c.Seq, test.ShouldEqual, uint64(30))

		fg := color.RGBA{R: 230, G: 120, B: 30, A: 255}
		colorX := targetCenterX(c.Image.Bounds(), c.Image.Bounds().Dy()/2, func(x, y int) bool {
			return color.RGBAModel.Convert(c.Image.At(x, y)) == fg
		})
		depthX := targetCenterX(d.Depth.Bounds(), d.Depth.Bounds().Dy()/2, func(x, y int) bool {
			return d.Depth.GetDepth(x, y) == 800
		})
		test.That(t, depthX, test.ShouldAlmostEqual, colorX, 0.02)
		if mirrored {
			test.That(t, colorX, test.ShouldBeLessThan, 0.5)
		} else {
			test.That(t, colorX, test.ShouldBeGreaterThan, 0.5)
		}
	}
}

func TestSourceLifecycle(t *testing.T) {
	ctx := context.Background()
	src := fake.NewSource(fake.Config{Clock: clock.NewMock()}, logging.NewTestLogger(t))
	r := newRecorder()

	cfg := capture.CameraConfiguration{Facing: capture.FacingFront, Mirrored: true}
	test.That(t, src.Reconfigure(ctx, cfg), test.ShouldBeNil)
	test.That(t, src.Configuration(), test.ShouldResemble, cfg)

	test.That(t, src.Start(ctx, r.handlers()), test.ShouldBeNil)
	err := src.Start(ctx, r.handlers())
	test.That(t, errors.Is(err, capture.ErrInvalidState), test.ShouldBeTrue)
	test.That(t, capture.IsDeviceError(err), test.ShouldBeTrue)

	err = src.Reconfigure(ctx, capture.CameraConfiguration{})
	test.That(t, errors.Is(err, capture.ErrInvalidState), test.ShouldBeTrue)
	test.That(t, src.Configuration(), test.ShouldResemble, cfg)

	test.That(t, src.Stop(ctx), test.ShouldBeNil)
	test.That(t, src.Reconfigure(ctx, capture.CameraConfiguration{}), test.ShouldBeNil)

	test.That(t, src.Close(ctx), test.ShouldBeNil)
	err = src.Start(ctx, r.handlers())
	test.That(t, errors.Is(err, capture.ErrDeviceClosed), test.ShouldBeTrue)
}

func TestSourceFailure(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	src := fake.NewSource(fake.Config{Clock: mock}, logging.NewTestLogger(t))
	defer src.Close(ctx)
	r := newRecorder()

	test.That(t, src.Start(ctx, r.handlers()), test.ShouldBeNil)
	unplugged := errors.New("unplugged")
	src.Fail(unplugged)

	err := receive(t, r.errs)
	test.That(t, errors.Is(err, unplugged), test.ShouldBeTrue)
	test.That(t, capture.IsDeviceError(err), test.ShouldBeTrue)

	test.That(t, src.Stop(ctx), test.ShouldBeNil)
	test.That(t, src.Start(ctx, r.handlers()), test.ShouldBeNil)
}
