package webcam

import (
	"testing"
	"time"

	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"go.viam.com/test"

	"go.viam.com/depthcapture/rimage"
)

func TestSelectMedia(t *testing.T) {
	props := []prop.Media{
		{Video: prop.Video{Width: 1280, Height: 720, FrameFormat: frame.FormatMJPEG, FrameRate: 30}},
		{Video: prop.Video{Width: 640, Height: 480, FrameFormat: frame.FormatYUY2, FrameRate: 30}},
		{Video: prop.Video{Width: 640, Height: 480, FrameFormat: frame.FormatZ16, FrameRate: 30}},
	}

	m, ok := selectMedia(props, false, Config{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, m.FrameFormat, test.ShouldEqual, frame.FormatMJPEG)

	m, ok = selectMedia(props, false, Config{Width: 640})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, m.FrameFormat, test.ShouldEqual, frame.FormatYUY2)

	m, ok = selectMedia(props, true, Config{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, m.FrameFormat, test.ShouldEqual, frame.FormatZ16)

	_, ok = selectMedia(props, true, Config{Height: 720})
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = selectMedia(props, false, Config{FrameRate: 60})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSlotClock(t *testing.T) {
	start := time.Unix(100, 0)
	interval := 40 * time.Millisecond
	clk := newSlotClock(start, interval)
	color, depth := clk.stream(), clk.stream()

	ts, seq := color.stamp(start.Add(41 * time.Millisecond))
	test.That(t, ts, test.ShouldEqual, interval)
	test.That(t, seq, test.ShouldEqual, uint64(1))

	// depth read a little later in the same slot shares the timestamp
	ts, _ = depth.stamp(start.Add(55 * time.Millisecond))
	test.That(t, ts, test.ShouldEqual, interval)

	// a second color frame in the same slot moves to the next one
	ts, seq = color.stamp(start.Add(45 * time.Millisecond))
	test.That(t, ts, test.ShouldEqual, 2*interval)
	test.That(t, seq, test.ShouldEqual, uint64(2))
}

func TestFlipDepthH(t *testing.T) {
	dm := rimage.NewEmptyDepthMap(3, 1)
	dm.Set(0, 0, 1)
	dm.Set(2, 0, 3)
	flipped := flipDepthH(dm)
	test.That(t, flipped.GetDepth(0, 0), test.ShouldEqual, rimage.Depth(3))
	test.That(t, flipped.GetDepth(2, 0), test.ShouldEqual, rimage.Depth(1))
}

func TestConfigValidate(t *testing.T) {
	conf := &Config{Width: -1}
	_, err := conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)

	conf = &Config{FrameRate: -1}
	_, err = conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)

	conf = &Config{Width: 640, Height: 480}
	deps, err := conf.Validate("path")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldBeEmpty)
}
