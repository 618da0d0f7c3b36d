package recording_test

import (
	"image"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/depthcapture/recording"
	"go.viam.com/depthcapture/rimage"
)

func uniformDepth(w, h int, z rimage.Depth) *rimage.DepthMap {
	dm := rimage.NewEmptyDepthMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dm.Set(x, y, z)
		}
	}
	return dm
}

func TestDepthToGrayLetterboxes(t *testing.T) {
	// 4x2 scaled into 720x1280 is 720x360, centered vertically.
	gray := recording.DepthToGray(uniformDepth(4, 2, 1000), image.Pt(720, 1280), 2000)
	test.That(t, gray.Bounds(), test.ShouldResemble, image.Rect(0, 0, 720, 1280))

	test.That(t, gray.GrayAt(0, 459).Y, test.ShouldEqual, uint8(0))
	test.That(t, gray.GrayAt(0, 460).Y, test.ShouldEqual, uint8(128))
	test.That(t, gray.GrayAt(719, 819).Y, test.ShouldEqual, uint8(128))
	test.That(t, gray.GrayAt(719, 820).Y, test.ShouldEqual, uint8(0))
}

func TestDepthToGrayClampsFarDepth(t *testing.T) {
	dm := rimage.NewEmptyDepthMap(2, 1)
	dm.Set(0, 0, 500)
	dm.Set(1, 0, 9000)
	gray := recording.DepthToGray(dm, image.Pt(2, 1), 1000)
	test.That(t, gray.GrayAt(0, 0).Y, test.ShouldEqual, uint8(128))
	test.That(t, gray.GrayAt(1, 0).Y, test.ShouldEqual, uint8(1))
}

func TestDepthToGrayNoReading(t *testing.T) {
	gray := recording.DepthToGray(rimage.NewEmptyDepthMap(8, 8), image.Pt(16, 16), 0)
	for _, p := range gray.Pix {
		test.That(t, p, test.ShouldEqual, uint8(0))
	}
}

func TestNewDepthSample(t *testing.T) {
	settings := recording.DefaultSettings()
	s := recording.NewDepthSample(uniformDepth(64, 48, 700), time.Second, 33*time.Millisecond, settings)
	test.That(t, s.PTS, test.ShouldEqual, time.Second)
	test.That(t, s.Duration, test.ShouldEqual, 33*time.Millisecond)
	test.That(t, s.Image.Bounds().Size(), test.ShouldResemble, image.Pt(720, 1280))
	// a uniform map has no range, so every reading renders brightest
	test.That(t, s.Image.GrayAt(360, 640).Y, test.ShouldEqual, uint8(255))
}
