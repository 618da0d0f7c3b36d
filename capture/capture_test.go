package capture_test

import (
	"encoding/json"
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/depthcapture/capture"
)

func TestMapNormalizedRect(t *testing.T) {
	frame := image.Rect(0, 0, 640, 480)
	r := capture.NormalizedRect{X: 0.25, Y: 0.5, Width: 0.25, Height: 0.25}

	test.That(t, capture.MapNormalizedRect(r, frame, false), test.ShouldResemble, image.Rect(160, 240, 320, 360))
	test.That(t, capture.MapNormalizedRect(r, frame, true), test.ShouldResemble, image.Rect(320, 240, 480, 360))

	// Rectangles poking out of the sensor are clipped.
	out := capture.NormalizedRect{X: 0.9, Y: 0.9, Width: 0.5, Height: 0.5}
	test.That(t, capture.MapNormalizedRect(out, frame, false), test.ShouldResemble, image.Rect(576, 432, 640, 480))
}

func TestDetectionMapper(t *testing.T) {
	mapper := capture.NewDetectionMapper(capture.CameraConfiguration{Mirrored: true})
	color := capture.RawColorFrame{Image: image.NewRGBA(image.Rect(0, 0, 100, 100))}
	det := mapper(capture.RawDetection{
		Label:      "face",
		Confidence: 0.75,
		Bounds:     capture.NormalizedRect{X: 0, Y: 0, Width: 0.1, Height: 0.1},
	}, color)
	test.That(t, det.Label, test.ShouldEqual, "face")
	test.That(t, det.Confidence, test.ShouldEqual, 0.75)
	test.That(t, det.Bounds, test.ShouldResemble, image.Rect(90, 0, 100, 10))
}

func TestDeviceError(t *testing.T) {
	err := errors.Wrap(capture.NewDeviceError("reconfigure", capture.ErrInvalidState), "changing camera")
	test.That(t, capture.IsDeviceError(err), test.ShouldBeTrue)
	test.That(t, errors.Is(err, capture.ErrInvalidState), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldEqual, "changing camera: camera reconfigure: invalid state")
	test.That(t, capture.IsDeviceError(errors.New("nope")), test.ShouldBeFalse)
}

func TestCameraConfigurationJSON(t *testing.T) {
	cfg := capture.CameraConfiguration{
		Facing:      capture.FacingFront,
		Mirrored:    true,
		Orientation: capture.OrientationLandscapeRight,
	}
	raw, err := json.Marshal(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(raw), test.ShouldEqual, `{"facing":"front","mirrored":true,"orientation":"landscape_right"}`)

	var decoded capture.CameraConfiguration
	test.That(t, json.Unmarshal(raw, &decoded), test.ShouldBeNil)
	test.That(t, decoded, test.ShouldResemble, cfg)

	test.That(t, json.Unmarshal([]byte(`{"facing":"sideways"}`), &decoded), test.ShouldNotBeNil)
}

func TestDropReason(t *testing.T) {
	test.That(t, capture.RawColorFrame{}.Dropped(), test.ShouldBeFalse)
	test.That(t, capture.RawDepthFrame{DropReason: capture.DroppedLateData}.Dropped(), test.ShouldBeTrue)
	test.That(t, capture.DroppedOutOfBuffers.String(), test.ShouldEqual, "out_of_buffers")
}
