package capture

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Facing is which way the camera points.
type Facing int

const (
	// FacingBack is the world-facing camera.
	FacingBack Facing = iota
	// FacingFront is the user-facing camera.
	FacingFront
)

func (f Facing) String() string {
	if f == FacingFront {
		return "front"
	}
	return "back"
}

// ParseFacing parses "front" or "back". The empty string means back.
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(s) {
	case "", "back":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	}
	return FacingBack, errors.Errorf("unknown camera facing %q", s)
}

// MarshalJSON encodes the facing as its string form.
func (f Facing) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes "front" or "back".
func (f *Facing) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFacing(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Orientation is the rotation applied to delivered frames.
type Orientation int

const (
	// OrientationPortrait delivers frames upright in portrait.
	OrientationPortrait Orientation = iota
	// OrientationPortraitUpsideDown rotates 180 degrees from portrait.
	OrientationPortraitUpsideDown
	// OrientationLandscapeLeft rotates 90 degrees counter-clockwise from portrait.
	OrientationLandscapeLeft
	// OrientationLandscapeRight rotates 90 degrees clockwise from portrait.
	OrientationLandscapeRight
)

var orientationNames = map[Orientation]string{
	OrientationPortrait:           "portrait",
	OrientationPortraitUpsideDown: "portrait_upside_down",
	OrientationLandscapeLeft:      "landscape_left",
	OrientationLandscapeRight:     "landscape_right",
}

func (o Orientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return "unknown"
}

// ParseOrientation parses an orientation name. The empty string means portrait.
func ParseOrientation(s string) (Orientation, error) {
	if s == "" {
		return OrientationPortrait, nil
	}
	for o, name := range orientationNames {
		if strings.EqualFold(name, s) {
			return o, nil
		}
	}
	return OrientationPortrait, errors.Errorf("unknown orientation %q", s)
}

// MarshalJSON encodes the orientation as its string form.
func (o Orientation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an orientation name.
func (o *Orientation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOrientation(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// CameraConfiguration selects and orients the active camera. It is only changed inside a
// reconfiguration (stop, reconfigure, maybe restart); it is never read while being written.
type CameraConfiguration struct {
	Facing      Facing      `json:"facing"`
	Mirrored    bool        `json:"mirrored"`
	Orientation Orientation `json:"orientation"`
}
