// Package config defines the configuration of a depth capture session and how it is read,
// validated and watched for changes.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/capture/fake"
	"go.viam.com/depthcapture/capture/webcam"
	"go.viam.com/depthcapture/display"
	"go.viam.com/depthcapture/recording"
	"go.viam.com/depthcapture/rimage"
	"go.viam.com/depthcapture/synchronizer"
	"go.viam.com/depthcapture/utils"
)

// Source types.
const (
	SourceTypeFake   = "fake"
	SourceTypeWebcam = "webcam"
)

// DefaultFinalizeTimeout bounds how long StopCapture waits for a recording to finalize when
// waiting is enabled.
const DefaultFinalizeTimeout = 5 * time.Second

// Config is the whole configuration.
type Config struct {
	ConfigFilePath string `json:"-"`

	Source       SourceConfig       `json:"source"`
	Camera       CameraConfig       `json:"camera"`
	Synchronizer SynchronizerConfig `json:"synchronizer"`
	Recording    RecordingConfig    `json:"recording"`
	Display      DisplayConfig      `json:"display"`
	Debug        bool               `json:"debug,omitempty"`
}

// SourceConfig selects the frame source.
type SourceConfig struct {
	Type   string            `json:"type"`
	Fake   *FakeSourceConfig `json:"fake,omitempty"`
	Webcam *webcam.Config    `json:"webcam,omitempty"`
}

// FakeSourceConfig configures the synthetic source.
type FakeSourceConfig struct {
	ColorWidth     int     `json:"color_width_px,omitempty"`
	ColorHeight    int     `json:"color_height_px,omitempty"`
	DepthWidth     int     `json:"depth_width_px,omitempty"`
	DepthHeight    int     `json:"depth_height_px,omitempty"`
	FrameRate      float64 `json:"frame_rate,omitempty"`
	NoDepth        bool    `json:"no_depth,omitempty"`
	NoMetadata     bool    `json:"no_metadata,omitempty"`
	DropColorEvery int     `json:"drop_color_every,omitempty"`
	DropDepthEvery int     `json:"drop_depth_every,omitempty"`
	SkipDepthEvery int     `json:"skip_depth_every,omitempty"`
	MetadataEvery  int     `json:"metadata_every,omitempty"`
	DepthFirst     bool    `json:"depth_first,omitempty"`
}

// CameraConfig is the camera configuration in its file form.
type CameraConfig struct {
	Facing      string `json:"facing,omitempty"`
	Mirrored    bool   `json:"mirrored,omitempty"`
	Orientation string `json:"orientation,omitempty"`
}

// SynchronizerConfig configures tick formation.
type SynchronizerConfig struct {
	ToleranceMs   float64 `json:"tolerance_ms,omitempty"`
	AwaitDepth    *bool   `json:"await_depth,omitempty"`
	AwaitMetadata bool    `json:"await_metadata,omitempty"`
	MaxPending    int     `json:"max_pending,omitempty"`
}

// RecordingConfig configures the recording writer.
type RecordingConfig struct {
	OutputPath  string  `json:"output_path"`
	Width       int     `json:"width_px,omitempty"`
	Height      int     `json:"height_px,omitempty"`
	BitrateKbps int     `json:"bitrate_kbps,omitempty"`
	FrameRate   float64 `json:"frame_rate,omitempty"`
	Codec       string  `json:"codec,omitempty"`
	MaxDepthMm  int     `json:"max_depth_mm,omitempty"`
	// WaitForFinalize makes StopCapture wait for an active recording to be finalized instead of
	// returning as soon as finalization is requested.
	WaitForFinalize   bool `json:"wait_for_finalize,omitempty"`
	FinalizeTimeoutMs int  `json:"finalize_timeout_ms,omitempty"`
}

// DisplayConfig holds the initial display toggles.
type DisplayConfig struct {
	FilterEnabled bool `json:"filter_enabled,omitempty"`
	UseDisparity  bool `json:"use_disparity,omitempty"`
	Equalize      bool `json:"equalize,omitempty"`
}

// Defaults returns a configuration for the fake source with every default filled in.
func Defaults() *Config {
	cfg := &Config{
		Source:    SourceConfig{Type: SourceTypeFake},
		Recording: RecordingConfig{OutputPath: "depth.mp4"},
	}
	cfg.FillDefaults()
	return cfg
}

// FillDefaults sets zero values to their defaults.
func (c *Config) FillDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = SourceTypeFake
	}
	if c.Source.Type == SourceTypeFake && c.Source.Fake == nil {
		c.Source.Fake = &FakeSourceConfig{}
	}
	if c.Source.Type == SourceTypeWebcam && c.Source.Webcam == nil {
		c.Source.Webcam = &webcam.Config{}
	}
	if c.Camera.Facing == "" {
		c.Camera.Facing = capture.FacingBack.String()
	}
	if c.Camera.Orientation == "" {
		c.Camera.Orientation = capture.OrientationPortrait.String()
	}
	if c.Synchronizer.AwaitDepth == nil {
		awaitDepth := true
		c.Synchronizer.AwaitDepth = &awaitDepth
	}
	if c.Synchronizer.MaxPending == 0 {
		c.Synchronizer.MaxPending = synchronizer.DefaultMaxPending
	}
	r := &c.Recording
	if r.Width == 0 {
		r.Width = recording.DefaultWidth
	}
	if r.Height == 0 {
		r.Height = recording.DefaultHeight
	}
	if r.BitrateKbps == 0 {
		r.BitrateKbps = recording.DefaultBitrateKbps
	}
	if r.FrameRate == 0 {
		r.FrameRate = recording.DefaultFrameRate
	}
	if r.Codec == "" {
		r.Codec = recording.DefaultCodec
	}
	if r.FinalizeTimeoutMs == 0 {
		r.FinalizeTimeoutMs = int(DefaultFinalizeTimeout / time.Millisecond)
	}
}

// Validate ensures all parts of the config are valid. It returns the paths of files the
// configuration depends on.
func (c *Config) Validate(path string) ([]string, error) {
	deps, err := c.Source.Validate(fmt.Sprintf("%s.%s", path, "source"))
	if err != nil {
		return nil, err
	}
	if err := c.Camera.Validate(fmt.Sprintf("%s.%s", path, "camera")); err != nil {
		return nil, err
	}
	if err := c.Synchronizer.Validate(fmt.Sprintf("%s.%s", path, "synchronizer")); err != nil {
		return nil, err
	}
	if err := c.Recording.Validate(fmt.Sprintf("%s.%s", path, "recording")); err != nil {
		return nil, err
	}
	return deps, nil
}

// Validate ensures the source config is valid.
func (c *SourceConfig) Validate(path string) ([]string, error) {
	switch c.Type {
	case SourceTypeFake:
		if c.Fake != nil {
			return nil, c.Fake.Validate(fmt.Sprintf("%s.%s", path, "fake"))
		}
		return nil, nil
	case SourceTypeWebcam:
		if c.Webcam == nil {
			return nil, utils.NewConfigValidationFieldRequiredError(path, "webcam")
		}
		return c.Webcam.Validate(fmt.Sprintf("%s.%s", path, "webcam"))
	case "":
		return nil, utils.NewConfigValidationFieldRequiredError(path, "type")
	default:
		return nil, utils.NewConfigValidationError(path, errors.Errorf("unknown source type %q", c.Type))
	}
}

// Validate ensures the fake source config is valid.
func (c *FakeSourceConfig) Validate(path string) error {
	for name, v := range map[string]int{
		"color_width_px":   c.ColorWidth,
		"color_height_px":  c.ColorHeight,
		"depth_width_px":   c.DepthWidth,
		"depth_height_px":  c.DepthHeight,
		"drop_color_every": c.DropColorEvery,
		"drop_depth_every": c.DropDepthEvery,
		"skip_depth_every": c.SkipDepthEvery,
		"metadata_every":   c.MetadataEvery,
	} {
		if v < 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("%s cannot be negative", name))
		}
	}
	if c.FrameRate < 0 {
		return utils.NewConfigValidationError(path, errors.New("frame_rate cannot be negative"))
	}
	return nil
}

// FakeConfig converts c for fake.NewSource.
func (c *FakeSourceConfig) FakeConfig() fake.Config {
	return fake.Config{
		ColorSize:      imagePoint(c.ColorWidth, c.ColorHeight),
		DepthSize:      imagePoint(c.DepthWidth, c.DepthHeight),
		FrameRate:      c.FrameRate,
		NoDepth:        c.NoDepth,
		NoMetadata:     c.NoMetadata,
		DropColorEvery: c.DropColorEvery,
		DropDepthEvery: c.DropDepthEvery,
		SkipDepthEvery: c.SkipDepthEvery,
		MetadataEvery:  c.MetadataEvery,
		DepthFirst:     c.DepthFirst,
	}
}

// Validate ensures the camera config is valid.
func (c *CameraConfig) Validate(path string) error {
	_, err := c.CameraConfiguration()
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// CameraConfiguration parses c. Empty fields take the defaults.
func (c *CameraConfig) CameraConfiguration() (capture.CameraConfiguration, error) {
	var out capture.CameraConfiguration
	if c.Facing != "" {
		facing, err := capture.ParseFacing(c.Facing)
		if err != nil {
			return out, err
		}
		out.Facing = facing
	}
	if c.Orientation != "" {
		orientation, err := capture.ParseOrientation(c.Orientation)
		if err != nil {
			return out, err
		}
		out.Orientation = orientation
	}
	out.Mirrored = c.Mirrored
	return out, nil
}

// Validate ensures the synchronizer config is valid.
func (c *SynchronizerConfig) Validate(path string) error {
	if c.ToleranceMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("tolerance_ms cannot be negative"))
	}
	if c.MaxPending < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_pending cannot be negative"))
	}
	return nil
}

// SynchronizerConfig converts c for synchronizer.New.
func (c *SynchronizerConfig) SynchronizerConfig() synchronizer.Config {
	cfg := synchronizer.DefaultConfig()
	cfg.Tolerance = time.Duration(c.ToleranceMs * float64(time.Millisecond))
	if c.AwaitDepth != nil {
		cfg.AwaitDepth = *c.AwaitDepth
	}
	cfg.AwaitMetadata = c.AwaitMetadata
	if c.MaxPending > 0 {
		cfg.MaxPending = c.MaxPending
	}
	return cfg
}

// Validate ensures the recording config is valid.
func (c *RecordingConfig) Validate(path string) error {
	if c.OutputPath == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "output_path")
	}
	if c.Width < 0 || c.Height < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("got illegal negative dimensions for width_px and height_px (%d, %d)", c.Width, c.Height))
	}
	// yuv420p needs even dimensions
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("width_px and height_px must be even, got (%d, %d)", c.Width, c.Height))
	}
	if c.BitrateKbps < 0 || c.FrameRate < 0 || c.MaxDepthMm < 0 || c.FinalizeTimeoutMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("numeric settings cannot be negative"))
	}
	if c.MaxDepthMm > int(rimage.MaxDepth) {
		return utils.NewConfigValidationError(path, errors.Errorf("max_depth_mm cannot exceed %d", rimage.MaxDepth))
	}
	return nil
}

// Settings converts c to encode settings. Zero fields take the defaults.
func (c *RecordingConfig) Settings() recording.Settings {
	s := recording.DefaultSettings()
	if c.Width > 0 {
		s.Width = c.Width
	}
	if c.Height > 0 {
		s.Height = c.Height
	}
	if c.BitrateKbps > 0 {
		s.BitrateKbps = c.BitrateKbps
	}
	if c.FrameRate > 0 {
		s.FrameRate = c.FrameRate
	}
	if c.Codec != "" {
		s.Codec = c.Codec
	}
	s.MaxDepth = rimage.Depth(c.MaxDepthMm)
	return s
}

// FinalizeTimeout returns the finalize wait bound.
func (c *RecordingConfig) FinalizeTimeout() time.Duration {
	if c.FinalizeTimeoutMs <= 0 {
		return DefaultFinalizeTimeout
	}
	return time.Duration(c.FinalizeTimeoutMs) * time.Millisecond
}

// Toggles converts c to display toggles.
func (c *DisplayConfig) Toggles() display.ToggleSnapshot {
	return display.ToggleSnapshot{
		FilterEnabled: c.FilterEnabled,
		UseDisparity:  c.UseDisparity,
		Equalize:      c.Equalize,
	}
}
