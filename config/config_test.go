package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"go.viam.com/depthcapture/capture"
	"go.viam.com/depthcapture/config"
	"go.viam.com/depthcapture/logging"
	"go.viam.com/depthcapture/recording"
)

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()
	deps, err := cfg.Validate("config")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldBeEmpty)

	test.That(t, cfg.Source.Type, test.ShouldEqual, config.SourceTypeFake)
	test.That(t, cfg.Recording.Settings(), test.ShouldResemble, recording.DefaultSettings())
	test.That(t, cfg.Recording.FinalizeTimeout(), test.ShouldEqual, config.DefaultFinalizeTimeout)
	test.That(t, cfg.Recording.WaitForFinalize, test.ShouldBeFalse)

	syncCfg := cfg.Synchronizer.SynchronizerConfig()
	test.That(t, syncCfg.AwaitDepth, test.ShouldBeTrue)
	test.That(t, syncCfg.AwaitMetadata, test.ShouldBeFalse)
	test.That(t, syncCfg.Tolerance, test.ShouldEqual, time.Duration(0))
}

func TestFromReader(t *testing.T) {
	const raw = `{
		"source": {"type": "fake", "fake": {"frame_rate": 15, "drop_color_every": 4}},
		"camera": {"facing": "front", "mirrored": true, "orientation": "landscape_left"},
		"synchronizer": {"tolerance_ms": 2.5, "await_depth": false, "max_pending": 3},
		"recording": {"output_path": "/tmp/out.mp4", "bitrate_kbps": 2000, "max_depth_mm": 4000,
			"wait_for_finalize": true, "finalize_timeout_ms": 250},
		"display": {"use_disparity": true}
	}`
	logger := logging.NewTestLogger(t)
	cfg, err := config.FromReader("cfg.json", strings.NewReader(raw), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, "cfg.json")

	cam, err := cfg.Camera.CameraConfiguration()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam, test.ShouldResemble, capture.CameraConfiguration{
		Facing:      capture.FacingFront,
		Mirrored:    true,
		Orientation: capture.OrientationLandscapeLeft,
	})

	syncCfg := cfg.Synchronizer.SynchronizerConfig()
	test.That(t, syncCfg.Tolerance, test.ShouldEqual, 2500*time.Microsecond)
	test.That(t, syncCfg.AwaitDepth, test.ShouldBeFalse)
	test.That(t, syncCfg.MaxPending, test.ShouldEqual, 3)

	settings := cfg.Recording.Settings()
	test.That(t, settings.BitrateKbps, test.ShouldEqual, 2000)
	test.That(t, settings.Width, test.ShouldEqual, recording.DefaultWidth)
	test.That(t, int(settings.MaxDepth), test.ShouldEqual, 4000)
	test.That(t, cfg.Recording.WaitForFinalize, test.ShouldBeTrue)
	test.That(t, cfg.Recording.FinalizeTimeout(), test.ShouldEqual, 250*time.Millisecond)

	fakeCfg := cfg.Source.Fake.FakeConfig()
	test.That(t, fakeCfg.FrameRate, test.ShouldEqual, 15.0)
	test.That(t, fakeCfg.DropColorEvery, test.ShouldEqual, 4)
	test.That(t, cfg.Display.Toggles().UseDisparity, test.ShouldBeTrue)

	_, err = config.FromReader("", strings.NewReader(`{"sauce": {}}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*config.Config){
		"unknown source":     func(c *config.Config) { c.Source.Type = "kinect" },
		"webcam missing":     func(c *config.Config) { c.Source = config.SourceConfig{Type: config.SourceTypeWebcam} },
		"negative fake":      func(c *config.Config) { c.Source.Fake.DropColorEvery = -1 },
		"bad facing":         func(c *config.Config) { c.Camera.Facing = "sideways" },
		"negative tolerance": func(c *config.Config) { c.Synchronizer.ToleranceMs = -1 },
		"no output":          func(c *config.Config) { c.Recording.OutputPath = "" },
		"odd width":          func(c *config.Config) { c.Recording.Width = 721 },
		"negative bitrate":   func(c *config.Config) { c.Recording.BitrateKbps = -5 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Defaults()
			mutate(cfg)
			_, err := cfg.Validate("config")
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestFromAttributes(t *testing.T) {
	cfg, err := config.FromAttributes(map[string]interface{}{
		"source":       map[string]interface{}{"type": "fake"},
		"synchronizer": map[string]interface{}{"tolerance_ms": "5", "await_metadata": true},
		"recording":    map[string]interface{}{"output_path": "a.mp4", "width_px": 360, "height_px": 640},
		"extra":        1,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Synchronizer.SynchronizerConfig().Tolerance, test.ShouldEqual, 5*time.Millisecond)
	test.That(t, cfg.Synchronizer.AwaitMetadata, test.ShouldBeTrue)
	test.That(t, cfg.Recording.Settings().Size().X, test.ShouldEqual, 360)

	fromJSON, err := config.FromReader("", strings.NewReader(
		`{"source": {"type": "fake"}, "synchronizer": {"tolerance_ms": 5, "await_metadata": true},
		  "recording": {"output_path": "a.mp4", "width_px": 360, "height_px": 640}}`),
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(fromJSON, cfg), test.ShouldBeEmpty)
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEPTHCAPTURE_OUT", filepath.Join(dir, "rec.mp4"))
	path := filepath.Join(dir, "config.json")
	test.That(t, os.WriteFile(path, []byte(`{"recording": {"output_path": "${DEPTHCAPTURE_OUT}"}}`), 0o600),
		test.ShouldBeNil)

	cfg, err := config.Read(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Recording.OutputPath, test.ShouldEqual, filepath.Join(dir, "rec.mp4"))
	test.That(t, cfg.Source.Type, test.ShouldEqual, config.SourceTypeFake)

	_, err = config.Read(filepath.Join(dir, "missing.json"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	test.That(t, os.WriteFile(path, []byte(`{
	// recorded next to the config
	recording: {
		output_path: "rec.mp4",
		bitrate_kbps: 2000,
	},
	display: {use_disparity: true},
}`), 0o600), test.ShouldBeNil)

	cfg, err := config.Read(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Recording.OutputPath, test.ShouldEqual, "rec.mp4")
	test.That(t, cfg.Recording.BitrateKbps, test.ShouldEqual, 2000)
	test.That(t, cfg.Display.UseDisparity, test.ShouldBeTrue)

	// unknown fields are still rejected
	test.That(t, os.WriteFile(path, []byte(`{recording: {output_path: "rec.mp4"}, colour: "blue"}`), 0o600),
		test.ShouldBeNil)
	_, err = config.Read(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "colour")

	test.That(t, os.WriteFile(path, []byte(`{recording: `), 0o600), test.ShouldBeNil)
	_, err = config.Read(path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSchema(t *testing.T) {
	out, err := config.SchemaJSON()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldContainSubstring, "output_path")
	test.That(t, string(out), test.ShouldContainSubstring, "tolerance_ms")
}
