package utils_test

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/depthcapture/utils"
)

func TestResolveFile(t *testing.T) {
	home, err := os.UserHomeDir()
	test.That(t, err, test.ShouldBeNil)

	resolved, err := utils.ResolveFile("~/out/depth.mp4")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resolved, test.ShouldEqual, filepath.Join(home, "out", "depth.mp4"))

	resolved, err = utils.ResolveFile("depth.mp4")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filepath.IsAbs(resolved), test.ShouldBeTrue)
	test.That(t, filepath.Base(resolved), test.ShouldEqual, "depth.mp4")
}

func TestRemoveFileIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "depth.mp4")

	test.That(t, utils.RemoveFileIfExists(path), test.ShouldBeNil)
	test.That(t, utils.EnsureParentDir(path), test.ShouldBeNil)
	test.That(t, os.WriteFile(path, []byte("x"), 0o600), test.ShouldBeNil)
	test.That(t, utils.RemoveFileIfExists(path), test.ShouldBeNil)
	_, err := os.Stat(path)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	test.That(t, utils.RemoveFileIfExists(dir), test.ShouldNotBeNil)
}
