package utils

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ResolveFile returns the absolute path of fn, expanding a leading "~" to the user's home directory.
func ResolveFile(fn string) (string, error) {
	if len(fn) > 0 && fn[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		fn = filepath.Join(home, fn[1:])
	}
	return filepath.Abs(fn)
}

// RemoveFileIfExists removes the file at path. A missing file is not an error; any other failure
// (permissions, path is a directory, ...) is.
func RemoveFileIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "cannot remove existing file %q", path)
	}
	return nil
}

// EnsureParentDir creates the directory that will contain path.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o750)
}
