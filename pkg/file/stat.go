package file

import (
	"errors"
	"io/fs"
	"os"
)

// IsRegular reports whether path exists and is a regular file.
func IsRegular(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}
