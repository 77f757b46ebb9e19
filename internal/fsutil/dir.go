// Package fsutil holds filesystem checks shared by the executor and the
// project registry.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrDirectoryNotFound means the path does not exist.
	ErrDirectoryNotFound = errors.New("directory does not exist")
	// ErrNotADirectory means the path exists but is not a directory.
	ErrNotADirectory = errors.New("path is not a directory")
	// ErrDirectoryNotReadable means the directory cannot be opened for reading.
	ErrDirectoryNotReadable = errors.New("directory is not readable")
)

// ResolveDirectory returns the absolute form of path after checking that it
// exists, is a directory and can be read.
func ResolveDirectory(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abs, fmt.Errorf("%s: %w", abs, ErrDirectoryNotFound)
		}
		return abs, fmt.Errorf("%s: %w", abs, ErrDirectoryNotReadable)
	}
	if !info.IsDir() {
		return abs, fmt.Errorf("%s: %w", abs, ErrNotADirectory)
	}

	f, err := os.Open(abs)
	if err != nil {
		return abs, fmt.Errorf("%s: %w", abs, ErrDirectoryNotReadable)
	}
	_ = f.Close()

	return abs, nil
}
