package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckReadable returns nil when path names a regular file that can be
// opened for reading right now.
func CheckReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// Readable is CheckReadable as a predicate.
func Readable(path string) bool {
	return CheckReadable(path) == nil
}

// AbsPath cleans path and makes it absolute; on failure the cleaned path is
// returned unchanged.
func AbsPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
