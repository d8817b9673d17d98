// internal/state/state.go
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// File persists the watermark: the timestamp (unix seconds, fractional) of
// the latest fully-processed query, stored as a single textual float.
type File struct {
	Path string
}

// Load reads the watermark. A missing or corrupt file means a fresh start
// and returns 0; only a real I/O error is reported.
func (f *File) Load() (float64, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	ts, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		// Corrupt file - start from the beginning
		return 0, nil
	}

	return ts, nil
}

// Save writes the watermark. Creates parent directories if needed.
func (f *File) Save(ts float64) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(f.Path, []byte(strconv.FormatFloat(ts, 'f', -1, 64)), 0644)
}

// ErrLocked means another cycle invocation holds the lock.
var ErrLocked = errors.New("another cycle is already running")

// AcquireLock takes an advisory lock so overlapping scheduler invocations
// don't race the watermark's read-modify-write. Returns a release func.
func AcquireLock(path string) (func(), error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		return nil, fmt.Errorf("%w: lock file %s exists", ErrLocked, path)
	}
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(fd, "%d\n", os.Getpid())
	fd.Close()

	return func() { os.Remove(path) }, nil
}
