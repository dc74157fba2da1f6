package naming

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// ExistsFunc reports whether a path is already taken.
type ExistsFunc func(path string) (bool, error)

// OSExists checks the real filesystem with os.Stat.
func OSExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Candidate returns the n-th candidate name. n == 0 is the bare base name.
func Candidate(base, ext string, n int) string {
	if n == 0 {
		return base + "." + ext
	}
	return base + strconv.Itoa(n) + "." + ext
}

// Allocate returns the first path in dir of the form base[n].ext that does
// not exist yet.
func Allocate(exists ExistsFunc, dir, base, ext string) (string, error) {
	if exists == nil {
		exists = OSExists
	}
	if base == "" {
		return "", fmt.Errorf("empty base name")
	}

	for n := 0; ; n++ {
		candidate := filepath.Join(dir, Candidate(base, ext, n))
		taken, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
}
