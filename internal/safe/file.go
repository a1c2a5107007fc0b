// Package safe holds bounded file reads and saturating integer conversions.
package safe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MaxConfigSize bounds user-supplied configuration files (1MB).
const MaxConfigSize = 1 << 20

// ReadFile reads a regular file of at most maxSize bytes. Symlinks are
// followed; devices, pipes and directories are rejected.
func ReadFile(path string, maxSize int64) ([]byte, error) {
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path %q is not a regular file", path)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("file %q exceeds the maximum size of %d bytes", path, maxSize)
	}

	//nolint:gosec // G304: Path is provided by the user.
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	// The file may grow between Stat and Read.
	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("file %q exceeds the maximum size of %d bytes", path, maxSize)
	}
	return data, nil
}
