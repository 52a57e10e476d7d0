package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to finalPath by writing to a temp file in the
// same directory, syncing, and renaming over the destination. Readers never
// observe a partially written file.
func WriteFileAtomic(finalPath string, data []byte, mode fs.FileMode) (int64, error) {
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return 0, err
	}

	n, err := tmp.Write(data)
	if err != nil {
		_ = tmp.Close()
		return int64(n), err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return int64(n), err
	}
	if err := tmp.Close(); err != nil {
		return int64(n), err
	}

	if err := os.Rename(tmpName, finalPath); err != nil {
		return int64(n), err
	}
	return int64(n), nil
}
