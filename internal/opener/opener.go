// Package opener resolves a filesystem path to a byte stream: a raw
// conversations.json file, or the conversations.json entry inside a ZIP
// export archive.
package opener

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"companion-keeper/internal/pipeline"
)

// Kind identifies how the input was resolved.
type Kind int

const (
	KindJSON Kind = iota
	KindZip
)

// zipEntryCloser closes both the entry reader and the archive itself so a
// partial read never leaks file descriptors.
type zipEntryCloser struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (z *zipEntryCloser) Close() error {
	entryErr := z.ReadCloser.Close()
	archiveErr := z.archive.Close()
	if entryErr != nil {
		return entryErr
	}
	return archiveErr
}

// Open resolves path to a (kind, stream) pair. ZIP paths resolve to the
// decompressed conversations.json entry; anything else opens as a plain
// file.
func Open(path string) (Kind, io.ReadCloser, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, nil, fmt.Errorf("%w: %s", pipeline.ErrNotAFile, path)
	}

	if !isZip(path) {
		f, err := os.Open(path)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %s: %v", pipeline.ErrNotAFile, path, err)
		}
		return KindJSON, f, nil
	}

	archive, err := zip.OpenReader(path)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %v", pipeline.ErrArchiveCorrupt, path, err)
	}

	for _, f := range archive.File {
		if strings.EqualFold(filepath.Base(f.Name), "conversations.json") {
			rc, err := f.Open()
			if err != nil {
				archive.Close()
				return 0, nil, fmt.Errorf("%w: %s: %v", pipeline.ErrArchiveCorrupt, path, err)
			}
			return KindZip, &zipEntryCloser{ReadCloser: rc, archive: archive}, nil
		}
	}

	archive.Close()
	return 0, nil, fmt.Errorf("%w: %s", pipeline.ErrConversationsJSONMissing, path)
}

func isZip(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}
