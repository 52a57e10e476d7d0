package checkpoint

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"companion-keeper/internal/pipeline"
)

// ScannedFile is one entry in a scan manifest's ScannedFiles map.
type ScannedFile struct {
	FileSize     int64     `json:"fileSize"`
	FileMtimeMs  int64     `json:"fileMtimeMs"`
	ScannedAtUtc time.Time `json:"scannedAtUtc"`
}

// ScanManifestDoc is the persisted scan-manifest shape: it records
// memory-stage completion per conversation file within a given run.
type ScanManifestDoc struct {
	InputDir     string                 `json:"inputDir"`
	CreatedAtUtc time.Time              `json:"createdAtUtc"`
	UpdatedAtUtc time.Time              `json:"updatedAtUtc"`
	ScannedFiles map[string]ScannedFile `json:"scannedFiles"`
}

// ScanManifestStore is the mutex-serialized writer over one scan manifest
// file, the same single-owner discipline as Store.
type ScanManifestStore struct {
	path string
	mu   sync.Mutex
	doc  *ScanManifestDoc
}

// LoadScanManifest reads path, or starts an empty manifest if absent or
// corrupt.
func LoadScanManifest(path, inputDir string) (*ScanManifestStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newScanManifestStore(path, inputDir), nil
		}
		return nil, err
	}
	var doc ScanManifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return newScanManifestStore(path, inputDir), nil
	}
	if doc.ScannedFiles == nil {
		doc.ScannedFiles = map[string]ScannedFile{}
	}
	return &ScanManifestStore{path: path, doc: &doc}, nil
}

func newScanManifestStore(path, inputDir string) *ScanManifestStore {
	now := time.Now().UTC()
	return &ScanManifestStore{
		path: path,
		doc: &ScanManifestDoc{
			InputDir:     inputDir,
			CreatedAtUtc: now,
			UpdatedAtUtc: now,
			ScannedFiles: map[string]ScannedFile{},
		},
	}
}

func (s *ScanManifestStore) flushLocked() error {
	s.doc.UpdatedAtUtc = time.Now().UTC()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if _, err := pipeline.WriteFileAtomic(s.path, data, 0o644); err != nil {
		if _, err2 := pipeline.WriteFileAtomic(s.path, data, 0o644); err2 != nil {
			return err2
		}
	}
	return nil
}

// IsScanned reports whether fileName was already recorded as
// memory-stage-complete.
func (s *ScanManifestStore) IsScanned(fileName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.doc.ScannedFiles[fileName]
	return ok
}

// MarkScanned records fileName's completion and flushes.
func (s *ScanManifestStore) MarkScanned(fileName string, fileSize, fileMtimeMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ScannedFiles[fileName] = ScannedFile{
		FileSize:     fileSize,
		FileMtimeMs:  fileMtimeMs,
		ScannedAtUtc: time.Now().UTC(),
	}
	return s.flushLocked()
}

// Clear empties ScannedFiles and flushes. Used by force-rerun, which must
// not inherit any prior run's skip set.
func (s *ScanManifestStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ScannedFiles = map[string]ScannedFile{}
	return s.flushLocked()
}

func (s *ScanManifestStore) Path() string { return s.path }
