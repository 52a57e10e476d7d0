package checkpoint

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"companion-keeper/internal/lorebook"
	"companion-keeper/internal/pipeline"
)

// Document is the persisted resume-checkpoint shape.
type Document struct {
	Version                           int                                   `json:"version"`
	Signature                         string                                `json:"signature"`
	CreatedAtUtc                      time.Time                             `json:"createdAtUtc"`
	UpdatedAtUtc                      time.Time                             `json:"updatedAtUtc"`
	PersonaObservationsByConversation map[string]json.RawMessage            `json:"personaObservationsByConversation"`
	MemoryCandidatesBySourceFile      map[string][]lorebook.MemoryCandidate `json:"memoryCandidatesBySourceFile"`
	ProcessedMemoryFiles              []string                              `json:"processedMemoryFiles"`
}

func emptyDocument(signature string) *Document {
	now := time.Now().UTC()
	return &Document{
		Version:                           1,
		Signature:                         signature,
		CreatedAtUtc:                      now,
		UpdatedAtUtc:                      now,
		PersonaObservationsByConversation: map[string]json.RawMessage{},
		MemoryCandidatesBySourceFile:      map[string][]lorebook.MemoryCandidate{},
	}
}

// Store is the single-owner, mutex-serialized writer over one checkpoint
// file. Every mutating method holds the lock for its full
// read-modify-flush cycle, so on-disk state never reflects an interleaved
// partial update.
type Store struct {
	path string
	mu   sync.Mutex
	doc  *Document
}

// Load reads path and validates its signature against want. A missing
// file, a signature mismatch, or a corrupt file (logged and treated as
// absent) all return a fresh empty checkpoint rather than an error; resume
// is always best-effort.
func Load(path, want string, forceRerun bool) (*Store, error) {
	if forceRerun {
		return &Store{path: path, doc: emptyDocument(want)}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{path: path, doc: emptyDocument(want)}, nil
		}
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("checkpoint corrupt, starting fresh")
		return &Store{path: path, doc: emptyDocument(want)}, nil
	}
	if doc.PersonaObservationsByConversation == nil {
		doc.PersonaObservationsByConversation = map[string]json.RawMessage{}
	}
	if doc.MemoryCandidatesBySourceFile == nil {
		doc.MemoryCandidatesBySourceFile = map[string][]lorebook.MemoryCandidate{}
	}

	if doc.Signature != want {
		return &Store{path: path, doc: emptyDocument(want)}, nil
	}
	return &Store{path: path, doc: &doc}, nil
}

func (s *Store) flushLocked() error {
	s.doc.UpdatedAtUtc = time.Now().UTC()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if _, err := pipeline.WriteFileAtomic(s.path, data, 0o644); err != nil {
		// One retry; a second failure is fatal to the caller.
		if _, err2 := pipeline.WriteFileAtomic(s.path, data, 0o644); err2 != nil {
			return err2
		}
	}
	return nil
}

// HasObservation reports whether conversationID already has a non-empty
// recorded persona observation.
func (s *Store) HasObservation(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.doc.PersonaObservationsByConversation[conversationID]
	return ok && len(raw) > 0
}

// RecordObservation stores a persona observation payload and flushes.
func (s *Store) RecordObservation(conversationID string, observation any) error {
	raw, err := json.Marshal(observation)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.PersonaObservationsByConversation[conversationID] = raw
	return s.flushLocked()
}

// Observations returns the recorded persona observations for the given
// conversation ids; ids with no recorded observation are absent from the
// result.
func (s *Store) Observations(order []string) map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(order))
	for _, id := range order {
		if raw, ok := s.doc.PersonaObservationsByConversation[id]; ok {
			out[id] = raw
		}
	}
	return out
}

// HasMemoryFile reports whether sourceFile was already fully processed:
// both in ProcessedMemoryFiles and present in MemoryCandidatesBySourceFile.
// Both must agree before the extraction call is skipped.
func (s *Store) HasMemoryFile(sourceFile string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hasCandidates := s.doc.MemoryCandidatesBySourceFile[sourceFile]
	if !hasCandidates {
		return false
	}
	for _, f := range s.doc.ProcessedMemoryFiles {
		if f == sourceFile {
			return true
		}
	}
	return false
}

// RecordMemoryCandidates stores a source file's extracted candidates,
// marks it processed, and flushes.
func (s *Store) RecordMemoryCandidates(sourceFile string, candidates []lorebook.MemoryCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.MemoryCandidatesBySourceFile[sourceFile] = candidates
	already := false
	for _, f := range s.doc.ProcessedMemoryFiles {
		if f == sourceFile {
			already = true
			break
		}
	}
	if !already {
		s.doc.ProcessedMemoryFiles = append(s.doc.ProcessedMemoryFiles, sourceFile)
	}
	return s.flushLocked()
}

// ProcessedFiles returns a copy of the processed-file list in recorded
// order.
func (s *Store) ProcessedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.doc.ProcessedMemoryFiles...)
}

// AllCandidates flattens every recorded memory candidate list in the order
// of the given file list, so synthesis input is reproducible.
func (s *Store) AllCandidates(order []string) []lorebook.MemoryCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []lorebook.MemoryCandidate
	for _, f := range order {
		out = append(out, s.doc.MemoryCandidatesBySourceFile[f]...)
	}
	return out
}

// ObservationCount and MemoryFileCount report current checkpoint progress
// for generation_report.json.
func (s *Store) ObservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.PersonaObservationsByConversation)
}

func (s *Store) MemoryFileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.ProcessedMemoryFiles)
}

// Path returns the checkpoint file path, for processing_manifest.json.
func (s *Store) Path() string { return s.path }
