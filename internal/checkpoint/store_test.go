package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion-keeper/internal/lorebook"
)

func TestStoreResumeSkipsCompletedConversations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generation_resume.json")
	sig := Signature(SignatureParams{CompanionName: "Ava", Seed: 1})

	store, err := Load(path, sig, false)
	require.NoError(t, err)

	require.NoError(t, store.RecordObservation("conv-1", map[string]string{"trait": "curious"}))
	require.NoError(t, store.RecordMemoryCandidates("file-1.jsonl", []lorebook.MemoryCandidate{{Content: "likes tea"}}))

	assert.True(t, store.HasObservation("conv-1"))
	assert.False(t, store.HasObservation("conv-2"))
	assert.True(t, store.HasMemoryFile("file-1.jsonl"))
	assert.False(t, store.HasMemoryFile("file-2.jsonl"))

	reloaded, err := Load(path, sig, false)
	require.NoError(t, err)
	assert.True(t, reloaded.HasObservation("conv-1"))
	assert.True(t, reloaded.HasMemoryFile("file-1.jsonl"))
	assert.Equal(t, 1, reloaded.ObservationCount())
	assert.Equal(t, 1, reloaded.MemoryFileCount())
}

func TestStoreSignatureMismatchStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generation_resume.json")
	sig := Signature(SignatureParams{CompanionName: "Ava", Seed: 1})

	store, err := Load(path, sig, false)
	require.NoError(t, err)
	require.NoError(t, store.RecordObservation("conv-1", map[string]string{"trait": "curious"}))

	otherSig := Signature(SignatureParams{CompanionName: "Ava", Seed: 2})
	reloaded, err := Load(path, otherSig, false)
	require.NoError(t, err)
	assert.False(t, reloaded.HasObservation("conv-1"))
	assert.Equal(t, 0, reloaded.ObservationCount())
}

func TestStoreForceRerunIgnoresExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generation_resume.json")
	sig := Signature(SignatureParams{CompanionName: "Ava", Seed: 1})

	store, err := Load(path, sig, false)
	require.NoError(t, err)
	require.NoError(t, store.RecordObservation("conv-1", map[string]string{"trait": "curious"}))

	forced, err := Load(path, sig, true)
	require.NoError(t, err)
	assert.False(t, forced.HasObservation("conv-1"))
}

func TestStoreCorruptFileTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generation_resume.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	sig := Signature(SignatureParams{CompanionName: "Ava"})
	store, err := Load(path, sig, false)
	require.NoError(t, err)
	assert.Equal(t, 0, store.ObservationCount())
}

func TestMemoryFileRequiresBothProcessedAndCandidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generation_resume.json")
	sig := Signature(SignatureParams{CompanionName: "Ava"})
	store, err := Load(path, sig, false)
	require.NoError(t, err)

	// Simulate a partial state: processed list updated but no candidates
	// recorded (should not happen via the public API, but HasMemoryFile
	// must be defensive).
	store.doc.ProcessedMemoryFiles = append(store.doc.ProcessedMemoryFiles, "ghost.jsonl")
	assert.False(t, store.HasMemoryFile("ghost.jsonl"))
}
