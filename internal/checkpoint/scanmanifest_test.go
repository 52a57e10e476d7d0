package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanManifestMarksAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan_manifest.json")

	store, err := LoadScanManifest(path, dir)
	require.NoError(t, err)
	assert.False(t, store.IsScanned("a.jsonl"))

	require.NoError(t, store.MarkScanned("a.jsonl", 100, 1234))
	assert.True(t, store.IsScanned("a.jsonl"))

	reloaded, err := LoadScanManifest(path, dir)
	require.NoError(t, err)
	assert.True(t, reloaded.IsScanned("a.jsonl"))
}

func TestScanManifestClear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan_manifest.json")
	store, err := LoadScanManifest(path, dir)
	require.NoError(t, err)
	require.NoError(t, store.MarkScanned("a.jsonl", 1, 1))
	require.NoError(t, store.Clear())
	assert.False(t, store.IsScanned("a.jsonl"))
}
