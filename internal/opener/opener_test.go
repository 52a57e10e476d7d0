package opener

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"companion-keeper/internal/pipeline"
)

func TestOpenPlainJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conversations.json")
	if err := os.WriteFile(path, []byte(`[]`), 0644); err != nil {
		t.Fatal(err)
	}

	kind, rc, err := Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	if kind != KindJSON {
		t.Fatalf("expected KindJSON, got %v", kind)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "[]" {
		t.Fatalf("unexpected contents: %s", data)
	}
}

func TestOpenZipFindsConversationsJSON(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "export.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("nested/Conversations.JSON")
	w.Write([]byte(`[{"mapping":{}}]`))
	zw.Close()
	f.Close()

	kind, rc, err := Open(zipPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	if kind != KindZip {
		t.Fatalf("expected KindZip, got %v", kind)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != `[{"mapping":{}}]` {
		t.Fatalf("unexpected contents: %s", data)
	}
}

func TestOpenZipMissingConversationsJSON(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "export.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("other.json")
	w.Write([]byte(`[]`))
	zw.Close()
	f.Close()

	_, _, err = Open(zipPath)
	if !errors.Is(err, pipeline.ErrConversationsJSONMissing) {
		t.Fatalf("expected ErrConversationsJSONMissing, got %v", err)
	}
}

func TestOpenNotAFile(t *testing.T) {
	_, _, err := Open(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, pipeline.ErrNotAFile) {
		t.Fatalf("expected ErrNotAFile, got %v", err)
	}
}
