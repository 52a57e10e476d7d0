package cache

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"companion-keeper/internal/exporter"
	"companion-keeper/internal/opener"
	"companion-keeper/internal/pipeline"
	"companion-keeper/internal/streamer"
)

// EnsureResult is the outcome of Ensure for one (source, model) pair.
type EnsureResult struct {
	FingerprintDir   string
	ModelExportsDir  string
	Files            []string
	ReusedExtraction bool
}

// Ensure reuses an existing complete extraction for (fingerprint, model) or
// stream-extracts fresh when none exists.
func Ensure(cacheRoot, sourcePath, model string, format exporter.OutputFormat, policy exporter.OrderPolicy) (*EnsureResult, error) {
	stat, err := StatSource(sourcePath)
	if err != nil {
		return nil, err
	}

	fp := Fingerprint(stat.AbsPath, stat.Size, stat.MtimeMs)
	fingerprintDir := filepath.Join(cacheRoot, fp)
	sanitizedModel := exporter.SanitizeFilenameComponent(model)
	modelExportsDir := filepath.Join(fingerprintDir, "model_exports", sanitizedModel)

	manifest, err := LoadManifest(fingerprintDir)
	if err != nil {
		return nil, err
	}

	if entry, ok := manifest.Models[sanitizedModel]; ok && entry.FileCount > 0 {
		if files, ferr := existingFiles(modelExportsDir); ferr == nil && len(files) > 0 {
			entry.ReusedExtraction = true
			entry.ExtractedInLastRun = false
			entry.UpdatedAt = time.Now().UTC()
			manifest.Models[sanitizedModel] = entry
			manifest.SourceFilePath = stat.AbsPath
			manifest.SourceFileSizeBytes = stat.Size
			manifest.SourceFileMtimeMs = stat.MtimeMs
			manifest.SourceFingerprint = fp
			manifest.CacheRoot = cacheRoot
			manifest.ModelExportsDir = modelExportsDir
			if err := SaveManifest(fingerprintDir, manifest); err != nil {
				return nil, err
			}
			return &EnsureResult{
				FingerprintDir:   fingerprintDir,
				ModelExportsDir:  modelExportsDir,
				Files:            files,
				ReusedExtraction: true,
			}, nil
		}
	}

	files, err := streamExtract(sourcePath, modelExportsDir, model, format, policy)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, pipeline.ErrNoMatchingConversations
	}

	manifest.SourceFilePath = stat.AbsPath
	manifest.SourceFileSizeBytes = stat.Size
	manifest.SourceFileMtimeMs = stat.MtimeMs
	manifest.SourceFingerprint = fp
	manifest.CacheRoot = cacheRoot
	manifest.ModelExportsDir = modelExportsDir
	manifest.Models[sanitizedModel] = ModelEntry{
		FileCount:          len(files),
		ReusedExtraction:   false,
		ExtractedInLastRun: true,
		UpdatedAt:          time.Now().UTC(),
	}
	if err := SaveManifest(fingerprintDir, manifest); err != nil {
		return nil, err
	}

	return &EnsureResult{
		FingerprintDir:  fingerprintDir,
		ModelExportsDir: modelExportsDir,
		Files:           files,
	}, nil
}

func existingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func streamExtract(sourcePath, modelExportsDir, model string, format exporter.OutputFormat, policy exporter.OrderPolicy) ([]string, error) {
	_, rc, err := opener.Open(sourcePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	s := streamer.New(rc)
	modelFilter := map[string]bool{model: true}
	result, err := exporter.ExtractAll(s, policy, exporter.DefaultRoles, modelFilter)
	if err != nil {
		return nil, err
	}

	names := exporter.AssignFilenames(result.Conversations, format)
	var written []string
	for i, ec := range result.Conversations {
		dest := filepath.Join(modelExportsDir, names[i])
		if _, err := exporter.WriteConversationFile(dest, ec.ConversationID, ec.PrimaryModel, ec.Messages, format); err != nil {
			return nil, err
		}
		written = append(written, dest)
	}
	// Filename order, matching what a cache-reuse directory listing returns,
	// so fresh and reused runs present the sampler an identical ordering.
	sort.Slice(written, func(i, j int) bool {
		return filepath.Base(written[i]) < filepath.Base(written[j])
	})
	return written, nil
}
