package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"companion-keeper/internal/card"
	"companion-keeper/internal/pipeline"
	"companion-keeper/internal/sampler"
)

// ProcessingManifest records the sampling policy, effective seed, and
// per-stage file selections for one run.
type ProcessingManifest struct {
	Mode                  string            `json:"mode"`
	SamplingPolicy        string            `json:"samplingPolicy"`
	Seed                  int64             `json:"seed"`
	PersonaFiles          []string          `json:"personaFiles"`
	MemoryFiles           []string          `json:"memoryFiles"`
	ProcessedPersonaCount int               `json:"processedPersonaCount"`
	ProcessedMemoryCount  int               `json:"processedMemoryCount"`
	Artifacts             map[string]string `json:"artifacts"`
}

// GenerationReport records per-stage counts and status for one run.
type GenerationReport struct {
	Status               string   `json:"status"`
	Errors               []string `json:"errors"`
	PersonaObservations  int      `json:"personaObservations"`
	MemoryFilesProcessed int      `json:"memoryFilesProcessed"`
	LorebookEntries      int      `json:"lorebookEntries"`
	TotalCalls           int      `json:"totalCalls"`
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = pipeline.WriteFileAtomic(path, data, 0o644)
	return err
}

func writeLines(path string, lines []string) error {
	_, err := pipeline.WriteFileAtomic(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
	return err
}

// appendHistoryLine appends one JSON line to memory_append_history.jsonl,
// the one artifact that is not rewritten wholesale: append-mode runs
// extend it across the lifetime of a lorebook.
func appendHistoryLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func sourceFiles(packets []sampler.ConversationPacket) []string {
	out := make([]string, len(packets))
	for i, p := range packets {
		out[i] = p.SourceFile
	}
	return out
}

func buildTranscript(packets []sampler.ConversationPacket) string {
	var b strings.Builder
	for _, p := range packets {
		b.WriteString("=== ")
		b.WriteString(p.ConversationID)
		b.WriteString(" (")
		b.WriteString(p.SourceFile)
		b.WriteString(") ===\n")
		b.WriteString(p.Transcript)
		b.WriteString("\n\n")
	}
	return b.String()
}

// writeArtifacts persists every run output file under runDir except the
// checkpoint and scan manifest, which manage their own persistence.
func writeArtifacts(runDir string, cardV3 card.V3, lorebookV3 card.LorebookV3, personaPackets, memoryPackets []sampler.ConversationPacket, personaPayload, memoriesPayload any, manifest ProcessingManifest, report GenerationReport) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(runDir, "character_card_v3.json"), cardV3); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runDir, "lorebook_v3.json"), lorebookV3); err != nil {
		return err
	}
	if personaPayload != nil {
		if err := writeJSON(filepath.Join(runDir, "persona_payload.json"), personaPayload); err != nil {
			return err
		}
	}
	if err := writeJSON(filepath.Join(runDir, "memories_payload.json"), memoriesPayload); err != nil {
		return err
	}

	transcript := buildTranscript(append(append([]sampler.ConversationPacket{}, personaPackets...), memoryPackets...))
	if _, err := pipeline.WriteFileAtomic(filepath.Join(runDir, "analysis_transcript.txt"), []byte(transcript), 0o644); err != nil {
		return err
	}

	if len(personaPackets) > 0 {
		if err := writeLines(filepath.Join(runDir, "persona_sources.txt"), sourceFiles(personaPackets)); err != nil {
			return err
		}
	}
	if len(memoryPackets) > 0 {
		if err := writeLines(filepath.Join(runDir, "memory_sources.txt"), sourceFiles(memoryPackets)); err != nil {
			return err
		}
	}

	if err := writeJSON(filepath.Join(runDir, "processing_manifest.json"), manifest); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_report.json"), report); err != nil {
		return err
	}
	return nil
}

// appendMemoryHistory records one append-mode run into
// memory_append_history.jsonl.
func appendMemoryHistory(runDir string, addedCount int, totalCount int) error {
	return appendHistoryLine(filepath.Join(runDir, "memory_append_history.jsonl"), map[string]any{
		"appendedAtUtc": time.Now().UTC(),
		"addedCount":    addedCount,
		"totalCount":    totalCount,
	})
}
