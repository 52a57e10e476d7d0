package exporter

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// ReadConversationFile reverses MarshalConversation: given a path previously
// written by WriteConversationFile, it returns the conversation id, model
// tag, and cleaned messages, dispatching on the file extension.
func ReadConversationFile(path string) (conversationID, model string, messages []CleanedMessage, err error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return readJSONConversation(path)
	}
	return readJSONLConversation(path)
}

func readJSONConversation(path string) (string, string, []CleanedMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", nil, err
	}
	var export conversationExport
	if err := json.Unmarshal(data, &export); err != nil {
		return "", "", nil, err
	}
	return export.ConversationID, export.Model, export.Messages, nil
}

func readJSONLConversation(path string) (string, string, []CleanedMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", nil, err
	}
	defer f.Close()

	var messages []CleanedMessage
	var model string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var m CleanedMessage
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return "", "", nil, err
		}
		if m.Model != "" {
			model = m.Model
		}
		messages = append(messages, m)
	}
	if err := scanner.Err(); err != nil {
		return "", "", nil, err
	}

	conversationID := conversationIDFromFilename(path)
	return conversationID, model, messages, nil
}

// conversationIDFromFilename recovers the sanitized conversation id segment
// from a cache filename of the form <modelTag>_<yyyymmdd>_<sanitizedId>.jsonl.
// This is best-effort: the sanitized id is not guaranteed reversible to the
// original conversation id, but is stable and unique within one extraction.
func conversationIDFromFilename(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.SplitN(base, "_", 3)
	if len(parts) == 3 {
		return parts[2]
	}
	return base
}
