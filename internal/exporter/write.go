package exporter

import (
	"bytes"
	"encoding/json"

	"companion-keeper/internal/pipeline"
)

// OutputFormat selects the emitted per-conversation file shape.
type OutputFormat string

const (
	FormatJSONL OutputFormat = "jsonl"
	FormatJSON  OutputFormat = "json"
)

// conversationExport is the JSON-form envelope: conversation metadata plus
// a messages array.
type conversationExport struct {
	ConversationID string           `json:"conversation_id"`
	Model          string           `json:"model,omitempty"`
	MessageCount   int              `json:"message_count"`
	Messages       []CleanedMessage `json:"messages"`
}

// MarshalConversation renders a cleaned conversation in the requested
// output format.
func MarshalConversation(conversationID, model string, messages []CleanedMessage, format OutputFormat) ([]byte, error) {
	if format == FormatJSON {
		export := conversationExport{
			ConversationID: conversationID,
			Model:          model,
			MessageCount:   len(messages),
			Messages:       messages,
		}
		return json.Marshal(export)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range messages {
		if err := enc.Encode(m); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// WriteConversationFile marshals and atomically writes a single
// conversation's cleaned messages to destPath.
func WriteConversationFile(destPath, conversationID, model string, messages []CleanedMessage, format OutputFormat) (int64, error) {
	data, err := MarshalConversation(conversationID, model, messages, format)
	if err != nil {
		return 0, err
	}
	return pipeline.WriteFileAtomic(destPath, data, 0o644)
}
