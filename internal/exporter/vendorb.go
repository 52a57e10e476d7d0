package exporter

import (
	"encoding/json"
	"fmt"
	"time"

	"companion-keeper/internal/pipeline"
)

// VendorBModelTag is the single implicit model tag attributed to every
// vendor-B conversation.
const VendorBModelTag = "claude"

type vendorBBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type vendorBMessage struct {
	Sender    string         `json:"sender"`
	CreatedAt string         `json:"created_at"`
	Content   []vendorBBlock `json:"content"`
}

type vendorBConversation struct {
	UUID         string           `json:"uuid"`
	Name         string           `json:"name"`
	ChatMessages []vendorBMessage `json:"chat_messages"`
}

// ParseVendorB unmarshals a vendor-B conversation object.
func ParseVendorB(raw json.RawMessage) (*vendorBConversation, error) {
	var conv vendorBConversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("%w: vendor-B conversation: %v", pipeline.ErrMalformedInput, err)
	}
	if conv.ChatMessages == nil {
		return nil, fmt.Errorf("%w: vendor-B conversation missing chat_messages", pipeline.ErrMalformedInput)
	}
	return &conv, nil
}

// ConvID returns a stable conversation identifier for a vendor-B export.
func (c *vendorBConversation) ConvID() string {
	if c.UUID != "" {
		return c.UUID
	}
	return c.Name
}

// NormalizeVendorB maps vendor-B messages into CleanedMessages. Only
// type="text" content blocks are retained; sender=human maps to role=user.
func NormalizeVendorB(conv *vendorBConversation) []CleanedMessage {
	out := make([]CleanedMessage, 0, len(conv.ChatMessages))
	for _, m := range conv.ChatMessages {
		role := RoleAssistant
		if m.Sender == "human" {
			role = RoleUser
		} else if m.Sender != "assistant" {
			continue
		}

		var parts []string
		for _, block := range m.Content {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		if len(parts) == 0 {
			continue
		}

		cm := CleanedMessage{
			Role:        role,
			ContentType: "text",
			Parts:       parts,
			Model:       VendorBModelTag,
			CreateTime:  parseISOTimestamp(m.CreatedAt),
		}
		finalizeText(&cm)
		out = append(out, cm)
	}
	return out
}

func parseISOTimestamp(s string) *float64 {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02T15:04:05.000Z", s)
		if err != nil {
			return nil
		}
	}
	sec := float64(t.Unix())
	return &sec
}
