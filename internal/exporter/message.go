// Package exporter classifies each conversation object as vendor-A
// (tree-structured mapping with per-message model metadata) or vendor-B
// (flat message array, single implicit model), and normalizes both into a
// common CleanedMessage shape written out one file per conversation.
package exporter

// Role is the normalized speaker role of a CleanedMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CleanedMessage is the common shape both vendor formats normalize into.
type CleanedMessage struct {
	ID          string   `json:"id,omitempty"`
	Role        Role     `json:"role"`
	Name        string   `json:"name,omitempty"`
	CreateTime  *float64 `json:"create_time"`
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
	Text        string   `json:"text"`
	Model       string   `json:"model,omitempty"`
}

// finalizeText applies the invariant: if Text is empty but all Parts are
// plain strings, Text is their concatenation.
func finalizeText(m *CleanedMessage) {
	if m.Text != "" {
		return
	}
	if len(m.Parts) == 0 {
		return
	}
	joined := ""
	for _, p := range m.Parts {
		joined += p
	}
	m.Text = joined
}
