// Package sampler scores extracted conversation files, selects a
// deterministic subset under a sampling policy, and builds token-budgeted
// transcript packets. All randomness is seeded so identical inputs pick
// identical conversations across runs and across processes.
package sampler

import (
	"math"

	"companion-keeper/internal/exporter"
)

// ConversationScore drives sampling weight for one candidate file.
type ConversationScore struct {
	FileName       string
	FilePath       string
	AssistantChars int
	AssistantTurns int
	Turns          int
}

// Weight is max(1, sqrt(max(1, assistantChars)) + 0.5*assistantTurns + 0.15*turns).
func (s ConversationScore) Weight() float64 {
	chars := s.AssistantChars
	if chars < 1 {
		chars = 1
	}
	w := math.Sqrt(float64(chars)) + 0.5*float64(s.AssistantTurns) + 0.15*float64(s.Turns)
	if w < 1 {
		w = 1
	}
	return w
}

// Score computes a ConversationScore from a cleaned message list.
func Score(fileName, filePath string, messages []exporter.CleanedMessage) ConversationScore {
	s := ConversationScore{FileName: fileName, FilePath: filePath, Turns: len(messages)}
	for _, m := range messages {
		if m.Role == exporter.RoleAssistant {
			s.AssistantChars += len(m.Text)
			s.AssistantTurns++
		}
	}
	return s
}
