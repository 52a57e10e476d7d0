package sampler

import (
	"math"
	"strings"
	"unicode/utf8"

	"companion-keeper/internal/exporter"
)

// ConversationPacket is a token-budgeted transcript slice ready for LLM
// injection.
type ConversationPacket struct {
	ConversationID string
	SourceFile     string
	Transcript     string
	MessagesUsed   int
	CharCount      int
	TokenEstimate  int
}

// EstimateTokens applies the 4-char-per-token heuristic with floor 1.
func EstimateTokens(charCount int) int {
	if charCount <= 0 {
		return 1
	}
	est := int(math.Ceil(float64(charCount) / 4.0))
	if est < 1 {
		est = 1
	}
	return est
}

// EffectivePerConversationCharBudget implements
// min(C, max(1, floor(T / max(1, N)))).
func EffectivePerConversationCharBudget(maxCharsPerConversation, maxTotalChars, n int) int {
	denom := n
	if denom < 1 {
		denom = 1
	}
	perN := maxTotalChars / denom
	if perN < 1 {
		perN = 1
	}
	if maxCharsPerConversation < perN {
		return maxCharsPerConversation
	}
	return perN
}

// BuildPacket walks messages in order, appending "[role] content\n" lines
// until the next line would exceed the char budget or message cap. Packets
// with zero messages used or an empty trimmed transcript are dropped: the
// result is a zero ConversationPacket and false.
func BuildPacket(conversationID, sourceFile string, messages []exporter.CleanedMessage, maxMessages, charBudget int) (ConversationPacket, bool) {
	var b strings.Builder
	used := 0
	for _, m := range messages {
		if maxMessages > 0 && used >= maxMessages {
			break
		}
		line := "[" + string(m.Role) + "] " + m.Text + "\n"
		if b.Len() > 0 && b.Len()+len(line) > charBudget {
			break
		}
		if b.Len() == 0 && len(line) > charBudget {
			// A single message already exceeds budget: truncate it without
			// splitting a multi-byte UTF-8 character.
			cut := charBudget
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			line = line[:cut]
		}
		b.WriteString(line)
		used++
	}

	transcript := b.String()
	if used == 0 || strings.TrimSpace(transcript) == "" {
		return ConversationPacket{}, false
	}

	charCount := len(transcript)
	return ConversationPacket{
		ConversationID: conversationID,
		SourceFile:     sourceFile,
		Transcript:     transcript,
		MessagesUsed:   used,
		CharCount:      charCount,
		TokenEstimate:  EstimateTokens(charCount),
	}, true
}
