package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSubstitutesSingleBracePlaceholders(t *testing.T) {
	out := Render("Hello {companion_name}, conv {conversation_id}", Placeholders{
		CompanionName:  "Ava",
		ConversationID: "conv-1",
	})
	assert.Equal(t, "Hello Ava, conv conv-1", out)
}

func TestRenderPreservesDoubleBraceTokens(t *testing.T) {
	out := Render("{{user}} and {{char}} talk about {companion_name}.", Placeholders{CompanionName: "Ava"})
	assert.Equal(t, "{{user}} and {{char}} talk about Ava.", out)
}

func TestRenderLeavesUnknownPlaceholderUntouched(t *testing.T) {
	out := Render("{unknown_field}", Placeholders{})
	assert.Equal(t, "{unknown_field}", out)
}

func TestDefaultTemplatesPreservePlaceholderTokens(t *testing.T) {
	p := Placeholders{
		CompanionName:      "Ava",
		ConversationID:     "conv-1",
		Transcript:         "[user] hi\n[assistant] hello",
		ObservationPackets: "{}",
		CandidateMemories:  "[]",
		MaxMemories:        "50",
	}
	templates := []string{
		Default.PersonaObservationSystem, Default.PersonaObservationUser,
		Default.PersonaSynthesisSystem, Default.PersonaSynthesisUser,
		Default.MemorySystem, Default.MemoryUser,
		Default.MemorySynthesisSystem, Default.MemorySynthesisUser,
	}
	for _, tpl := range templates {
		rendered := Render(tpl, p)
		if containsToken(tpl, "{{user}}") {
			assert.Contains(t, rendered, "{{user}}")
		}
		if containsToken(tpl, "{{char}}") {
			assert.Contains(t, rendered, "{{char}}")
		}
	}
}

func containsToken(s, token string) bool {
	for i := 0; i+len(token) <= len(s); i++ {
		if s[i:i+len(token)] == token {
			return true
		}
	}
	return false
}
