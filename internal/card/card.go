// Package card shapes the persona synthesis LLM output into a character
// card draft, repairing flattened markdown and mes_example formatting, and
// renders the chara_card_v3 / lorebook_v3 wire envelopes.
package card

import (
	"regexp"
	"strings"
)

// SynthesisPayload is the decoded shape of the persona synthesis LLM
// output.
type SynthesisPayload struct {
	Name                    string   `json:"name"`
	Description             string   `json:"description"`
	Personality             string   `json:"personality"`
	Scenario                string   `json:"scenario"`
	FirstMes                string   `json:"first_mes"`
	MesExample              string   `json:"mes_example"`
	CreatorNotes            string   `json:"creator_notes"`
	Tags                    []string `json:"tags"`
	SystemPrompt            string   `json:"system_prompt"`
	PostHistoryInstructions string   `json:"post_history_instructions"`
	AlternateGreetings      []string `json:"alternate_greetings"`
}

// Draft is the structured character card draft.
type Draft struct {
	Name                    string
	Description             string
	Personality             string
	Scenario                string
	FirstMes                string
	MesExample              string
	CreatorNotes            string
	Tags                    []string
	SystemPrompt            string
	PostHistoryInstructions string
	AlternateGreetings      []string
}

const defaultFirstMes = "Hi. I'm here with you."

var defaultMesExample = "<START>\n{{user}}: Hi.\n{{char}}: " + defaultFirstMes

var defaultDescription = "# Overview\n{{char}} is getting to know {{user}}.\n\n" +
	"# Personality\nObservant, warm, still forming.\n\n" +
	"# Behaviour and Habits\nResponds thoughtfully and stays present in the conversation.\n\n" +
	"# Speech\nPlain, direct, unhurried."

// BuildDraft maps a SynthesisPayload into a Draft, applying the format
// repairs and conservative defaults for empty fields. companionName is the
// fallback for an empty Name.
func BuildDraft(payload SynthesisPayload, companionName string) Draft {
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		name = companionName
	}

	description := strings.TrimSpace(payload.Description)
	if description == "" {
		description = defaultDescription
	} else {
		description = repairMarkdownNewlines(description)
	}

	firstMes := strings.TrimSpace(payload.FirstMes)
	if firstMes == "" {
		firstMes = defaultFirstMes
	}

	mesExample := strings.TrimSpace(payload.MesExample)
	if mesExample == "" {
		mesExample = defaultMesExample
	} else {
		mesExample = repairMesExample(mesExample)
	}

	return Draft{
		Name:        name,
		Description: description,
		// personality is intentionally emitted empty, deprecated in favor
		// of the structured Description.
		Personality:             "",
		Scenario:                strings.TrimSpace(payload.Scenario),
		FirstMes:                firstMes,
		MesExample:              mesExample,
		CreatorNotes:            strings.TrimSpace(payload.CreatorNotes),
		Tags:                    append([]string(nil), payload.Tags...),
		SystemPrompt:            strings.TrimSpace(payload.SystemPrompt),
		PostHistoryInstructions: strings.TrimSpace(payload.PostHistoryInstructions),
		AlternateGreetings:      append([]string(nil), payload.AlternateGreetings...),
	}
}

// markdownBreakers matches the tokens that should each start a new line
// when a markdown field has been flattened to one line: heading markers,
// list-item prefixes, and HTML-ish tags.
var markdownBreakers = regexp.MustCompile(`(#+\s|- |</?[A-Za-z][^<>]*>)`)

// repairMarkdownNewlines inserts newlines before markdown structural
// tokens, but only when the field has no newlines at all. A description
// that already contains newlines is left unchanged.
func repairMarkdownNewlines(s string) string {
	if strings.Contains(s, "\n") {
		return s
	}
	repaired := markdownBreakers.ReplaceAllStringFunc(s, func(m string) string {
		return "\n" + m
	})
	return strings.TrimLeft(repaired, "\n \t")
}

// mesExampleBreakers matches whitespace immediately preceding a <START>,
// {{user}}:, or {{char}}: token.
var mesExampleBreakers = regexp.MustCompile(`\s*(<START>|\{\{user\}\}:|\{\{char\}\}:)`)

// repairMesExample normalizes whitespace before <START>/{{user}}:/{{char}}:
// tokens to a single preceding newline, then trims.
func repairMesExample(s string) string {
	repaired := mesExampleBreakers.ReplaceAllString(s, "\n$1")
	return strings.TrimSpace(repaired)
}
