package card

import "companion-keeper/internal/lorebook"

// V3 is the published Character Card V3 wire envelope.
type V3 struct {
	Spec        string `json:"spec"`
	SpecVersion string `json:"spec_version"`
	Data        Data   `json:"data"`
}

// Data is the card's data payload.
type Data struct {
	Name                    string         `json:"name"`
	Description             string         `json:"description"`
	Personality             string         `json:"personality"`
	Scenario                string         `json:"scenario"`
	FirstMes                string         `json:"first_mes"`
	MesExample              string         `json:"mes_example"`
	CreatorNotes            string         `json:"creator_notes"`
	Tags                    []string       `json:"tags"`
	SystemPrompt            string         `json:"system_prompt"`
	PostHistoryInstructions string         `json:"post_history_instructions"`
	AlternateGreetings      []string       `json:"alternate_greetings"`
	Creator                 string         `json:"creator"`
	CharacterVersion        string         `json:"character_version"`
	CreationDate            int64          `json:"creation_date"`
	ModificationDate        int64          `json:"modification_date"`
	GroupOnlyGreetings      []string       `json:"group_only_greetings"`
	Extensions              map[string]any `json:"extensions"`
	CharacterBook           *Book          `json:"character_book,omitempty"`
}

// Book is the embedded character_book / standalone lorebook entries
// container, shared between the card envelope and the standalone lorebook
// wire format.
type Book struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Entries     []Entry `json:"entries"`
}

// Entry is one lorebook entry on the wire.
type Entry struct {
	Keys           []string       `json:"keys"`
	Content        string         `json:"content"`
	Enabled        bool           `json:"enabled"`
	InsertionOrder int            `json:"insertion_order"`
	Name           string         `json:"name"`
	Priority       int            `json:"priority"`
	Position       string         `json:"position"`
	Extensions     map[string]any `json:"extensions"`
}

// LorebookV3 is the standalone lorebook wire envelope.
type LorebookV3 struct {
	Spec string           `json:"spec"`
	Data LorebookWireData `json:"data"`
}

// LorebookWireData is the standalone lorebook's data payload.
type LorebookWireData struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Entries     []Entry `json:"entries"`
}

// BuildEntries converts compacted lorebook entries into wire entries,
// insertion_order = index, enabled = true, position = "before_char".
func BuildEntries(entries []lorebook.LorebookEntry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{
			Keys:           e.Keys,
			Content:        e.Content,
			Enabled:        true,
			InsertionOrder: i,
			Name:           e.Name,
			Priority:       e.Priority,
			Position:       "before_char",
			Extensions:     map[string]any{},
		}
	}
	return out
}

// BuildCard wraps a Draft into the chara_card_v3 envelope.
func BuildCard(draft Draft, creator, characterVersion string, creationDate, modificationDate int64, entries []lorebook.LorebookEntry) V3 {
	var book *Book
	if len(entries) > 0 {
		book = &Book{
			Name:        draft.Name + "'s Lorebook",
			Description: "Memories extracted from chat history.",
			Entries:     BuildEntries(entries),
		}
	}

	tags := draft.Tags
	if tags == nil {
		tags = []string{}
	}
	greetings := draft.AlternateGreetings
	if greetings == nil {
		greetings = []string{}
	}

	return V3{
		Spec:        "chara_card_v3",
		SpecVersion: "3.0",
		Data: Data{
			Name:                    draft.Name,
			Description:             draft.Description,
			Personality:             draft.Personality,
			Scenario:                draft.Scenario,
			FirstMes:                draft.FirstMes,
			MesExample:              draft.MesExample,
			CreatorNotes:            draft.CreatorNotes,
			Tags:                    tags,
			SystemPrompt:            draft.SystemPrompt,
			PostHistoryInstructions: draft.PostHistoryInstructions,
			AlternateGreetings:      greetings,
			Creator:                 creator,
			CharacterVersion:        characterVersion,
			CreationDate:            creationDate,
			ModificationDate:        modificationDate,
			GroupOnlyGreetings:      []string{},
			Extensions:              map[string]any{},
			CharacterBook:           book,
		},
	}
}

// BuildLorebook wraps compacted entries into the standalone lorebook_v3
// envelope.
func BuildLorebook(name, description string, entries []lorebook.LorebookEntry) LorebookV3 {
	return LorebookV3{
		Spec: "lorebook_v3",
		Data: LorebookWireData{
			Name:        name,
			Description: description,
			Entries:     BuildEntries(entries),
		},
	}
}
