// Package prompts holds the generation engine's prompt template set:
// system/user templates per extraction stage and single-brace placeholder
// substitution. Double-brace {{user}}/{{char}} tokens are literal output
// tokens and must survive substitution untouched, which rules out
// text/template (its action delimiter is "{{ }}" and would consume them).
package prompts

import "strings"

// Set names every prompt template role the engine drives.
type Set struct {
	PersonaObservationSystem string
	PersonaObservationUser   string
	PersonaSynthesisSystem   string
	PersonaSynthesisUser     string
	MemorySystem             string
	MemoryUser               string
	MemorySynthesisSystem    string
	MemorySynthesisUser      string
}

// Placeholders carries the substitution values for one Render call. Any
// field left empty substitutes as an empty string.
type Placeholders struct {
	CompanionName      string
	ConversationID     string
	Transcript         string
	ObservationPackets string
	CandidateMemories  string
	MaxMemories        string
}

func (p Placeholders) lookup(name string) (string, bool) {
	switch name {
	case "companion_name":
		return p.CompanionName, true
	case "conversation_id":
		return p.ConversationID, true
	case "transcript":
		return p.Transcript, true
	case "observation_packets":
		return p.ObservationPackets, true
	case "candidate_memories":
		return p.CandidateMemories, true
	case "max_memories":
		return p.MaxMemories, true
	default:
		return "", false
	}
}

// Render substitutes single-brace {name} placeholders in tpl from p,
// leaving any double-brace {{...}} span byte-for-byte untouched. Unknown
// single-brace names are left as-is so a template typo stays visible.
func Render(tpl string, p Placeholders) string {
	var out strings.Builder
	out.Grow(len(tpl))

	i := 0
	for i < len(tpl) {
		c := tpl[i]
		if c != '{' {
			out.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(tpl) && tpl[i+1] == '{' {
			end := strings.Index(tpl[i:], "}}")
			if end == -1 {
				out.WriteString(tpl[i:])
				break
			}
			out.WriteString(tpl[i : i+end+2])
			i += end + 2
			continue
		}
		close := strings.IndexByte(tpl[i:], '}')
		if close == -1 {
			out.WriteString(tpl[i:])
			break
		}
		name := tpl[i+1 : i+close]
		if value, ok := p.lookup(name); ok {
			out.WriteString(value)
		} else {
			out.WriteString(tpl[i : i+close+1])
		}
		i += close + 1
	}
	return out.String()
}
