// Package lorebook implements the deduplicating memory compactor and the
// keyed lorebook entry shape it produces. Compaction is purely structural:
// duplicates are detected by a normalized content+keys signature and merged
// without any LLM call.
package lorebook

import (
	"sort"
	"strings"
)

// Category is the fixed set of memory categories.
type Category string

const (
	CategorySharedMemory        Category = "shared_memory"
	CategoryUserContext         Category = "user_context"
	CategoryCompanionStyle      Category = "companion_style"
	CategoryRelationshipDynamic Category = "relationship_dynamic"
)

// MemoryCandidate is a raw memory proposal before dedup/compaction.
type MemoryCandidate struct {
	Name               string   `json:"name"`
	Keys               []string `json:"keys"`
	Content            string   `json:"content"`
	Category           Category `json:"category"`
	Priority           int      `json:"priority"`
	SourceConversation string   `json:"sourceConversation,omitempty"`
	SourceDate         string   `json:"sourceDate,omitempty"`
}

// LorebookEntry is a compacted, keyed memory ready for retrieval injection.
type LorebookEntry struct {
	Name               string   `json:"name"`
	Keys               []string `json:"keys"`
	Content            string   `json:"content"`
	Category           Category `json:"category"`
	Priority           int      `json:"priority"`
	SourceConversation string   `json:"sourceConversation,omitempty"`
	SourceDate         string   `json:"sourceDate,omitempty"`
}

// Signature computes the dedup key: lowercased whitespace-normalized
// content joined with lowercased, sorted keys.
func Signature(content string, keys []string) string {
	normContent := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	lowerKeys := make([]string, len(keys))
	for i, k := range keys {
		lowerKeys[i] = strings.ToLower(strings.TrimSpace(k))
	}
	sort.Strings(lowerKeys)
	return normContent + "|" + strings.Join(lowerKeys, ",")
}

func candidateSignature(c MemoryCandidate) string {
	return Signature(c.Content, c.Keys)
}

// unionKeys merges b into a, case-insensitively deduplicated, stable order
// (a's keys first, then new keys from b in b's order).
func unionKeys(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range a {
		lk := strings.ToLower(strings.TrimSpace(k))
		if lk == "" || seen[lk] {
			continue
		}
		seen[lk] = true
		out = append(out, k)
	}
	for _, k := range b {
		lk := strings.ToLower(strings.TrimSpace(k))
		if lk == "" || seen[lk] {
			continue
		}
		seen[lk] = true
		out = append(out, k)
	}
	return out
}

func mergeInto(existing *MemoryCandidate, incoming MemoryCandidate) {
	existing.Keys = unionKeys(existing.Keys, incoming.Keys)
	if incoming.Priority > existing.Priority {
		existing.Priority = incoming.Priority
	}
	if len(incoming.Content) > len(existing.Content) {
		existing.Content = incoming.Content
	}
	if existing.SourceConversation == "" {
		existing.SourceConversation = incoming.SourceConversation
	}
	if existing.SourceDate == "" {
		existing.SourceDate = incoming.SourceDate
	}
	if existing.Name == "" {
		existing.Name = incoming.Name
	}
	if existing.Category == "" {
		existing.Category = incoming.Category
	}
}

// Compact deduplicates candidates by Signature, merging duplicates: keys
// unioned, priority = max, content = longer, source fields fill in iff
// previously empty. Order of first occurrence is preserved.
// Compact is idempotent: Compact(Compact(xs)) == Compact(xs).
func Compact(candidates []MemoryCandidate) []MemoryCandidate {
	order := make([]string, 0, len(candidates))
	bySignature := make(map[string]*MemoryCandidate, len(candidates))

	for _, c := range candidates {
		sig := candidateSignature(c)
		if existing, ok := bySignature[sig]; ok {
			mergeInto(existing, c)
			continue
		}
		cp := c
		cp.Keys = append([]string(nil), c.Keys...)
		bySignature[sig] = &cp
		order = append(order, sig)
	}

	out := make([]MemoryCandidate, 0, len(order))
	for _, sig := range order {
		out = append(out, *bySignature[sig])
	}
	return out
}

// ToEntries converts compacted candidates into lorebook entries, 1:1.
func ToEntries(candidates []MemoryCandidate) []LorebookEntry {
	out := make([]LorebookEntry, len(candidates))
	for i, c := range candidates {
		out[i] = LorebookEntry{
			Name:               c.Name,
			Keys:               c.Keys,
			Content:            c.Content,
			Category:           c.Category,
			Priority:           c.Priority,
			SourceConversation: c.SourceConversation,
			SourceDate:         c.SourceDate,
		}
	}
	return out
}

// CapByPriority caps entries at maxMemories, preferring higher priority;
// ties keep original relative order (stable sort on priority descending).
func CapByPriority(entries []LorebookEntry, maxMemories int) []LorebookEntry {
	if maxMemories <= 0 || len(entries) <= maxMemories {
		return entries
	}
	sorted := append([]LorebookEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted[:maxMemories]
}

// DecayPriority lowers the priority of a memory carried forward from a
// prior run's existing lorebook into this run's candidate pool, so fresh
// extractions are preferred over repeatedly-reinforced stale entries when
// both are otherwise equal. Floors at zero.
func DecayPriority(priority int) int {
	if priority <= 0 {
		return 0
	}
	return priority - 1
}

// ExistingToCandidates converts a prior run's lorebook entries back into
// candidates for append-mode merging, applying DecayPriority.
func ExistingToCandidates(entries []LorebookEntry) []MemoryCandidate {
	out := make([]MemoryCandidate, len(entries))
	for i, e := range entries {
		out[i] = MemoryCandidate{
			Name:               e.Name,
			Keys:               append([]string(nil), e.Keys...),
			Content:            e.Content,
			Category:           e.Category,
			Priority:           DecayPriority(e.Priority),
			SourceConversation: e.SourceConversation,
			SourceDate:         e.SourceDate,
		}
	}
	return out
}
