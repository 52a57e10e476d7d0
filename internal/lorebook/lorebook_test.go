package lorebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactDedupesCaseAndWhitespace(t *testing.T) {
	candidates := []MemoryCandidate{
		{Name: "a", Keys: []string{"Foo", "Bar"}, Content: "Likes   pizza.", Priority: 2, SourceConversation: "c1"},
		{Name: "b", Keys: []string{"bar", "foo"}, Content: "likes pizza.", Priority: 5, SourceConversation: ""},
	}

	compacted := Compact(candidates)
	require.Len(t, compacted, 1)
	assert.Equal(t, 5, compacted[0].Priority)
	assert.Equal(t, "c1", compacted[0].SourceConversation)
	assert.Equal(t, []string{"Foo", "Bar"}, compacted[0].Keys)
}

func TestCompactPrefersLongerContent(t *testing.T) {
	candidates := []MemoryCandidate{
		{Keys: []string{"x"}, Content: "likes green tea"},
		{Keys: []string{"x"}, Content: "Likes  green   tea"},
	}
	compacted := Compact(candidates)
	require.Len(t, compacted, 1)
	assert.Equal(t, "Likes  green   tea", compacted[0].Content)
}

func TestCompactIsIdempotent(t *testing.T) {
	candidates := []MemoryCandidate{
		{Keys: []string{"a"}, Content: "one", Priority: 1},
		{Keys: []string{"b"}, Content: "two", Priority: 3},
		{Keys: []string{"A"}, Content: "ONE", Priority: 9},
	}

	once := Compact(candidates)
	twice := Compact(once)
	assert.Equal(t, once, twice)
}

func TestCapByPriorityPrefersHighest(t *testing.T) {
	entries := []LorebookEntry{
		{Name: "low", Priority: 1},
		{Name: "high", Priority: 9},
		{Name: "mid", Priority: 5},
	}
	capped := CapByPriority(entries, 2)
	require.Len(t, capped, 2)
	assert.Equal(t, "high", capped[0].Name)
	assert.Equal(t, "mid", capped[1].Name)
}

func TestSignatureCaseAndWhitespaceInsensitive(t *testing.T) {
	a := Signature("Hello   World", []string{"A", "b"})
	b := Signature("hello world", []string{"b", "a"})
	assert.Equal(t, a, b)
}

func TestDecayPriorityFloorsAtZero(t *testing.T) {
	assert.Equal(t, 0, DecayPriority(0))
	assert.Equal(t, 4, DecayPriority(5))
}
