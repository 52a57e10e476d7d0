package sampler

import (
	"math/rand"
	"sort"
)

// Policy selects how candidate files are chosen for a run.
type Policy string

const (
	PolicyTop            Policy = "top"
	PolicyRandomUniform  Policy = "random-uniform"
	PolicyWeightedRandom Policy = "weighted-random"
)

// Select applies the requested policy over scores and returns up to n
// selected scores in policy-defined order.
func Select(scores []ConversationScore, policy Policy, n int, seed int64) []ConversationScore {
	if n <= 0 || len(scores) == 0 {
		return nil
	}
	if n > len(scores) {
		n = len(scores)
	}

	switch policy {
	case PolicyTop:
		return selectTop(scores, n)
	case PolicyRandomUniform:
		return selectRandomUniform(scores, n, seed)
	case PolicyWeightedRandom:
		return selectWeightedRandom(scores, n, seed)
	default:
		return selectTop(scores, n)
	}
}

func selectTop(scores []ConversationScore, n int) []ConversationScore {
	sorted := append([]ConversationScore(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.AssistantChars != b.AssistantChars {
			return a.AssistantChars > b.AssistantChars
		}
		if a.AssistantTurns != b.AssistantTurns {
			return a.AssistantTurns > b.AssistantTurns
		}
		if a.Turns != b.Turns {
			return a.Turns > b.Turns
		}
		return a.FileName < b.FileName
	})
	return sorted[:n]
}

func selectRandomUniform(scores []ConversationScore, n int, seed int64) []ConversationScore {
	shuffled := append([]ConversationScore(nil), scores...)
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

// selectWeightedRandom samples n items without replacement with
// probability proportional to weight, deterministic under seed.
func selectWeightedRandom(scores []ConversationScore, n int, seed int64) []ConversationScore {
	remaining := append([]ConversationScore(nil), scores...)
	r := rand.New(rand.NewSource(seed))
	out := make([]ConversationScore, 0, n)

	for len(out) < n && len(remaining) > 0 {
		total := 0.0
		for _, s := range remaining {
			total += s.Weight()
		}
		target := r.Float64() * total
		idx := 0
		cum := 0.0
		for i, s := range remaining {
			cum += s.Weight()
			if target < cum {
				idx = i
				break
			}
			idx = i
		}
		out = append(out, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out
}
