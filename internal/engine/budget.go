package engine

import "unicode/utf8"

// Budgets holds the per-call token budgets derived from a model's context
// window.
type Budgets struct {
	UsableContextTokens int
	PerChatTokens       int
	SynthesisTokens     int
}

// ComputeBudgets derives:
// usableContext = max(2048, contextWindow - 2500)
// perChatBudget = max(900, floor(usableContext * 0.9))
// synthesisBudget = max(1200, floor(usableContext * 0.9))
func ComputeBudgets(contextWindowTokens int) Budgets {
	usable := contextWindowTokens - 2500
	if usable < 2048 {
		usable = 2048
	}
	perChat := int(float64(usable) * 0.9)
	if perChat < 900 {
		perChat = 900
	}
	synthesis := int(float64(usable) * 0.9)
	if synthesis < 1200 {
		synthesis = 1200
	}
	return Budgets{UsableContextTokens: usable, PerChatTokens: perChat, SynthesisTokens: synthesis}
}

// TruncateToBudget truncates s to budgetTokens*4 characters (the
// 4-char-per-token heuristic), backing off so a multi-byte UTF-8 character
// is never split.
func TruncateToBudget(s string, budgetTokens int) string {
	limit := budgetTokens * 4
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
