// Package checkpoint implements the resume checkpoint and scan manifest:
// the durable state that lets the generation engine survive crashes and
// arbitrary re-runs without re-paying for completed LLM work.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignatureParams are the run-shaping parameters that must match for a
// prior checkpoint to be reused.
type SignatureParams struct {
	ModelDir                string
	PrimaryModel            string
	CompanionName           string
	SamplingMode            string
	Seed                    int64
	MessagesPerConversation int
	CharsPerConversation    int
	TotalCharsBudget        int
	PerChatBudgetTokens     int
	SynthesisBudgetTokens   int
}

// Signature hashes SignatureParams into a stable hex digest. A mismatched
// signature invalidates prior checkpoint state.
func Signature(p SignatureParams) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d|%d|%d|%d|%d",
		p.ModelDir, p.PrimaryModel, p.CompanionName, p.SamplingMode, p.Seed,
		p.MessagesPerConversation, p.CharsPerConversation, p.TotalCharsBudget,
		p.PerChatBudgetTokens, p.SynthesisBudgetTokens)
	return hex.EncodeToString(h.Sum(nil))
}
