package sampler

import (
	"fmt"
	"hash/fnv"
)

// SeedParams are the run-shaping inputs that derive a stable seed when the
// caller does not supply one explicitly, so "no seed" runs stay
// reproducible across restarts.
type SeedParams struct {
	ModelDir                string
	PrimaryModel            string
	CompanionName           string
	SampleSize              int
	SamplingMode            string
	MessagesPerConversation int
	CharsPerConversation    int
	TotalCharsBudget        int
	PromptOverrideDigest    string
}

// DeriveSeed hashes SeedParams into a stable 32-bit seed.
func DeriveSeed(p SeedParams) uint32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s|%s|%d|%s|%d|%d|%d|%s",
		p.ModelDir, p.PrimaryModel, p.CompanionName, p.SampleSize, p.SamplingMode,
		p.MessagesPerConversation, p.CharsPerConversation, p.TotalCharsBudget, p.PromptOverrideDigest)
	return h.Sum32()
}

// ResolveSeed returns callerSeed verbatim if non-nil, else derives one from
// params.
func ResolveSeed(callerSeed *int64, params SeedParams) int64 {
	if callerSeed != nil {
		return *callerSeed
	}
	return int64(DeriveSeed(params))
}
