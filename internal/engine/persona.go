package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"companion-keeper/internal/card"
	"companion-keeper/internal/checkpoint"
	"companion-keeper/internal/llmclient"
	"companion-keeper/internal/pipeline"
	"companion-keeper/internal/prompts"
	"companion-keeper/internal/sampler"
)

// runPersonaObservations drives the per-conversation persona observation
// stage: each packet's call is skipped iff the checkpoint already holds a
// non-empty observation for its conversation id.
func runPersonaObservations(ctx context.Context, in RunInput, store *checkpoint.Store, budgets Budgets, tracker *progressTracker, packets []sampler.ConversationPacket) []error {
	companionName := in.Request.CompanionName
	tpl := in.Request.Prompts

	return parallelEach(ctx, packets, in.Request.MaxParallelCalls, func(ctx context.Context, packet sampler.ConversationPacket, _ int) error {
		if store.HasObservation(packet.ConversationID) {
			return nil
		}

		tag := "persona:" + packet.ConversationID
		tracker.callStarted(PhasePersonaObservation, "observing "+packet.ConversationID)

		transcript := TruncateToBudget(packet.Transcript, budgets.PerChatTokens)
		sys := prompts.Render(tpl.PersonaObservationSystem, prompts.Placeholders{CompanionName: companionName})
		user := prompts.Render(tpl.PersonaObservationUser, prompts.Placeholders{
			CompanionName:  companionName,
			ConversationID: packet.ConversationID,
			Transcript:     transcript,
		})

		result, err := callJSON(ctx, in.Provider, tracker, PhasePersonaObservation, tag, callTimeout(in.Request), []llmclient.Message{
			{Role: "system", Content: sys},
			{Role: "user", Content: user},
		})
		if err != nil {
			wrapped := wrapLlmCallFailed(tag, err)
			if wrapped == llmclient.ErrAborted {
				tracker.callFailed(PhasePersonaObservation, "cancelled")
				return wrapped
			}
			tracker.callFailed(PhasePersonaObservation, fmt.Sprintf("observation failed for %s: %v", packet.ConversationID, err))
			return wrapped
		}

		if err := store.RecordObservation(packet.ConversationID, result.Parsed); err != nil {
			tracker.callFailed(PhasePersonaObservation, fmt.Sprintf("checkpoint write failed for %s: %v", packet.ConversationID, err))
			return err
		}
		tracker.callCompleted(PhasePersonaObservation, "observed "+packet.ConversationID)
		return nil
	})
}

// runPersonaSynthesis gathers recorded observations in packet order and
// runs the single persona synthesis call. Synthesis is never resumed from
// a checkpoint; it always re-runs over the current observation set. When
// no observations exist at all, the stage fails with the per-conversation
// error summary instead of attempting synthesis.
func runPersonaSynthesis(ctx context.Context, in RunInput, store *checkpoint.Store, budgets Budgets, tracker *progressTracker, packets []sampler.ConversationPacket, stageErrs []error) (card.Draft, error) {
	order := make([]string, len(packets))
	for i, p := range packets {
		order[i] = p.ConversationID
	}
	observations := store.Observations(order)

	if len(observations) == 0 {
		errs := realErrors(stageErrs)
		if len(errs) == 0 {
			errs = []error{fmt.Errorf("no persona observations were recorded")}
		}
		return card.Draft{}, &pipeline.StageFailedError{Stage: "PersonaExtractionFailed", Errors: errs}
	}

	type packetObservation struct {
		ConversationID string          `json:"conversationId"`
		Observation    json.RawMessage `json:"observation"`
	}
	ordered := make([]packetObservation, 0, len(order))
	for _, id := range order {
		if raw, ok := observations[id]; ok {
			ordered = append(ordered, packetObservation{ConversationID: id, Observation: raw})
		}
	}

	payload, err := json.Marshal(ordered)
	if err != nil {
		return card.Draft{}, err
	}

	tpl := in.Request.Prompts
	companionName := in.Request.CompanionName
	sys := prompts.Render(tpl.PersonaSynthesisSystem, prompts.Placeholders{CompanionName: companionName})
	user := prompts.Render(tpl.PersonaSynthesisUser, prompts.Placeholders{
		CompanionName:      companionName,
		ObservationPackets: TruncateToBudget(string(payload), budgets.SynthesisTokens),
	})

	tracker.callStarted(PhasePersonaSynthesis, "synthesizing persona")
	result, err := callJSON(ctx, in.Provider, tracker, PhasePersonaSynthesis, "persona-synthesis", callTimeout(in.Request), []llmclient.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: user},
	})
	if err != nil {
		if err == llmclient.ErrAborted {
			tracker.callFailed(PhasePersonaSynthesis, "cancelled")
			return card.Draft{}, err
		}
		tracker.callFailed(PhasePersonaSynthesis, fmt.Sprintf("persona synthesis failed: %v", err))
		return card.Draft{}, &pipeline.StageFailedError{Stage: "SynthesisFailed", Errors: []error{err}}
	}
	tracker.callCompleted(PhasePersonaSynthesis, "persona synthesized")

	raw, err := json.Marshal(result.Parsed)
	if err != nil {
		return card.Draft{}, &pipeline.StageFailedError{Stage: "SynthesisFailed", Errors: []error{err}}
	}
	var synthesisPayload card.SynthesisPayload
	if err := json.Unmarshal(raw, &synthesisPayload); err != nil {
		return card.Draft{}, &pipeline.StageFailedError{Stage: "SynthesisFailed", Errors: []error{err}}
	}

	return card.BuildDraft(synthesisPayload, companionName), nil
}
