package prompts

// Default is the built-in prompt template set, overridable per run. Every
// template that demands JSON-only output also states the anti-contamination
// rule: platform refusals, safety language, rate-limit mentions, and
// "as an AI" framing must be excluded from extracted fields.
var Default = Set{
	PersonaObservationSystem: `You study one chat conversation between {{user}} and {{char}} and extract ` +
		`observable persona traits for {{char}}. Output a single JSON object and nothing else. ` +
		`Exclude any platform refusal, safety disclaimer, rate-limit mention, or "as an AI" framing ` +
		`from every field — those are not persona traits.`,

	PersonaObservationUser: `Companion name: {companion_name}
Conversation id: {conversation_id}

Transcript:
{transcript}

Return a JSON object describing {{char}}'s observable traits, speech patterns, and behaviour in this conversation.`,

	PersonaSynthesisSystem: `You synthesize a single, coherent character persona for {{char}} from many independent ` +
		`per-conversation observations. Output a single JSON object and nothing else. Exclude any ` +
		`platform refusal, safety disclaimer, rate-limit mention, or "as an AI" framing from every field.`,

	PersonaSynthesisUser: `Companion name: {companion_name}

Observations:
{observation_packets}

Synthesize one persona for {{char}} as a JSON object with fields: name, description, personality, ` +
		`scenario, first_mes, mes_example, creator_notes, tags, system_prompt, post_history_instructions, ` +
		`alternate_greetings. description must be structured markdown with fenced sections ` +
		`(Overview / Personality / Behaviour and Habits / Speech) and use {{user}}/{{char}} placeholder ` +
		`tokens. mes_example must use <START>-delimited blocks with {{user}}: / {{char}}: prefixes.`,

	MemorySystem: `You extract candidate memories — facts {{char}} should remember about {{user}} or about the ` +
		`relationship — from one chat conversation. Output a single JSON object and nothing else. Exclude ` +
		`any platform refusal, safety disclaimer, rate-limit mention, or "as an AI" framing.`,

	MemoryUser: `Companion name: {companion_name}
Conversation id: {conversation_id}

Transcript:
{transcript}

Return a JSON object with a "candidates" array. Each candidate has: name, keys (array of retrieval ` +
		`keywords), content, category (one of shared_memory, user_context, companion_style, ` +
		`relationship_dynamic), priority (integer).`,

	MemorySynthesisSystem: `You deduplicate and rank a merged pool of candidate memories for {{char}}'s lorebook. ` +
		`Output a single JSON object and nothing else. Exclude any platform refusal, safety disclaimer, ` +
		`rate-limit mention, or "as an AI" framing from every field.`,

	MemorySynthesisUser: `Companion name: {companion_name}
Maximum memories to keep: {max_memories}

Candidate memories:
{candidate_memories}

Return a JSON object with an "entries" array of at most {max_memories} deduplicated, ranked memories, ` +
		`each with: name, keys, content, category, priority.`,
}
