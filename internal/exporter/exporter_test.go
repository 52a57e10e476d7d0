package exporter

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDetectVendorA(t *testing.T) {
	raw := json.RawMessage(`{"mapping":{"root":{}}}`)
	if got := Detect(raw); got != FormatVendorA {
		t.Fatalf("expected FormatVendorA, got %v", got)
	}
}

func TestDetectVendorB(t *testing.T) {
	raw := json.RawMessage(`{"chat_messages":[]}`)
	if got := Detect(raw); got != FormatVendorB {
		t.Fatalf("expected FormatVendorB, got %v", got)
	}
}

func TestDetectUnknown(t *testing.T) {
	raw := json.RawMessage(`{"foo":"bar"}`)
	if got := Detect(raw); got != FormatUnknown {
		t.Fatalf("expected FormatUnknown, got %v", got)
	}
}

func TestLockedFormatLocksOnFirstRecognized(t *testing.T) {
	var l LockedFormat
	if got := l.Observe(FormatUnknown); got != FormatUnknown {
		t.Fatalf("expected unknown before any recognized format, got %v", got)
	}
	if got := l.Observe(FormatVendorB); got != FormatVendorB {
		t.Fatalf("expected vendor-B after first recognized, got %v", got)
	}
	if got := l.Observe(FormatVendorA); got != FormatVendorB {
		t.Fatalf("expected label to stay locked at vendor-B, got %v", got)
	}
}

// Model discovery counts per-message and per-conversation occurrences
// across multiple conversations.
func TestModelDiscoveryCountsAcrossConversations(t *testing.T) {
	conv1 := &vendorAConversation{
		Mapping: map[string]vendorANode{
			"n1": assistantNode("n1", "m-a"),
			"n2": assistantNode("n2", "m-a"),
			"n3": assistantNode("n3", "m-a"),
			"n4": assistantNode("n4", "m-b"),
			"n5": userNode("n5"),
		},
	}
	conv2 := &vendorAConversation{
		Mapping: map[string]vendorANode{
			"n1": assistantNode("n1", "m-a"),
		},
	}

	msgCounts1, convCounts1 := ModelDiscovery(conv1)
	msgCounts2, convCounts2 := ModelDiscovery(conv2)

	totalMsg := map[string]int{}
	totalConv := map[string]int{}
	for k, v := range msgCounts1 {
		totalMsg[k] += v
	}
	for k, v := range msgCounts2 {
		totalMsg[k] += v
	}
	for k, v := range convCounts1 {
		totalConv[k] += v
	}
	for k, v := range convCounts2 {
		totalConv[k] += v
	}

	if totalMsg["m-a"] != 4 || totalMsg["m-b"] != 1 {
		t.Fatalf("unexpected message counts: %+v", totalMsg)
	}
	if totalConv["m-a"] != 2 || totalConv["m-b"] != 1 {
		t.Fatalf("unexpected conversation counts: %+v", totalConv)
	}
}

func TestModelDiscoveryIgnoresNonAssistantMessages(t *testing.T) {
	conv := &vendorAConversation{
		Mapping: map[string]vendorANode{
			"n1": userNode("n1"),
			"n2": systemNodeWithModelMetadata("n2"),
		},
	}
	msgCounts, _ := ModelDiscovery(conv)
	if len(msgCounts) != 0 {
		t.Fatalf("expected no model counts from non-assistant messages, got %+v", msgCounts)
	}
}

func TestPrimaryModelTieBreakPicksLexicographicallyGreater(t *testing.T) {
	model, err := PrimaryModel(map[string]int{"m-a": 2, "m-b": 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "m-b" {
		t.Fatalf("expected m-b to win tie-break, got %s", model)
	}
}

func TestVendorBBlockFiltering(t *testing.T) {
	conv := &vendorBConversation{
		ChatMessages: []vendorBMessage{
			{
				Sender: "assistant",
				Content: []vendorBBlock{
					{Type: "thinking", Text: "reasoning, dropped"},
					{Type: "text", Text: "hello "},
					{Type: "tool_use", Text: "dropped"},
					{Type: "text", Text: "world"},
				},
			},
		},
	}
	messages := NormalizeVendorB(conv)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Text != "hello world" {
		t.Fatalf("expected concatenated text blocks, got %q", messages[0].Text)
	}
}

func TestVendorBAssistantMessageCounts(t *testing.T) {
	convs := []*vendorBConversation{
		{
			UUID: "c1",
			ChatMessages: []vendorBMessage{
				{Sender: "human", Content: []vendorBBlock{{Type: "text", Text: "hi"}}},
				{Sender: "assistant", Content: []vendorBBlock{{Type: "text", Text: "a1"}}},
				{Sender: "assistant", Content: []vendorBBlock{{Type: "text", Text: "a2"}}},
			},
		},
		{
			UUID: "c2",
			ChatMessages: []vendorBMessage{
				{Sender: "assistant", Content: []vendorBBlock{{Type: "text", Text: "a3"}}},
			},
		},
	}

	assistantCount := 0
	for _, c := range convs {
		for _, m := range NormalizeVendorB(c) {
			if m.Role == RoleAssistant {
				assistantCount++
			}
		}
	}
	if assistantCount != 3 {
		t.Fatalf("expected 3 assistant messages total, got %d", assistantCount)
	}
}

func TestFilenameSchemaAndCollisionSuffixing(t *testing.T) {
	messages := []CleanedMessage{{Text: "hi"}}
	ts := 1700000000.0
	messages[0].CreateTime = &ts

	base := BuildFilename("m-a", "conv/a?1", messages)
	if base != "m-a_20231114_conv_a_1" {
		t.Fatalf("unexpected base filename: %s", base)
	}

	taken := map[string]bool{}
	first := ResolveCollision(base, taken)
	second := ResolveCollision(base, taken)
	third := ResolveCollision(base, taken)
	if first != base || second != base+"_2" || third != base+"_3" {
		t.Fatalf("unexpected collision sequence: %s %s %s", first, second, third)
	}
}

func TestFilenameUnknownDateFallback(t *testing.T) {
	if got := dateComponent(nil); got != "unknown-date" {
		t.Fatalf("expected unknown-date, got %s", got)
	}
}

// Vendor-A extraction filtered to a single model produces one filename
// derived from the model tag, earliest timestamp, and sanitized id.
func TestVendorAExtractionFilename(t *testing.T) {
	ts := 1700000000.0
	conv := &vendorAConversation{
		ConversationID: "conv/a?1",
		CurrentNode:    "n1",
		Mapping: map[string]vendorANode{
			"n1": {
				Message: &vendorAMessage{
					ID:         "n1",
					CreateTime: &ts,
					Content:    vendorAContent{ContentType: "text", Parts: []string{"hello"}, allStrings: true},
					Metadata:   map[string]json.RawMessage{"model_slug": json.RawMessage(`"m-a"`)},
				},
			},
		},
	}
	conv.Mapping["n1"].Message.Author.Role = "assistant"

	messageCounts, _ := ModelDiscovery(conv)
	primary, err := PrimaryModel(messageCounts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary != "m-a" {
		t.Fatalf("expected primary model m-a, got %s", primary)
	}

	messages, err := LinearizeVendorA(conv, OrderCurrentPath, DefaultRoles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	filename := BuildFilename(primary, conv.ConvID(), messages) + ".jsonl"
	if filename != "m-a_20231114_conv_a_1.jsonl" {
		t.Fatalf("unexpected filename: %s", filename)
	}
}

func TestMarshalConversationJSONLOneMessagePerLine(t *testing.T) {
	messages := []CleanedMessage{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: "hello"},
	}
	data, err := MarshalConversation("conv1", "m-a", messages, FormatJSONL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
}

func assistantNode(id, model string) vendorANode {
	msg := &vendorAMessage{ID: id, Metadata: map[string]json.RawMessage{"model_slug": json.RawMessage(`"` + model + `"`)}}
	msg.Author.Role = "assistant"
	return vendorANode{Message: msg}
}

func userNode(id string) vendorANode {
	msg := &vendorAMessage{ID: id}
	msg.Author.Role = "user"
	return vendorANode{Message: msg}
}

func systemNodeWithModelMetadata(id string) vendorANode {
	msg := &vendorAMessage{ID: id, Metadata: map[string]json.RawMessage{"model_slug": json.RawMessage(`"should-not-count"`)}}
	msg.Author.Role = "system"
	return vendorANode{Message: msg}
}
