package exporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"companion-keeper/internal/pipeline"
)

// OrderPolicy selects how vendor-A messages are linearized out of the tree.
type OrderPolicy string

const (
	OrderTime        OrderPolicy = "time"
	OrderCurrentPath OrderPolicy = "current-path"
)

type vendorANode struct {
	Message  *vendorAMessage `json:"message"`
	Parent   *string         `json:"parent"`
	Children []string        `json:"children"`
}

type vendorAMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content    vendorAContent             `json:"content"`
	Metadata   map[string]json.RawMessage `json:"metadata"`
	CreateTime *float64                   `json:"create_time"`
}

type vendorAContent struct {
	ContentType string `json:"content_type"`
	Parts       []string
	allStrings  bool
}

func (c *vendorAContent) UnmarshalJSON(data []byte) error {
	var raw struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ContentType = raw.ContentType
	c.allStrings = true
	for _, p := range raw.Parts {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			// Non-string parts (image pointers, tool payloads) are dropped.
			c.allStrings = false
			continue
		}
		c.Parts = append(c.Parts, s)
	}
	return nil
}

type vendorAConversation struct {
	ConversationID string                 `json:"conversation_id"`
	ID             string                 `json:"id"`
	CurrentNode    string                 `json:"current_node"`
	Mapping        map[string]vendorANode `json:"mapping"`
}

// ParseVendorA unmarshals a vendor-A conversation object.
func ParseVendorA(raw json.RawMessage) (*vendorAConversation, error) {
	var conv vendorAConversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("%w: vendor-A conversation: %v", pipeline.ErrMalformedInput, err)
	}
	if conv.Mapping == nil {
		return nil, fmt.Errorf("%w: vendor-A conversation missing mapping", pipeline.ErrMalformedInput)
	}
	return &conv, nil
}

// ConvID returns the conversation identifier, preferring conversation_id
// then falling back to id.
func (c *vendorAConversation) ConvID() string {
	if c.ConversationID != "" {
		return c.ConversationID
	}
	return c.ID
}

// LinearizeVendorA walks the tree per the requested ordering policy and
// returns CleanedMessages for the given role set.
func LinearizeVendorA(conv *vendorAConversation, policy OrderPolicy, roles map[Role]bool) ([]CleanedMessage, error) {
	switch policy {
	case OrderCurrentPath:
		return linearizeCurrentPath(conv, roles)
	case OrderTime, "":
		return linearizeTime(conv, roles)
	default:
		return nil, fmt.Errorf("unknown order policy %q", policy)
	}
}

func linearizeCurrentPath(conv *vendorAConversation, roles map[Role]bool) ([]CleanedMessage, error) {
	start := conv.CurrentNode
	if start == "" {
		start = pickBestLeaf(conv.Mapping)
	}
	if start == "" {
		return nil, nil
	}

	visited := make(map[string]struct{}, len(conv.Mapping))
	var reversed []CleanedMessage

	for i := 0; i < len(conv.Mapping)+1; i++ {
		node, ok := conv.Mapping[start]
		if !ok {
			// Missing nodes terminate the walk.
			break
		}
		if _, seen := visited[start]; seen {
			// Cycle in a malformed export.
			break
		}
		visited[start] = struct{}{}

		if node.Message != nil {
			if cm, ok := toCleanedMessage(*node.Message, roles); ok {
				reversed = append(reversed, cm)
			}
		}

		if node.Parent == nil || *node.Parent == "" {
			break
		}
		start = *node.Parent
	}

	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	return reversed, nil
}

func pickBestLeaf(mapping map[string]vendorANode) string {
	var bestID string
	var bestTime float64
	hasBest := false
	for id, n := range mapping {
		if len(n.Children) != 0 || n.Message == nil {
			continue
		}
		ct := 0.0
		if n.Message.CreateTime != nil {
			ct = *n.Message.CreateTime
		}
		if !hasBest || ct > bestTime || (ct == bestTime && id > bestID) {
			bestID, bestTime, hasBest = id, ct, true
		}
	}
	return bestID
}

func linearizeTime(conv *vendorAConversation, roles map[Role]bool) ([]CleanedMessage, error) {
	type withIndex struct {
		msg CleanedMessage
		has bool
		ct  float64
		idx int
	}
	var items []withIndex
	idx := 0
	for _, node := range conv.Mapping {
		if node.Message == nil {
			continue
		}
		cm, ok := toCleanedMessage(*node.Message, roles)
		if !ok {
			continue
		}
		has := node.Message.CreateTime != nil
		ct := 0.0
		if has {
			ct = *node.Message.CreateTime
		}
		items = append(items, withIndex{msg: cm, has: has, ct: ct, idx: idx})
		idx++
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].has != items[j].has {
			// Messages without timestamps sort before those with.
			return !items[i].has
		}
		if items[i].ct != items[j].ct {
			return items[i].ct < items[j].ct
		}
		return items[i].idx < items[j].idx
	})

	out := make([]CleanedMessage, 0, len(items))
	for _, it := range items {
		out = append(out, it.msg)
	}
	return out, nil
}

func toCleanedMessage(m vendorAMessage, roles map[Role]bool) (CleanedMessage, bool) {
	role := Role(m.Author.Role)
	if roles != nil && !roles[role] {
		return CleanedMessage{}, false
	}

	cm := CleanedMessage{
		ID:          m.ID,
		Role:        role,
		CreateTime:  m.CreateTime,
		ContentType: m.Content.ContentType,
		Parts:       m.Content.Parts,
		Model:       discoverModel(m),
	}
	if m.Content.allStrings {
		finalizeText(&cm)
	}
	return cm, true
}

// modelDiscoveryKeys is the ordered search list for assistant message model
// attribution.
var modelDiscoveryKeys = []string{"model_slug", "default_model_slug", "model"}

func discoverModel(m vendorAMessage) string {
	if Role(m.Author.Role) != RoleAssistant {
		return ""
	}
	for _, key := range modelDiscoveryKeys {
		raw, ok := m.Metadata[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// ModelDiscovery counts assistant-message model occurrences across a single
// conversation's raw mapping, independent of ordering/role filtering.
func ModelDiscovery(conv *vendorAConversation) (messageCounts map[string]int, conversationCounts map[string]int) {
	messageCounts = map[string]int{}
	seenInConv := map[string]bool{}
	for _, node := range conv.Mapping {
		if node.Message == nil {
			continue
		}
		model := discoverModel(*node.Message)
		if model == "" {
			continue
		}
		messageCounts[model]++
		seenInConv[model] = true
	}
	conversationCounts = map[string]int{}
	for model := range seenInConv {
		conversationCounts[model] = 1
	}
	return
}

// PrimaryModel selects the model with the highest message count among the
// given candidates, breaking ties by choosing the lexicographically greater
// string.
func PrimaryModel(messageCounts map[string]int) (string, error) {
	if len(messageCounts) == 0 {
		return "", errors.New("no candidate models")
	}
	var best string
	bestCount := -1
	first := true
	for model, count := range messageCounts {
		if first {
			best, bestCount, first = model, count, false
			continue
		}
		if count > bestCount || (count == bestCount && model > best) {
			best, bestCount = model, count
		}
	}
	return best, nil
}
