package exporter

import (
	"encoding/json"
	"errors"
	"io"
	"path/filepath"

	"companion-keeper/internal/streamer"
)

// DefaultRoles is the role set used when a caller does not need to filter
// vendor-A linearization.
var DefaultRoles = map[Role]bool{RoleSystem: true, RoleUser: true, RoleAssistant: true}

// ExtractedConversation is one conversation's normalized output, ready for
// filename assignment and disk emission.
type ExtractedConversation struct {
	ConversationID string
	PrimaryModel   string
	Messages       []CleanedMessage
}

// ExtractResult summarizes a full streaming extraction pass.
type ExtractResult struct {
	Format         Format
	Conversations  []ExtractedConversation
	ModelConvCount map[string]int // conversations attributed to each model
}

// ExtractAll streams every conversation out of s, classifies its format,
// normalizes it, and (for vendor-A) resolves its primary model. modelFilter,
// if non-nil, restricts output to conversations whose primary model is a
// member (vendor-B's implicit tag participates in filtering the same way).
func ExtractAll(s *streamer.Streamer, policy OrderPolicy, roles map[Role]bool, modelFilter map[string]bool) (*ExtractResult, error) {
	result := &ExtractResult{ModelConvCount: map[string]int{}}
	var locked LockedFormat

	for {
		raw, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return result, err
		}

		// The lock governs the reported label only; each conversation is
		// still routed by its own detected shape.
		detected := Detect(raw)
		locked.Observe(detected)

		switch detected {
		case FormatVendorA:
			ec, ok, perr := extractVendorA(raw, policy, roles, modelFilter)
			if perr != nil {
				return result, perr
			}
			if ok {
				result.Conversations = append(result.Conversations, ec)
				result.ModelConvCount[ec.PrimaryModel]++
			}
		case FormatVendorB:
			conv, perr := ParseVendorB(raw)
			if perr != nil {
				return result, perr
			}
			if modelFilter != nil && !modelFilter[VendorBModelTag] {
				continue
			}
			messages := NormalizeVendorB(conv)
			result.Conversations = append(result.Conversations, ExtractedConversation{
				ConversationID: conv.ConvID(),
				PrimaryModel:   VendorBModelTag,
				Messages:       messages,
			})
			result.ModelConvCount[VendorBModelTag]++
		default:
			continue
		}
	}

	result.Format = locked.Observe(FormatUnknown)
	return result, nil
}

func extractVendorA(raw json.RawMessage, policy OrderPolicy, roles map[Role]bool, modelFilter map[string]bool) (ExtractedConversation, bool, error) {
	conv, err := ParseVendorA(raw)
	if err != nil {
		return ExtractedConversation{}, false, err
	}

	messageCounts, _ := ModelDiscovery(conv)
	primary := ""
	if len(messageCounts) > 0 {
		primary, err = PrimaryModel(messageCounts)
		if err != nil {
			return ExtractedConversation{}, false, err
		}
	}

	if modelFilter != nil && !modelFilter[primary] {
		return ExtractedConversation{}, false, nil
	}

	messages, err := LinearizeVendorA(conv, policy, roles)
	if err != nil {
		return ExtractedConversation{}, false, err
	}

	return ExtractedConversation{
		ConversationID: conv.ConvID(),
		PrimaryModel:   primary,
		Messages:       messages,
	}, true, nil
}

// AssignFilenames computes collision-free filenames (without directory) for
// a batch of extracted conversations sharing an output format.
func AssignFilenames(convs []ExtractedConversation, format OutputFormat) map[int]string {
	ext := "jsonl"
	if format == FormatJSON {
		ext = "json"
	}
	taken := map[string]bool{}
	names := make(map[int]string, len(convs))
	for i, ec := range convs {
		base := BuildFilename(ec.PrimaryModel, ec.ConversationID, ec.Messages)
		resolved := ResolveCollision(base, taken)
		names[i] = resolved + "." + ext
	}
	return names
}

// OutputPath joins an output directory with a sanitized model subdirectory
// and filename, matching the cache's model_exports/<sanitizedModel>/ layout.
func OutputPath(outDir, model, filename string) string {
	return filepath.Join(outDir, SanitizeFilenameComponent(model), filename)
}
