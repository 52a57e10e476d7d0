package exporter

import "encoding/json"

// Format is the detected conversation export vendor.
type Format string

const (
	FormatVendorA Format = "openai"    // tree-structured, per-message model metadata
	FormatVendorB Format = "anthropic" // flat message array, single implicit model
	FormatUnknown Format = "unknown"
)

// Detect classifies a single conversation object. A conversation is
// vendor-A iff it has a "mapping" object; vendor-B iff it has a
// "chat_messages" array; otherwise unknown.
func Detect(raw json.RawMessage) Format {
	var probe struct {
		Mapping      json.RawMessage `json:"mapping"`
		ChatMessages json.RawMessage `json:"chat_messages"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return FormatUnknown
	}
	if len(probe.Mapping) > 0 && string(probe.Mapping) != "null" {
		return FormatVendorA
	}
	if len(probe.ChatMessages) > 0 && string(probe.ChatMessages) != "null" {
		return FormatVendorB
	}
	return FormatUnknown
}

// LockedFormat tracks the reported label for a stream of conversations: the
// first non-unknown detection locks it.
type LockedFormat struct {
	locked bool
	format Format
}

// Observe feeds one conversation's detected format in and returns the label
// that should be reported for the whole input so far.
func (l *LockedFormat) Observe(f Format) Format {
	if !l.locked && f != FormatUnknown {
		l.locked = true
		l.format = f
	}
	if l.locked {
		return l.format
	}
	return FormatUnknown
}
