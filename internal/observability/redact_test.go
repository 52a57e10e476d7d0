package observability

import (
	"encoding/json"
	"testing"
)

func TestRedactJSONRedactsSensitiveKeys(t *testing.T) {
	in := []byte(`{"api_key":"sk-abc123","nested":{"Authorization":"Bearer xyz"},"ok":"value"}`)
	out := RedactJSON(in)

	var v map[string]any
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("unmarshal redacted: %v", err)
	}
	if v["api_key"] != "[REDACTED]" {
		t.Fatalf("expected api_key redacted, got %v", v["api_key"])
	}
	nested := v["nested"].(map[string]any)
	if nested["Authorization"] != "[REDACTED]" {
		t.Fatalf("expected nested Authorization redacted, got %v", nested["Authorization"])
	}
	if v["ok"] != "value" {
		t.Fatalf("expected non-sensitive key untouched, got %v", v["ok"])
	}
}

func TestRedactJSONPassesThroughInvalidJSON(t *testing.T) {
	in := []byte(`not json`)
	out := RedactJSON(in)
	if string(out) != string(in) {
		t.Fatalf("expected passthrough on invalid JSON")
	}
}
