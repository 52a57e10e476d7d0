package streamer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"companion-keeper/internal/pipeline"
)

func drain(t *testing.T, input string) ([]json.RawMessage, error) {
	t.Helper()
	s := New(strings.NewReader(input))
	var out []json.RawMessage
	for {
		obj, err := s.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, obj)
	}
}

func TestStreamerYieldsEachObject(t *testing.T) {
	objs, err := drain(t, `[{"a":1}, {"b":"two"}, {"c":[1,2,3]}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(objs))
	}
	var m map[string]any
	if err := json.Unmarshal(objs[1], &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["b"] != "two" {
		t.Fatalf("expected b=two, got %v", m["b"])
	}
}

func TestStreamerHandlesEmptyArray(t *testing.T) {
	objs, err := drain(t, `[]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objs) != 0 {
		t.Fatalf("expected 0 objects, got %d", len(objs))
	}
}

func TestStreamerIgnoresEscapedBracesInStrings(t *testing.T) {
	objs, err := drain(t, `[{"text":"a } b { c \"quoted\" d"}]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objs) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objs))
	}
}

func TestStreamerRejectsNonObjectElement(t *testing.T) {
	_, err := drain(t, `[1, 2, 3]`)
	if err == nil {
		t.Fatal("expected error for non-object array element")
	}
	if !errors.Is(err, pipeline.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestStreamerRejectsMissingClosingBracket(t *testing.T) {
	_, err := drain(t, `[{"a":1}`)
	if err == nil {
		t.Fatal("expected error for missing closing bracket")
	}
}

func TestStreamerRejectsNonArrayInput(t *testing.T) {
	_, err := drain(t, `{"a":1}`)
	if err == nil {
		t.Fatal("expected error for non-array input")
	}
}

func TestStreamerLargeArrayYieldsExactCount(t *testing.T) {
	const n = 10000
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `{"i":%d,"payload":"x"}`, i)
	}
	sb.WriteByte(']')

	objs, err := drain(t, sb.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objs) != n {
		t.Fatalf("expected %d objects, got %d", n, len(objs))
	}
	var first, last map[string]any
	json.Unmarshal(objs[0], &first)
	json.Unmarshal(objs[n-1], &last)
	if first["i"] != float64(0) || last["i"] != float64(n-1) {
		t.Fatalf("unexpected boundary values: %v %v", first["i"], last["i"])
	}
}
