package template

import (
	"context"
	"testing"

	"dumbo/pkg/plugin"
)

func TestFormatRendersRows(t *testing.T) {
	dataset := &plugin.Dataset{
		Name: "ds",
		Rows: []map[string]any{
			{"instruction": "say hi", "output": "hi"},
			{"instruction": "say bye", "output": "bye"},
		},
	}
	cfg := map[string]any{
		"template": "Q: {{.instruction}}\nA: {{.output}}",
	}

	res := New().format(context.Background(), dataset, cfg)
	if res.IsErr() {
		t.Fatalf("format: %v", res.Err())
	}
	out := res.Unwrap()
	if out.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", out.Len())
	}
	if out.Rows[0]["text"] != "Q: say hi\nA: hi" {
		t.Fatalf("unexpected rendering: %q", out.Rows[0]["text"])
	}
	if _, kept := out.Rows[0]["instruction"]; kept {
		t.Fatalf("source fields must be dropped by default")
	}
}

func TestFormatKeepFields(t *testing.T) {
	dataset := &plugin.Dataset{Rows: []map[string]any{{"instruction": "x"}}}
	cfg := map[string]any{
		"template":     "{{.instruction}}",
		"target_field": "prompt",
		"keep_fields":  true,
	}

	res := New().format(context.Background(), dataset, cfg)
	if res.IsErr() {
		t.Fatalf("format: %v", res.Err())
	}
	row := res.Unwrap().Rows[0]
	if row["prompt"] != "x" || row["instruction"] != "x" {
		t.Fatalf("expected both rendered and source fields, got %v", row)
	}
}

func TestFormatMissingFieldFails(t *testing.T) {
	dataset := &plugin.Dataset{Rows: []map[string]any{{"other": "x"}}}
	cfg := map[string]any{"template": "{{.instruction}}"}

	if res := New().format(context.Background(), dataset, cfg); !res.IsErr() {
		t.Fatalf("referencing a missing field must fail instead of producing a broken sample")
	}
}

func TestFormatRequiresTemplate(t *testing.T) {
	dataset := &plugin.Dataset{Rows: []map[string]any{{"a": "b"}}}
	if res := New().format(context.Background(), dataset, map[string]any{}); !res.IsErr() {
		t.Fatalf("missing template must fail")
	}
	if res := New().format(context.Background(), nil, map[string]any{"template": "x"}); !res.IsErr() {
		t.Fatalf("nil dataset must fail")
	}
}
