package tabular

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "data.csv", "instruction,output\nhello,world\nfoo,bar\n")

	res := New().load(context.Background(), []map[string]any{
		{"name": "csv-set", "path": path},
	})
	if res.IsErr() {
		t.Fatalf("load csv: %v", res.Err())
	}
	dataset := res.Unwrap()
	if dataset.Name != "csv-set" {
		t.Fatalf("unexpected dataset name: %s", dataset.Name)
	}
	if dataset.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", dataset.Len())
	}
	if dataset.Rows[0]["instruction"] != "hello" || dataset.Rows[1]["output"] != "bar" {
		t.Fatalf("unexpected rows: %v", dataset.Rows)
	}
}

func TestLoadJSONL(t *testing.T) {
	path := writeFile(t, "data.jsonl", `{"text":"a"}
{"text":"b"}

{"text":"c"}
`)

	res := New().load(context.Background(), []map[string]any{
		{"path": path, "format": "jsonl", "limit": 2},
	})
	if res.IsErr() {
		t.Fatalf("load jsonl: %v", res.Err())
	}
	dataset := res.Unwrap()
	if dataset.Len() != 2 {
		t.Fatalf("limit must cap the row count, got %d", dataset.Len())
	}
	if dataset.Name != "data" {
		t.Fatalf("name must default to the file stem, got %s", dataset.Name)
	}
}

func TestLoadJSONArray(t *testing.T) {
	path := writeFile(t, "data.json", `[{"text":"a"},{"text":"b"}]`)

	res := New().load(context.Background(), []map[string]any{{"path": path}})
	if res.IsErr() {
		t.Fatalf("load json: %v", res.Err())
	}
	if res.Unwrap().Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", res.Unwrap().Len())
	}
}

func TestLoadConcatenatesSources(t *testing.T) {
	first := writeFile(t, "a.jsonl", `{"text":"a"}`)
	second := writeFile(t, "b.jsonl", `{"text":"b"}`)

	res := New().load(context.Background(), []map[string]any{
		{"name": "a", "path": first},
		{"name": "b", "path": second},
	})
	if res.IsErr() {
		t.Fatalf("load: %v", res.Err())
	}
	dataset := res.Unwrap()
	if dataset.Len() != 2 {
		t.Fatalf("expected concatenated rows, got %d", dataset.Len())
	}
	if dataset.Name != "a+b" {
		t.Fatalf("unexpected dataset name: %s", dataset.Name)
	}
}

func TestLoadErrors(t *testing.T) {
	if res := New().load(context.Background(), nil); !res.IsErr() {
		t.Fatalf("empty datasets config must fail")
	}
	if res := New().load(context.Background(), []map[string]any{{"name": "x"}}); !res.IsErr() {
		t.Fatalf("missing path must fail")
	}
	path := writeFile(t, "data.txt", "not structured")
	if res := New().load(context.Background(), []map[string]any{{"path": path}}); !res.IsErr() {
		t.Fatalf("unknown format must fail")
	}
	badJSONL := writeFile(t, "bad.jsonl", "{broken")
	if res := New().load(context.Background(), []map[string]any{{"path": badJSONL}}); !res.IsErr() {
		t.Fatalf("malformed jsonl must fail")
	}
}
