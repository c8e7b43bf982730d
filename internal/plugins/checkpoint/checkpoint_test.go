package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadModelFromInlineConfig(t *testing.T) {
	p := New()
	res := p.loadModel(context.Background(), map[string]any{
		"name":         "qwen2-0.5b",
		"architecture": "transformer",
		"parameters":   494000000,
		"vocab_size":   151936,
	})
	if res.IsErr() {
		t.Fatalf("load model: %v", res.Err())
	}
	model := res.Unwrap()
	if model.Name != "qwen2-0.5b" || model.Parameters != 494000000 {
		t.Fatalf("unexpected model: %+v", model)
	}
	if model.Trainable != model.Parameters {
		t.Fatalf("freshly loaded model must be fully trainable")
	}

	tok := p.loadTokenizer(context.Background(), nil, model)
	if tok.IsErr() {
		t.Fatalf("load tokenizer: %v", tok.Err())
	}
	if tok.Unwrap().Name != "qwen2-0.5b" || tok.Unwrap().VocabSize != 151936 {
		t.Fatalf("unexpected tokenizer: %+v", tok.Unwrap())
	}
}

func TestLoadModelFromManifest(t *testing.T) {
	manifestPath := filepath.Join(t.TempDir(), "model.yaml")
	content := "name: llama3-8b\narchitecture: transformer\nparameters: 8000000000\nvocab_size: 128256\ntokenizer: llama3-tok\n"
	if err := os.WriteFile(manifestPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	p := New()
	res := p.loadModel(context.Background(), map[string]any{"path": manifestPath})
	if res.IsErr() {
		t.Fatalf("load model: %v", res.Err())
	}
	if res.Unwrap().Name != "llama3-8b" {
		t.Fatalf("manifest fields must win, got %+v", res.Unwrap())
	}

	tok := p.loadTokenizer(context.Background(), nil, res.Unwrap())
	if tok.IsErr() {
		t.Fatalf("load tokenizer: %v", tok.Err())
	}
	if tok.Unwrap().Name != "llama3-tok" {
		t.Fatalf("tokenizer name from manifest expected, got %s", tok.Unwrap().Name)
	}
}

func TestLoadModelErrors(t *testing.T) {
	p := New()
	if res := p.loadModel(context.Background(), map[string]any{}); !res.IsErr() {
		t.Fatalf("missing name must fail")
	}
	if res := p.loadModel(context.Background(), map[string]any{"path": "/nonexistent/manifest.yaml"}); !res.IsErr() {
		t.Fatalf("unreadable manifest must fail")
	}
}
