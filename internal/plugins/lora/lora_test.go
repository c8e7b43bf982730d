package lora

import (
	"context"
	"testing"

	"dumbo/pkg/plugin"
)

func TestPatchFreezesBaseParameters(t *testing.T) {
	model := &plugin.Model{Name: "m", Parameters: 1_000_000, Trainable: 1_000_000}

	res := New().patch(context.Background(), model, map[string]any{"rank": 16, "alpha": 32})
	if res.IsErr() {
		t.Fatalf("patch: %v", res.Err())
	}
	patched := res.Unwrap()
	if patched.Trainable >= model.Parameters {
		t.Fatalf("patched model must have fewer trainable parameters, got %d", patched.Trainable)
	}
	if len(patched.Adapters) != 1 || patched.Adapters[0] != "lora(r=16)" {
		t.Fatalf("adapter tag missing: %v", patched.Adapters)
	}
	if patched.Metadata["lora.rank"] != 16 {
		t.Fatalf("rank metadata missing: %v", patched.Metadata)
	}
}

func TestPatchLeavesInputModelUntouched(t *testing.T) {
	model := &plugin.Model{Name: "m", Parameters: 1000, Trainable: 1000}

	res := New().patch(context.Background(), model, nil)
	if res.IsErr() {
		t.Fatalf("patch: %v", res.Err())
	}
	if model.Trainable != 1000 || len(model.Adapters) != 0 {
		t.Fatalf("input model must not be mutated: %+v", model)
	}
}

func TestPatchRejectsBadInput(t *testing.T) {
	if res := New().patch(context.Background(), nil, nil); !res.IsErr() {
		t.Fatalf("nil model must fail")
	}
	model := &plugin.Model{Parameters: 1000}
	if res := New().patch(context.Background(), model, map[string]any{"rank": -1}); !res.IsErr() {
		t.Fatalf("negative rank must fail")
	}
}

func TestInfoDeclaresConflictWithFullFinetune(t *testing.T) {
	info := New().Info()
	found := false
	for _, cap := range info.Conflicts {
		if cap == plugin.CapabilityFullFinetune {
			found = true
		}
	}
	if !found {
		t.Fatalf("lora must conflict with full_finetune, got %v", info.Conflicts)
	}
}
