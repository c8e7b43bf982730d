package sft

import (
	"context"
	"testing"

	"dumbo/pkg/plugin"
)

func trainRun(rows int, cfg map[string]any) (*plugin.TrainRun, *[]plugin.StepInfo) {
	dataset := &plugin.Dataset{Name: "ds"}
	for i := 0; i < rows; i++ {
		dataset.Rows = append(dataset.Rows, map[string]any{"text": "x"})
	}
	var steps []plugin.StepInfo
	run := &plugin.TrainRun{
		Model:   &plugin.Model{Name: "m", Parameters: 1000},
		Dataset: dataset,
		Config:  cfg,
		Emit:    func(info plugin.StepInfo) { steps = append(steps, info) },
	}
	return run, &steps
}

func TestTrainEmitsEveryStep(t *testing.T) {
	run, steps := trainRun(32, map[string]any{
		"epochs":     2,
		"batch_size": 8,
		"seed":       7,
	})

	res := New().train(context.Background(), run)
	if res.IsErr() {
		t.Fatalf("train: %v", res.Err())
	}
	summary := res.Unwrap()

	// 32 rows, batch 8 -> 4 steps per epoch, 2 epochs.
	if summary.Steps != 8 {
		t.Fatalf("expected 8 steps, got %d", summary.Steps)
	}
	if summary.Epochs != 2 {
		t.Fatalf("expected 2 epochs, got %d", summary.Epochs)
	}
	if len(*steps) != 8 {
		t.Fatalf("expected one emit per step, got %d", len(*steps))
	}
	first := (*steps)[0]
	if first.Step != 1 || first.Epoch != 1 {
		t.Fatalf("unexpected first step: %+v", first)
	}
	if _, ok := first.Metrics["loss"]; !ok {
		t.Fatalf("steps must report loss, got %v", first.Metrics)
	}
}

func TestTrainIsDeterministicForASeed(t *testing.T) {
	runA, stepsA := trainRun(16, map[string]any{"epochs": 1, "batch_size": 4, "seed": 42})
	runB, stepsB := trainRun(16, map[string]any{"epochs": 1, "batch_size": 4, "seed": 42})

	if res := New().train(context.Background(), runA); res.IsErr() {
		t.Fatalf("train a: %v", res.Err())
	}
	if res := New().train(context.Background(), runB); res.IsErr() {
		t.Fatalf("train b: %v", res.Err())
	}

	if len(*stepsA) != len(*stepsB) {
		t.Fatalf("step counts differ: %d vs %d", len(*stepsA), len(*stepsB))
	}
	for i := range *stepsA {
		if (*stepsA)[i].Metrics["loss"] != (*stepsB)[i].Metrics["loss"] {
			t.Fatalf("step %d loss differs between seeded runs", i)
		}
	}
}

func TestTrainHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, _ := trainRun(16, map[string]any{"epochs": 1})
	if res := New().train(ctx, run); !res.IsErr() {
		t.Fatalf("cancelled context must stop training")
	}
}

func TestTrainValidatesInputs(t *testing.T) {
	if res := New().train(context.Background(), nil); !res.IsErr() {
		t.Fatalf("nil run must fail")
	}
	run, _ := trainRun(0, nil)
	if res := New().train(context.Background(), run); !res.IsErr() {
		t.Fatalf("empty dataset must fail")
	}
	run, _ = trainRun(4, map[string]any{"epochs": 0})
	if res := New().train(context.Background(), run); !res.IsErr() {
		t.Fatalf("non-positive epochs must fail")
	}
}
