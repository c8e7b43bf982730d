package filelog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"dumbo/pkg/metrics"
)

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer file.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("parse event line: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func TestFileLogWritesEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	p := New()

	if res := p.init(context.Background(), map[string]any{"path": path}); res.IsErr() {
		t.Fatalf("init: %v", res.Err())
	}

	hooks := p.Hooks()
	if res := hooks.LogModel(map[string]any{"name": "m"}); res.IsErr() {
		t.Fatalf("log model: %v", res.Err())
	}
	if res := hooks.LogStep(map[string]any{"step": 1}); res.IsErr() {
		t.Fatalf("log step: %v", res.Err())
	}

	collectorRes := hooks.MetricsCollector()
	if collectorRes.IsErr() {
		t.Fatalf("collector: %v", collectorRes.Err())
	}
	if err := collectorRes.Unwrap().LogMetric(metrics.Event{Name: "loss", Value: 1.0, Step: 1}); err != nil {
		t.Fatalf("log metric: %v", err)
	}

	if res := hooks.Finish(); res.IsErr() {
		t.Fatalf("finish: %v", res.Err())
	}

	events := readEvents(t, path)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0]["event"] != "model" || events[1]["event"] != "step" || events[2]["event"] != "metric" {
		t.Fatalf("unexpected event order: %v", events)
	}
}

func TestFileLogCanDisableStepEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	p := New()

	if res := p.init(context.Background(), map[string]any{"path": path, "log_steps": false}); res.IsErr() {
		t.Fatalf("init: %v", res.Err())
	}
	if res := p.Hooks().LogStep(map[string]any{"step": 1}); res.IsErr() {
		t.Fatalf("log step: %v", res.Err())
	}
	if res := p.Hooks().Finish(); res.IsErr() {
		t.Fatalf("finish: %v", res.Err())
	}

	if events := readEvents(t, path); len(events) != 0 {
		t.Fatalf("step events must be suppressed, got %v", events)
	}
}

func TestFileLogBeforeInitIsNoOp(t *testing.T) {
	p := New()
	if res := p.Hooks().LogModel(map[string]any{"name": "m"}); res.IsErr() {
		t.Fatalf("logging before init must degrade to a no-op: %v", res.Err())
	}
}
