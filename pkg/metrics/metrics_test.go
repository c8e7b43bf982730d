package metrics

import (
	"errors"
	"testing"
)

type recordingCollector struct {
	events    []Event
	params    map[string]any
	finalized bool
	fail      bool
}

func (c *recordingCollector) LogMetric(event Event) error {
	if c.fail {
		return errors.New("backend down")
	}
	c.events = append(c.events, event)
	return nil
}

func (c *recordingCollector) LogMetrics(events []Event) error {
	for _, event := range events {
		if err := c.LogMetric(event); err != nil {
			return err
		}
	}
	return nil
}

func (c *recordingCollector) LogHyperparameters(params map[string]any) error {
	if c.fail {
		return errors.New("backend down")
	}
	c.params = params
	return nil
}

func (c *recordingCollector) LogModelInfo(map[string]any) error { return nil }

func (c *recordingCollector) Finalize() error {
	c.finalized = true
	if c.fail {
		return errors.New("finalize failed")
	}
	return nil
}

func TestRegistryFanOutContinuesPastFailure(t *testing.T) {
	broken := &recordingCollector{fail: true}
	healthy := &recordingCollector{}

	registry := NewRegistry(nil)
	registry.Register(broken)
	registry.Register(healthy)

	registry.LogMetric(Event{Name: "loss", Value: 1.5, Step: 1})
	if len(healthy.events) != 1 {
		t.Fatalf("expected healthy collector to receive the event, got %d", len(healthy.events))
	}

	registry.LogHyperparameters(map[string]any{"lr": 2e-5})
	if healthy.params == nil {
		t.Fatalf("expected hyperparameters to reach the healthy collector")
	}
}

func TestRegistryIgnoresNilCollectors(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(nil)
	if registry.Len() != 0 {
		t.Fatalf("nil collector must not be registered")
	}
}

func TestRegistryFinalizeRunsEveryCollector(t *testing.T) {
	broken := &recordingCollector{fail: true}
	healthy := &recordingCollector{}

	registry := NewRegistry(nil)
	registry.Register(broken)
	registry.Register(healthy)

	err := registry.Finalize()
	if err == nil {
		t.Fatalf("expected joined finalize error")
	}
	if !broken.finalized || !healthy.finalized {
		t.Fatalf("every collector must be finalized, broken=%v healthy=%v", broken.finalized, healthy.finalized)
	}
}

func TestRegistryLogMetricsSkipsEmptyBatch(t *testing.T) {
	healthy := &recordingCollector{}
	registry := NewRegistry(nil)
	registry.Register(healthy)

	registry.LogMetrics(nil)
	if len(healthy.events) != 0 {
		t.Fatalf("empty batch must not reach collectors")
	}
}
