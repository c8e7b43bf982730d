// Package metrics defines the collector contract that logging plugins hand
// to the pipeline, plus a fan-out registry that broadcasts metric events to
// every registered backend. Collector failures are recorded and skipped; a
// dashboard being down must never interrupt a training run.
package metrics

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Event is a single structured metric observation.
type Event struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Step      int64             `json:"step"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Collector receives structured metric events during training. Logging
// plugins expose one via their metrics_collector hook.
type Collector interface {
	// LogMetric records a single event.
	LogMetric(event Event) error
	// LogMetrics records a batch of events.
	LogMetrics(events []Event) error
	// LogHyperparameters records the run hyperparameters once.
	LogHyperparameters(params map[string]any) error
	// LogModelInfo records model metadata once.
	LogModelInfo(info map[string]any) error
	// Finalize flushes and releases the backend.
	Finalize() error
}

// Registry broadcasts metric events to every registered collector in
// registration order. It is populated once after plugin loading and is
// read-only during dispatch.
type Registry struct {
	mu         sync.RWMutex
	collectors []Collector
	logger     *slog.Logger
}

// NewRegistry builds an empty registry. A nil logger falls back to
// slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register appends a collector. Nil collectors are ignored.
func (r *Registry) Register(collector Collector) {
	if collector == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors = append(r.collectors, collector)
}

// Len reports the number of registered collectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.collectors)
}

// LogMetric forwards one event to all collectors.
func (r *Registry) LogMetric(event Event) {
	r.each("log_metric", func(c Collector) error {
		return c.LogMetric(event)
	})
}

// LogMetrics forwards a batch to all collectors.
func (r *Registry) LogMetrics(events []Event) {
	if len(events) == 0 {
		return
	}
	r.each("log_metrics", func(c Collector) error {
		return c.LogMetrics(events)
	})
}

// LogHyperparameters forwards hyperparameters to all collectors.
func (r *Registry) LogHyperparameters(params map[string]any) {
	r.each("log_hyperparameters", func(c Collector) error {
		return c.LogHyperparameters(params)
	})
}

// LogModelInfo forwards model metadata to all collectors.
func (r *Registry) LogModelInfo(info map[string]any) {
	r.each("log_model_info", func(c Collector) error {
		return c.LogModelInfo(info)
	})
}

// Finalize finalizes every collector and joins their errors. Every collector
// is finalized even when earlier ones fail.
func (r *Registry) Finalize() error {
	r.mu.RLock()
	collectors := make([]Collector, len(r.collectors))
	copy(collectors, r.collectors)
	r.mu.RUnlock()

	var errs []error
	for _, collector := range collectors {
		if err := collector.Finalize(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) each(op string, fn func(Collector) error) {
	r.mu.RLock()
	collectors := make([]Collector, len(r.collectors))
	copy(collectors, r.collectors)
	r.mu.RUnlock()

	for _, collector := range collectors {
		if err := fn(collector); err != nil {
			r.logger.Warn("metrics collector failed", "op", op, "error", err)
		}
	}
}
