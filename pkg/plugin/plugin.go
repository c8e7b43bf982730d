// Package plugin implements the orchestration core of the training
// pipeline: plugin discovery and registration, capability-graph resolution,
// and typed hook dispatch with uniform result propagation.
package plugin

import (
	"context"
	"time"

	"dumbo/pkg/metrics"
	"dumbo/pkg/result"
)

// Plugin is a self-contained unit implementing one or more declared
// capabilities. Info must return the same descriptor for the lifetime of the
// instance; Hooks is called once after all plugins are instantiated.
type Plugin interface {
	// Info returns the static descriptor for the plugin.
	Info() Info
	// Hooks returns the lifecycle callbacks the plugin participates in.
	// Nil fields mean the plugin does not register that hook.
	Hooks() Hooks
}

// Model is the artifact produced by the model loading phase and threaded
// through the patcher chain. It describes a checkpoint; no tensor state is
// held here.
type Model struct {
	Name         string
	Architecture string
	// Parameters is the total parameter count reported by the checkpoint.
	Parameters int64
	// Trainable is the parameter count left trainable after patching.
	Trainable int64
	// Adapters lists patches applied by model_patcher hooks, in order.
	Adapters []string
	Metadata map[string]any
}

// Tokenizer is the artifact produced by the tokenizer loading phase.
type Tokenizer struct {
	Name      string
	VocabSize int
	Metadata  map[string]any
}

// Dataset is the artifact produced by the dataset loading phase and threaded
// through the formatter chain.
type Dataset struct {
	Name string
	Rows []map[string]any
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// StepInfo describes one training step reported by the trainer.
type StepInfo struct {
	Step    int64
	Epoch   int
	Metrics map[string]float64
}

// TrainSummary is the payload of a completed trainer hook.
type TrainSummary struct {
	Steps     int64
	Epochs    int
	FinalLoss float64
	Duration  time.Duration
}

// TrainRun carries everything a trainer hook needs. The artifacts are owned
// by the pipeline driver and handed off synchronously; the trainer must not
// retain them past the hook call. Emit reports step progress back to the
// dispatcher, which fans it out to the logging hooks and metric collectors.
type TrainRun struct {
	Model     *Model
	Tokenizer *Tokenizer
	Dataset   *Dataset
	Config    map[string]any
	Emit      func(StepInfo)
}

// Hooks is the closed set of typed lifecycle callbacks. One field per
// pipeline phase, so signatures are checked at compile time instead of
// through a string-keyed callable map.
type Hooks struct {
	// ModelLoader produces the model artifact. Single responder: the first
	// plugin in resolved load order wins.
	ModelLoader func(ctx context.Context, cfg map[string]any) result.Result[*Model]
	// TokenizerLoader produces the tokenizer artifact. Single responder.
	TokenizerLoader func(ctx context.Context, cfg map[string]any, model *Model) result.Result[*Tokenizer]
	// ModelPatcher receives the prior stage's model and returns a possibly
	// modified one. Patchers chain in resolved load order.
	ModelPatcher func(ctx context.Context, model *Model, cfg map[string]any) result.Result[*Model]
	// DatasetLoader produces the dataset artifact. Single responder.
	DatasetLoader func(ctx context.Context, cfgs []map[string]any) result.Result[*Dataset]
	// DatasetFormatter receives the prior stage's dataset and its own
	// configuration block. Formatters chain in resolved load order.
	DatasetFormatter func(ctx context.Context, dataset *Dataset, cfg map[string]any) result.Result[*Dataset]
	// Trainer drives the training loop. Single responder.
	Trainer func(ctx context.Context, run *TrainRun) result.Result[TrainSummary]

	// Fan-out logging hooks: every registered plugin is called in load
	// order; a failure is recorded as a warning and does not halt the run.
	LogInit            func(ctx context.Context, cfg map[string]any) result.Result[result.Unit]
	LogModel           func(info map[string]any) result.Result[result.Unit]
	LogDataset         func(info map[string]any) result.Result[result.Unit]
	LogHyperparameters func(params map[string]any) result.Result[result.Unit]
	LogTrainingStart   func(cfg map[string]any) result.Result[result.Unit]
	LogTrainingEnd     func(summary map[string]any) result.Result[result.Unit]
	LogStep            func(info map[string]any) result.Result[result.Unit]
	LogMetrics         func(values map[string]float64, step int64) result.Result[result.Unit]

	// MetricsCollector returns a collector handle for the metrics registry.
	// Fan-out; a nil payload means the plugin has no collector to offer.
	MetricsCollector func() result.Result[metrics.Collector]
	// Finish releases plugin-owned resources. Runs on success and abort
	// paths alike.
	Finish func() result.Result[result.Unit]
}
