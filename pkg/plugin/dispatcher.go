package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"dumbo/pkg/metrics"
	"dumbo/pkg/result"
)

// HookError is the error descriptor carried by a failed hook result: which
// plugin failed, in which hook, and the original condition.
type HookError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s hook %s: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Warning records a non-fatal hook failure surfaced during a fan-out phase.
type Warning struct {
	Plugin string
	Hook   string
	Err    error
}

// entry is one plugin's registration for a hook, in resolved load order.
type entry[F any] struct {
	name string
	fn   F
}

// hookTable aggregates every plugin's typed hook registrations. Built once
// after all plugins are instantiated; read-only during dispatch.
type hookTable struct {
	modelLoaders     []entry[func(context.Context, map[string]any) result.Result[*Model]]
	tokenizerLoaders []entry[func(context.Context, map[string]any, *Model) result.Result[*Tokenizer]]
	modelPatchers    []entry[func(context.Context, *Model, map[string]any) result.Result[*Model]]
	datasetLoaders   []entry[func(context.Context, []map[string]any) result.Result[*Dataset]]
	formatters       []entry[func(context.Context, *Dataset, map[string]any) result.Result[*Dataset]]
	trainers         []entry[func(context.Context, *TrainRun) result.Result[TrainSummary]]

	logInit      []entry[func(context.Context, map[string]any) result.Result[result.Unit]]
	logModel     []entry[func(map[string]any) result.Result[result.Unit]]
	logDataset   []entry[func(map[string]any) result.Result[result.Unit]]
	logHparams   []entry[func(map[string]any) result.Result[result.Unit]]
	logTrainBeg  []entry[func(map[string]any) result.Result[result.Unit]]
	logTrainEnd  []entry[func(map[string]any) result.Result[result.Unit]]
	logStep      []entry[func(map[string]any) result.Result[result.Unit]]
	logMetrics   []entry[func(map[string]float64, int64) result.Result[result.Unit]]
	collectors   []entry[func() result.Result[metrics.Collector]]
	finishers    []entry[func() result.Result[result.Unit]]
	configKeyFor map[string]string
}

// Dispatcher invokes the hooks for each pipeline phase, respecting the
// resolved plugin order. Single-responder phases take the first registration
// in load order; chained phases thread the artifact through every
// registration; fan-out phases call everyone and collect failures as
// warnings.
type Dispatcher struct {
	settings Settings
	table    hookTable
	logger   *slog.Logger

	mu        sync.Mutex
	warnings  []Warning
	onWarning func(Warning)
}

// DispatcherOption modifies dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithWarningHandler registers a callback invoked for every non-fatal hook
// failure, in addition to the internal record.
func WithWarningHandler(fn func(Warning)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onWarning = fn
	}
}

// NewDispatcher builds the hook table from plugins already placed in
// resolved load order.
func NewDispatcher(ordered []*Instance, settings Settings, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		settings: settings,
		logger:   slog.Default(),
	}
	d.table.configKeyFor = make(map[string]string, len(ordered))
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	for _, inst := range ordered {
		name := inst.Info.Name
		h := inst.Hooks
		d.table.configKeyFor[name] = inst.Info.ConfigKey
		if h.ModelLoader != nil {
			d.table.modelLoaders = append(d.table.modelLoaders, entry[func(context.Context, map[string]any) result.Result[*Model]]{name, h.ModelLoader})
		}
		if h.TokenizerLoader != nil {
			d.table.tokenizerLoaders = append(d.table.tokenizerLoaders, entry[func(context.Context, map[string]any, *Model) result.Result[*Tokenizer]]{name, h.TokenizerLoader})
		}
		if h.ModelPatcher != nil {
			d.table.modelPatchers = append(d.table.modelPatchers, entry[func(context.Context, *Model, map[string]any) result.Result[*Model]]{name, h.ModelPatcher})
		}
		if h.DatasetLoader != nil {
			d.table.datasetLoaders = append(d.table.datasetLoaders, entry[func(context.Context, []map[string]any) result.Result[*Dataset]]{name, h.DatasetLoader})
		}
		if h.DatasetFormatter != nil {
			d.table.formatters = append(d.table.formatters, entry[func(context.Context, *Dataset, map[string]any) result.Result[*Dataset]]{name, h.DatasetFormatter})
		}
		if h.Trainer != nil {
			d.table.trainers = append(d.table.trainers, entry[func(context.Context, *TrainRun) result.Result[TrainSummary]]{name, h.Trainer})
		}
		if h.LogInit != nil {
			d.table.logInit = append(d.table.logInit, entry[func(context.Context, map[string]any) result.Result[result.Unit]]{name, h.LogInit})
		}
		if h.LogModel != nil {
			d.table.logModel = append(d.table.logModel, entry[func(map[string]any) result.Result[result.Unit]]{name, h.LogModel})
		}
		if h.LogDataset != nil {
			d.table.logDataset = append(d.table.logDataset, entry[func(map[string]any) result.Result[result.Unit]]{name, h.LogDataset})
		}
		if h.LogHyperparameters != nil {
			d.table.logHparams = append(d.table.logHparams, entry[func(map[string]any) result.Result[result.Unit]]{name, h.LogHyperparameters})
		}
		if h.LogTrainingStart != nil {
			d.table.logTrainBeg = append(d.table.logTrainBeg, entry[func(map[string]any) result.Result[result.Unit]]{name, h.LogTrainingStart})
		}
		if h.LogTrainingEnd != nil {
			d.table.logTrainEnd = append(d.table.logTrainEnd, entry[func(map[string]any) result.Result[result.Unit]]{name, h.LogTrainingEnd})
		}
		if h.LogStep != nil {
			d.table.logStep = append(d.table.logStep, entry[func(map[string]any) result.Result[result.Unit]]{name, h.LogStep})
		}
		if h.LogMetrics != nil {
			d.table.logMetrics = append(d.table.logMetrics, entry[func(map[string]float64, int64) result.Result[result.Unit]]{name, h.LogMetrics})
		}
		if h.MetricsCollector != nil {
			d.table.collectors = append(d.table.collectors, entry[func() result.Result[metrics.Collector]]{name, h.MetricsCollector})
		}
		if h.Finish != nil {
			d.table.finishers = append(d.table.finishers, entry[func() result.Result[result.Unit]]{name, h.Finish})
		}
	}
	return d
}

// invoke runs a hook function with panic containment and tags failures with
// the plugin and hook name.
func invoke[T any](plugin, hook string, fn func() result.Result[T]) result.Result[T] {
	res := result.Capture(func() (T, error) {
		return fn().Get()
	})
	if err := res.Err(); err != nil {
		return result.Err[T](&HookError{Plugin: plugin, Hook: hook, Err: err})
	}
	return res
}

func (d *Dispatcher) warn(plugin, hook string, err error) {
	w := Warning{Plugin: plugin, Hook: hook, Err: err}
	d.mu.Lock()
	d.warnings = append(d.warnings, w)
	d.mu.Unlock()
	d.logger.Warn("hook failed", "plugin", plugin, "hook", hook, "error", err)
	if d.onWarning != nil {
		d.onWarning(w)
	}
}

// Warnings returns the non-fatal failures recorded so far.
func (d *Dispatcher) Warnings() []Warning {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Warning, len(d.warnings))
	copy(out, d.warnings)
	return out
}

// skipExtras reports duplicate single-responder registrations as warnings.
// The first plugin in resolved load order wins.
func (d *Dispatcher) skipExtras(hook string, names []string) {
	for _, name := range names {
		d.warn(name, hook, fmt.Errorf("duplicate responder, %s already handled by an earlier plugin", hook))
	}
}

// HasModelLoader reports whether any plugin registered a model loader.
func (d *Dispatcher) HasModelLoader() bool { return len(d.table.modelLoaders) > 0 }

// HasDatasetLoader reports whether any plugin registered a dataset loader.
func (d *Dispatcher) HasDatasetLoader() bool { return len(d.table.datasetLoaders) > 0 }

// HasTrainer reports whether any plugin registered a trainer.
func (d *Dispatcher) HasTrainer() bool { return len(d.table.trainers) > 0 }

// LoadModel runs the model_loader phase. Exactly one plugin may produce the
// model artifact; extras are skipped with a warning.
func (d *Dispatcher) LoadModel(ctx context.Context) result.Result[*Model] {
	if len(d.table.modelLoaders) == 0 {
		return result.Ok[*Model](nil)
	}
	first := d.table.modelLoaders[0]
	var extras []string
	for _, e := range d.table.modelLoaders[1:] {
		extras = append(extras, e.name)
	}
	d.skipExtras("model_loader", extras)
	cfg := d.settings.Model
	return invoke(first.name, "model_loader", func() result.Result[*Model] {
		return first.fn(ctx, cfg)
	})
}

// LoadTokenizer runs the tokenizer_loader phase. Single responder.
func (d *Dispatcher) LoadTokenizer(ctx context.Context, model *Model) result.Result[*Tokenizer] {
	if len(d.table.tokenizerLoaders) == 0 {
		return result.Ok[*Tokenizer](nil)
	}
	first := d.table.tokenizerLoaders[0]
	var extras []string
	for _, e := range d.table.tokenizerLoaders[1:] {
		extras = append(extras, e.name)
	}
	d.skipExtras("tokenizer_loader", extras)
	cfg := d.settings.Model
	return invoke(first.name, "tokenizer_loader", func() result.Result[*Tokenizer] {
		return first.fn(ctx, cfg, model)
	})
}

// PatchModel chains every model_patcher in load order. Each patcher receives
// the prior stage's model and its own configuration block. The first failure
// halts the chain.
func (d *Dispatcher) PatchModel(ctx context.Context, model *Model) result.Result[*Model] {
	current := model
	for _, e := range d.table.modelPatchers {
		cfg := d.settings.Block(d.table.configKeyFor[e.name])
		res := invoke(e.name, "model_patcher", func() result.Result[*Model] {
			return e.fn(ctx, current, cfg)
		})
		if res.IsErr() {
			return res
		}
		current = res.Unwrap()
	}
	return result.Ok(current)
}

// LoadDataset runs the dataset loading phase. Single responder.
func (d *Dispatcher) LoadDataset(ctx context.Context) result.Result[*Dataset] {
	if len(d.table.datasetLoaders) == 0 {
		return result.Ok[*Dataset](nil)
	}
	first := d.table.datasetLoaders[0]
	var extras []string
	for _, e := range d.table.datasetLoaders[1:] {
		extras = append(extras, e.name)
	}
	d.skipExtras("dataset_loader", extras)
	cfgs := d.settings.Datasets
	return invoke(first.name, "dataset_loader", func() result.Result[*Dataset] {
		return first.fn(ctx, cfgs)
	})
}

// FormatDataset chains every dataset formatter in load order. Each formatter
// receives the prior stage's dataset and its own configuration block.
func (d *Dispatcher) FormatDataset(ctx context.Context, dataset *Dataset) result.Result[*Dataset] {
	current := dataset
	for _, e := range d.table.formatters {
		cfg := d.settings.Block(d.table.configKeyFor[e.name])
		res := invoke(e.name, "dataset_formatter", func() result.Result[*Dataset] {
			return e.fn(ctx, current, cfg)
		})
		if res.IsErr() {
			return res
		}
		current = res.Unwrap()
	}
	return result.Ok(current)
}

// Train runs the trainer phase. Single responder. The dispatcher fills in
// the trainer's configuration block before dispatch.
func (d *Dispatcher) Train(ctx context.Context, run *TrainRun) result.Result[TrainSummary] {
	if len(d.table.trainers) == 0 {
		return result.Err[TrainSummary](&HookError{Hook: "trainer", Err: fmt.Errorf("no plugin registered a trainer hook")})
	}
	first := d.table.trainers[0]
	var extras []string
	for _, e := range d.table.trainers[1:] {
		extras = append(extras, e.name)
	}
	d.skipExtras("trainer", extras)
	if run.Config == nil {
		run.Config = d.settings.Block(d.table.configKeyFor[first.name])
	}
	return invoke(first.name, "trainer", func() result.Result[TrainSummary] {
		return first.fn(ctx, run)
	})
}

// LogInit fans out to every logging plugin with its own configuration block.
func (d *Dispatcher) LogInit(ctx context.Context) {
	for _, e := range d.table.logInit {
		cfg := d.settings.Block(d.table.configKeyFor[e.name])
		res := invoke(e.name, "log_init", func() result.Result[result.Unit] {
			return e.fn(ctx, cfg)
		})
		if err := res.Err(); err != nil {
			d.warn(e.name, "log_init", err)
		}
	}
}

func (d *Dispatcher) fanout(hook string, entries []entry[func(map[string]any) result.Result[result.Unit]], payload map[string]any) {
	for _, e := range entries {
		res := invoke(e.name, hook, func() result.Result[result.Unit] {
			return e.fn(payload)
		})
		if err := res.Err(); err != nil {
			d.warn(e.name, hook, err)
		}
	}
}

// LogModel fans out model metadata.
func (d *Dispatcher) LogModel(info map[string]any) {
	d.fanout("log_model", d.table.logModel, info)
}

// LogDataset fans out dataset metadata.
func (d *Dispatcher) LogDataset(info map[string]any) {
	d.fanout("log_dataset", d.table.logDataset, info)
}

// LogHyperparameters fans out the run hyperparameters.
func (d *Dispatcher) LogHyperparameters(params map[string]any) {
	d.fanout("log_hyperparameters", d.table.logHparams, params)
}

// LogTrainingStart fans out the training-start notification.
func (d *Dispatcher) LogTrainingStart(cfg map[string]any) {
	d.fanout("log_training_start", d.table.logTrainBeg, cfg)
}

// LogTrainingEnd fans out the training summary.
func (d *Dispatcher) LogTrainingEnd(summary map[string]any) {
	d.fanout("log_training_end", d.table.logTrainEnd, summary)
}

// LogStep fans out per-step progress.
func (d *Dispatcher) LogStep(info map[string]any) {
	d.fanout("log_step", d.table.logStep, info)
}

// LogMetrics fans out a metrics mapping for one step. A single hook's
// failure is recorded but does not prevent the remaining hooks from running.
func (d *Dispatcher) LogMetrics(values map[string]float64, step int64) {
	for _, e := range d.table.logMetrics {
		res := invoke(e.name, "log_metrics", func() result.Result[result.Unit] {
			return e.fn(values, step)
		})
		if err := res.Err(); err != nil {
			d.warn(e.name, "log_metrics", err)
		}
	}
}

// Collectors gathers the metric collector handles offered by plugins.
// Failures are recorded as warnings and skipped; a nil handle means the
// plugin has nothing to offer and is skipped silently.
func (d *Dispatcher) Collectors() []metrics.Collector {
	var out []metrics.Collector
	for _, e := range d.table.collectors {
		res := invoke(e.name, "metrics_collector", func() result.Result[metrics.Collector] {
			return e.fn()
		})
		if err := res.Err(); err != nil {
			d.warn(e.name, "metrics_collector", err)
			continue
		}
		if collector := res.Unwrap(); collector != nil {
			out = append(out, collector)
		}
	}
	return out
}

// Finish fans out cleanup to every plugin. Runs on success and abort paths;
// failures are recorded as warnings so one plugin cannot block another's
// cleanup.
func (d *Dispatcher) Finish() {
	for _, e := range d.table.finishers {
		res := invoke(e.name, "finish", func() result.Result[result.Unit] {
			return e.fn()
		})
		if err := res.Err(); err != nil {
			d.warn(e.name, "finish", err)
		}
	}
}
