package pipeline

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dumbo/internal/config"
	xerrors "dumbo/internal/errors"
	"dumbo/internal/observability/alerting"
	obsmetrics "dumbo/internal/observability/metrics"
	"dumbo/pkg/metrics"
	"dumbo/pkg/plugin"
)

// Report 汇总一次运行的结果。
type Report struct {
	RunID    string
	Summary  plugin.TrainSummary
	Warnings []plugin.Warning
	Metrics  []obsmetrics.Summary
}

// Runner 按固定阶段顺序驱动一次训练运行。
type Runner struct {
	cfg      *config.Config
	builtins map[string]plugin.Factory
	loader   plugin.Loader
	alerter  alerting.Dispatcher
	logger   *slog.Logger
}

// Option 定义 Runner 的可选配置。
type Option func(*Runner)

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBuiltins 安装内置插件表。
func WithBuiltins(table map[string]plugin.Factory) Option {
	return func(r *Runner) {
		r.builtins = table
	}
}

// WithLoader 覆盖外部插件加载器。
func WithLoader(loader plugin.Loader) Option {
	return func(r *Runner) {
		r.loader = loader
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(r *Runner) {
		r.alerter = dispatcher
	}
}

// NewRunner 构造 Runner。
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run 执行完整的训练流程。致命阶段失败立即中止并返回错误；
// 日志与指标阶段的失败只记入警告。无论成败，finish 阶段都会执行。
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.cfg == nil {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "运行配置为空")
	}

	runID := uuid.NewString()
	logger := r.logger.With(slog.String("run_id", runID))

	settings := plugin.Settings{
		Plugins:   r.cfg.Plugins,
		PluginDir: r.cfg.PluginDir,
		Model:     r.cfg.Model,
		Datasets:  r.cfg.Datasets,
		Blocks:    r.cfg.Blocks,
	}

	regOpts := []plugin.Option{
		plugin.WithBuiltins(r.builtins),
		plugin.WithLogger(logger),
	}
	if r.loader != nil {
		regOpts = append(regOpts, plugin.WithLoader(r.loader))
	}
	registry, err := plugin.NewRegistry(settings, regOpts...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePluginNotFound, err, "插件注册失败")
	}

	ordered, err := registry.Resolve()
	if err != nil {
		return nil, xerrors.Wrap(resolveErrorCode(err), err, "插件依赖解析失败")
	}
	names := make([]string, 0, len(ordered))
	for _, inst := range ordered {
		names = append(names, inst.Info.Name)
	}
	logger.Info("插件加载顺序已确定", slog.Any("order", names))

	aggregator := obsmetrics.NewAggregator()
	dispatcher := plugin.NewDispatcher(ordered, settings,
		plugin.WithDispatcherLogger(logger),
		plugin.WithWarningHandler(func(w plugin.Warning) {
			r.emitAlert(ctx, runID, w)
		}),
	)

	collectors := metrics.NewRegistry(logger)
	report := &Report{RunID: runID}

	// finish 与指标后端的收尾在任何返回路径上都要执行。
	defer func() {
		dispatcher.Finish()
		if err := collectors.Finalize(); err != nil {
			logger.Warn("指标后端收尾失败", slog.Any("error", err))
		}
		report.Warnings = dispatcher.Warnings()
		report.Metrics = aggregator.Snapshot()
	}()

	dispatcher.LogInit(ctx)
	for _, collector := range dispatcher.Collectors() {
		collectors.Register(collector)
	}

	model, err := r.loadModel(ctx, dispatcher, logger)
	if err != nil {
		return report, err
	}
	tokenizer, err := r.loadTokenizer(ctx, dispatcher, model, logger)
	if err != nil {
		return report, err
	}
	if model != nil {
		res := dispatcher.PatchModel(ctx, model)
		if res.IsErr() {
			return report, xerrors.Wrap(xerrors.CodeHookFailure, res.Err(), "模型补丁阶段失败")
		}
		model = res.Unwrap()
		info := modelInfo(model)
		dispatcher.LogModel(info)
		collectors.LogModelInfo(info)
	}

	dataset, err := r.loadDataset(ctx, dispatcher, logger)
	if err != nil {
		return report, err
	}
	if dataset != nil {
		dispatcher.LogDataset(map[string]any{
			"name": dataset.Name,
			"rows": dataset.Len(),
		})
	}

	hparams := r.hyperparameters()
	dispatcher.LogHyperparameters(hparams)
	collectors.LogHyperparameters(hparams)

	summary, err := r.train(ctx, dispatcher, collectors, aggregator, model, tokenizer, dataset)
	if err != nil {
		return report, err
	}
	report.Summary = summary

	logger.Info("训练运行完成",
		slog.Int64("steps", summary.Steps),
		slog.Float64("final_loss", summary.FinalLoss),
		slog.Duration("duration", summary.Duration),
	)
	return report, nil
}

func (r *Runner) loadModel(ctx context.Context, d *plugin.Dispatcher, logger *slog.Logger) (*plugin.Model, error) {
	res := d.LoadModel(ctx)
	if res.IsErr() {
		return nil, xerrors.Wrap(xerrors.CodeHookFailure, res.Err(), "模型加载阶段失败")
	}
	model := res.Unwrap()
	if model == nil {
		logger.Info("未注册模型加载插件，跳过模型阶段")
		return nil, nil
	}
	logger.Info("模型已加载",
		slog.String("model", model.Name),
		slog.Int64("parameters", model.Parameters),
	)
	return model, nil
}

func (r *Runner) loadTokenizer(ctx context.Context, d *plugin.Dispatcher, model *plugin.Model, logger *slog.Logger) (*plugin.Tokenizer, error) {
	res := d.LoadTokenizer(ctx, model)
	if res.IsErr() {
		return nil, xerrors.Wrap(xerrors.CodeHookFailure, res.Err(), "分词器加载阶段失败")
	}
	tokenizer := res.Unwrap()
	if tokenizer != nil {
		logger.Info("分词器已加载",
			slog.String("tokenizer", tokenizer.Name),
			slog.Int("vocab_size", tokenizer.VocabSize),
		)
	}
	return tokenizer, nil
}

func (r *Runner) loadDataset(ctx context.Context, d *plugin.Dispatcher, logger *slog.Logger) (*plugin.Dataset, error) {
	res := d.LoadDataset(ctx)
	if res.IsErr() {
		return nil, xerrors.Wrap(xerrors.CodeHookFailure, res.Err(), "数据集加载阶段失败")
	}
	dataset := res.Unwrap()
	if dataset == nil {
		if d.HasTrainer() {
			logger.Info("未注册数据集加载插件，跳过数据阶段")
		}
		return nil, nil
	}

	formatted := d.FormatDataset(ctx, dataset)
	if formatted.IsErr() {
		return nil, xerrors.Wrap(xerrors.CodeHookFailure, formatted.Err(), "数据集格式化阶段失败")
	}
	dataset = formatted.Unwrap()
	logger.Info("数据集已就绪", slog.String("dataset", dataset.Name), slog.Int("rows", dataset.Len()))
	return dataset, nil
}

func (r *Runner) train(
	ctx context.Context,
	d *plugin.Dispatcher,
	collectors *metrics.Registry,
	aggregator *obsmetrics.Aggregator,
	model *plugin.Model,
	tokenizer *plugin.Tokenizer,
	dataset *plugin.Dataset,
) (plugin.TrainSummary, error) {
	if !d.HasTrainer() {
		return plugin.TrainSummary{}, xerrors.New(xerrors.CodeCapabilityMissing, "没有插件注册 trainer 钩子")
	}

	d.LogTrainingStart(r.hyperparameters())

	run := &plugin.TrainRun{
		Model:     model,
		Tokenizer: tokenizer,
		Dataset:   dataset,
		Emit: func(step plugin.StepInfo) {
			d.LogStep(map[string]any{
				"step":  step.Step,
				"epoch": step.Epoch,
			})
			if len(step.Metrics) == 0 {
				return
			}
			d.LogMetrics(step.Metrics, step.Step)

			events := make([]metrics.Event, 0, len(step.Metrics))
			now := time.Now()
			for name, value := range step.Metrics {
				aggregator.Observe(name, value)
				events = append(events, metrics.Event{
					Name:      name,
					Value:     value,
					Step:      step.Step,
					Timestamp: now,
				})
			}
			collectors.LogMetrics(events)
		},
	}

	res := d.Train(ctx, run)
	if res.IsErr() {
		return plugin.TrainSummary{}, xerrors.Wrap(xerrors.CodeHookFailure, res.Err(), "训练阶段失败")
	}
	summary := res.Unwrap()

	d.LogTrainingEnd(map[string]any{
		"steps":      summary.Steps,
		"epochs":     summary.Epochs,
		"final_loss": summary.FinalLoss,
		"duration":   summary.Duration.String(),
	})
	return summary, nil
}

// hyperparameters 返回训练超参数视图：trainer 插件的配置块加上模型配置。
func (r *Runner) hyperparameters() map[string]any {
	out := make(map[string]any)
	for key, value := range r.cfg.Model {
		out["model."+key] = value
	}
	for key, block := range r.cfg.Blocks {
		for name, value := range block {
			out[key+"."+name] = value
		}
	}
	return out
}

func (r *Runner) emitAlert(ctx context.Context, runID string, w plugin.Warning) {
	if r.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:     xerrors.CodeLoggingFailure,
		Message:  w.Err.Error(),
		Severity: xerrors.SeverityWarning,
		RunID:    runID,
		Plugin:   w.Plugin,
		Hook:     w.Hook,
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.logger.Warn("告警派发失败", slog.Any("error", err))
	}
}

// resolveErrorCode 将解析错误映射到对应的错误码。
func resolveErrorCode(err error) xerrors.Code {
	var conflict *plugin.ConflictError
	if stdErrors.As(err, &conflict) {
		return xerrors.CodeCapabilityConflict
	}
	var cycle *plugin.CycleError
	if stdErrors.As(err, &cycle) {
		return xerrors.CodeDependencyCycle
	}
	return xerrors.CodeCapabilityMissing
}

func modelInfo(model *plugin.Model) map[string]any {
	info := map[string]any{
		"name":         model.Name,
		"architecture": model.Architecture,
		"parameters":   model.Parameters,
		"trainable":    model.Trainable,
	}
	if len(model.Adapters) > 0 {
		info["adapters"] = model.Adapters
	}
	return info
}
