package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"dumbo/internal/config"
	"dumbo/internal/observability/alerting"
	"dumbo/internal/pipeline"
	"dumbo/internal/plugins"
	"dumbo/pkg/logger"
)

// main 是 dumbo 训练编排器的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "dumbo 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("dumbo", flag.ContinueOnError)
	configPath := flags.String("config", "", "运行配置文件路径")
	alertLog := flags.String("alert-log", "", "非致命失败的告警日志路径")
	if err := flags.Parse(args); err != nil {
		return err
	}

	path := *configPath
	if path == "" && flags.NArg() > 0 {
		path = flags.Arg(0)
	}
	if path == "" {
		path = os.Getenv("DUMBO_CONFIG")
	}
	if path == "" {
		path = filepath.Join("configs", "dumbo.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("pipeline")

	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: log}}
	if *alertLog != "" {
		file, err := os.OpenFile(*alertLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("打开告警日志失败: %w", err)
		}
		defer file.Close()
		notifiers = append(notifiers, alerting.NewJournalNotifier(file))
	}

	runner := pipeline.NewRunner(cfg,
		pipeline.WithBuiltins(plugins.Builtins()),
		pipeline.WithLogger(log),
		pipeline.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)

	report, err := runner.Run(ctx)
	if report != nil && len(report.Warnings) > 0 {
		log.Warn("运行结束时存在未决警告", slog.Int("count", len(report.Warnings)))
	}
	if err != nil {
		return err
	}

	for _, summary := range report.Metrics {
		log.Info("指标汇总",
			slog.String("metric", summary.Name),
			slog.Float64("mean", summary.Mean),
			slog.Float64("min", summary.Min),
			slog.Float64("max", summary.Max),
			slog.Float64("last", summary.Last),
		)
	}
	return nil
}
