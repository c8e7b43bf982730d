// Package filelog 提供本地文件日志插件：把运行事件以 JSON 行追加到
// 日志文件，并通过 metrics_collector 钩子暴露一个写同一文件的指标后端。
package filelog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dumbo/pkg/metrics"
	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

type options struct {
	// Path 是事件日志文件路径，默认 runs/events.log。
	Path string `yaml:"path"`
	// LogSteps 为 false 时跳过逐步进度记录，只保留阶段事件。
	LogSteps *bool `yaml:"log_steps"`
}

// Plugin 实现文件日志。
type Plugin struct {
	mu       sync.Mutex
	file     *os.File
	logSteps bool
}

// New 创建 filelog 插件实例。
func New() *Plugin { return &Plugin{logSteps: true} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "filelog",
		Description: "appends run events and metrics to a local JSONL file",
		Version:     "1.0.0",
		ConfigKey:   "filelog",
		Provides: []plugin.Capability{
			plugin.CapabilityLogging,
			plugin.CapabilityMetricsCollector,
		},
	}
}

// Hooks 注册日志与指标钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{
		LogInit:            p.init,
		LogModel:           p.eventHook("model"),
		LogDataset:         p.eventHook("dataset"),
		LogHyperparameters: p.eventHook("hyperparameters"),
		LogTrainingStart:   p.eventHook("training_start"),
		LogTrainingEnd:     p.eventHook("training_end"),
		LogStep:            p.stepHook(),
		MetricsCollector:   p.collector,
		Finish:             p.finish,
	}
}

func (p *Plugin) init(_ context.Context, cfg map[string]any) result.Result[result.Unit] {
	var opts options
	if err := plugin.DecodeBlock(cfg, &opts); err != nil {
		return result.Err[result.Unit](fmt.Errorf("解析 filelog 配置失败: %w", err))
	}
	path := opts.Path
	if path == "" {
		path = filepath.Join("runs", "events.log")
	}
	if opts.LogSteps != nil {
		p.logSteps = *opts.LogSteps
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return result.Err[result.Unit](fmt.Errorf("创建日志目录失败: %w", err))
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return result.Err[result.Unit](fmt.Errorf("打开事件日志失败: %w", err))
	}

	p.mu.Lock()
	p.file = file
	p.mu.Unlock()
	return result.Done()
}

func (p *Plugin) eventHook(event string) func(map[string]any) result.Result[result.Unit] {
	return func(payload map[string]any) result.Result[result.Unit] {
		if err := p.append(map[string]any{
			"event":   event,
			"payload": payload,
			"at":      time.Now().Unix(),
		}); err != nil {
			return result.Err[result.Unit](err)
		}
		return result.Done()
	}
}

func (p *Plugin) stepHook() func(map[string]any) result.Result[result.Unit] {
	return func(payload map[string]any) result.Result[result.Unit] {
		if !p.logSteps {
			return result.Done()
		}
		if err := p.append(map[string]any{
			"event":   "step",
			"payload": payload,
			"at":      time.Now().Unix(),
		}); err != nil {
			return result.Err[result.Unit](err)
		}
		return result.Done()
	}
}

func (p *Plugin) collector() result.Result[metrics.Collector] {
	return result.Ok[metrics.Collector](&fileCollector{plugin: p})
}

func (p *Plugin) finish() result.Result[result.Unit] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return result.Done()
	}
	err := p.file.Close()
	p.file = nil
	if err != nil {
		return result.Err[result.Unit](fmt.Errorf("关闭事件日志失败: %w", err))
	}
	return result.Done()
}

func (p *Plugin) append(record map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		// log_init 失败或未执行时降级为空操作。
		return nil
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if _, err := p.file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入事件日志失败: %w", err)
	}
	return nil
}

// fileCollector 把指标事件写入与阶段事件相同的日志文件。
type fileCollector struct {
	plugin *Plugin
}

func (c *fileCollector) LogMetric(event metrics.Event) error {
	return c.plugin.append(map[string]any{"event": "metric", "payload": event})
}

func (c *fileCollector) LogMetrics(events []metrics.Event) error {
	for _, event := range events {
		if err := c.LogMetric(event); err != nil {
			return err
		}
	}
	return nil
}

func (c *fileCollector) LogHyperparameters(params map[string]any) error {
	return c.plugin.append(map[string]any{"event": "collector_hyperparameters", "payload": params})
}

func (c *fileCollector) LogModelInfo(info map[string]any) error {
	return c.plugin.append(map[string]any{"event": "collector_model_info", "payload": info})
}

func (c *fileCollector) Finalize() error { return nil }
