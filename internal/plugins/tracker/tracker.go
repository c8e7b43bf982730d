// Package tracker 提供实验追踪插件：把运行与指标写入运行仓库。
// driver 为 journal 时使用本地文件日志仓库，为 mysql 时连接真实数据库。
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dumbo/internal/storage/mysql"
	"dumbo/pkg/metrics"
	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

type options struct {
	// Driver 取值 journal 或 mysql，默认 journal。
	Driver string `yaml:"driver"`
	// DataDir 是 journal 仓库的数据目录。
	DataDir string `yaml:"data_dir"`
	// DSN 是 mysql 仓库的连接串。
	DSN string `yaml:"dsn"`
	// RunName 是运行的展示名称。
	RunName string `yaml:"run_name"`
}

// Plugin 实现实验追踪。
type Plugin struct {
	mu      sync.Mutex
	repo    mysql.RunRepository
	runID   string
	summary map[string]any
}

// New 创建 tracker 插件实例。
func New() *Plugin { return &Plugin{} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "tracker",
		Description: "persists runs and metric series to the experiment store",
		Version:     "1.0.0",
		ConfigKey:   "tracker",
		Provides: []plugin.Capability{
			plugin.CapabilityLogging,
			plugin.CapabilityMetricsCollector,
		},
	}
}

// Hooks 注册追踪钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{
		LogInit:          p.init,
		LogTrainingEnd:   p.trainingEnd,
		MetricsCollector: p.collector,
		Finish:           p.finish,
	}
}

func (p *Plugin) init(ctx context.Context, cfg map[string]any) result.Result[result.Unit] {
	opts := options{Driver: "journal", DataDir: "runs"}
	if err := plugin.DecodeBlock(cfg, &opts); err != nil {
		return result.Err[result.Unit](fmt.Errorf("解析 tracker 配置失败: %w", err))
	}

	var (
		repo mysql.RunRepository
		err  error
	)
	switch opts.Driver {
	case "journal", "":
		repo, err = mysql.NewJournalRunRepository(opts.DataDir)
	case "mysql":
		repo, err = mysql.NewSQLRunRepository(ctx, mysql.Config{DSN: opts.DSN})
	default:
		err = fmt.Errorf("%w: %s", mysql.ErrUnsupportedDriver, opts.Driver)
	}
	if err != nil {
		return result.Err[result.Unit](err)
	}

	runID := uuid.NewString()
	record := mysql.RunRecord{
		RunID:     runID,
		Name:      opts.RunName,
		Status:    mysql.RunStatusRunning,
		StartedAt: time.Now().Unix(),
	}
	if err := repo.CreateRun(ctx, record); err != nil {
		repo.Close()
		return result.Err[result.Unit](err)
	}

	p.mu.Lock()
	p.repo = repo
	p.runID = runID
	p.mu.Unlock()
	return result.Done()
}

func (p *Plugin) trainingEnd(summary map[string]any) result.Result[result.Unit] {
	p.mu.Lock()
	p.summary = summary
	p.mu.Unlock()
	return result.Done()
}

func (p *Plugin) collector() result.Result[metrics.Collector] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.repo == nil {
		// log_init 失败时不提供指标后端。
		return result.Ok[metrics.Collector](nil)
	}
	return result.Ok[metrics.Collector](&storeCollector{plugin: p})
}

func (p *Plugin) finish() result.Result[result.Unit] {
	p.mu.Lock()
	repo := p.repo
	runID := p.runID
	summary := p.summary
	p.repo = nil
	p.mu.Unlock()

	if repo == nil {
		return result.Done()
	}
	defer repo.Close()

	status := mysql.RunStatusFinished
	if summary == nil {
		status = mysql.RunStatusFailed
	}
	encoded := ""
	if summary != nil {
		if raw, err := json.Marshal(summary); err == nil {
			encoded = string(raw)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.FinishRun(ctx, runID, status, encoded, time.Now().Unix()); err != nil {
		return result.Err[result.Unit](err)
	}
	return result.Done()
}

func (p *Plugin) appendMetrics(records []mysql.MetricRecord) error {
	p.mu.Lock()
	repo := p.repo
	p.mu.Unlock()
	if repo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return repo.AppendMetrics(ctx, records)
}

// storeCollector 把指标事件转换为仓库记录。
type storeCollector struct {
	plugin *Plugin
}

func (c *storeCollector) LogMetric(event metrics.Event) error {
	return c.LogMetrics([]metrics.Event{event})
}

func (c *storeCollector) LogMetrics(events []metrics.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]mysql.MetricRecord, 0, len(events))
	for _, event := range events {
		at := event.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		records = append(records, mysql.MetricRecord{
			RunID:    c.plugin.runID,
			Name:     event.Name,
			Value:    event.Value,
			Step:     event.Step,
			LoggedAt: at.Unix(),
		})
	}
	return c.plugin.appendMetrics(records)
}

func (c *storeCollector) LogHyperparameters(map[string]any) error { return nil }

func (c *storeCollector) LogModelInfo(map[string]any) error { return nil }

func (c *storeCollector) Finalize() error { return nil }
