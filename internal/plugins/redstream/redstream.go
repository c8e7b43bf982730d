// Package redstream 提供 Redis 指标发布插件：把每步指标以 XADD 追加到
// Redis stream，供外部面板实时消费。连接失败只降级为警告，不影响训练。
package redstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

type options struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Stream 是指标写入的 stream 键，默认 dumbo:metrics。
	Stream string `yaml:"stream"`
	// MaxLen 限制 stream 的近似长度，0 表示不限制。
	MaxLen int64 `yaml:"max_len"`
}

// Plugin 实现 Redis 指标发布。
type Plugin struct {
	mu     sync.Mutex
	client *redis.Client
	stream string
	maxLen int64
}

// New 创建 redstream 插件实例。
func New() *Plugin { return &Plugin{} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "redstream",
		Description: "publishes per-step metrics to a Redis stream",
		Version:     "1.0.0",
		ConfigKey:   "redstream",
		Provides:    []plugin.Capability{plugin.CapabilityLogging},
	}
}

// Hooks 注册指标发布钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{
		LogInit:    p.init,
		LogMetrics: p.publish,
		Finish:     p.finish,
	}
}

func (p *Plugin) init(ctx context.Context, cfg map[string]any) result.Result[result.Unit] {
	var opts options
	if err := plugin.DecodeBlock(cfg, &opts); err != nil {
		return result.Err[result.Unit](fmt.Errorf("解析 redstream 配置失败: %w", err))
	}
	if opts.Address == "" {
		return result.Err[result.Unit](errors.New("Redis address 不能为空"))
	}
	stream := opts.Stream
	if stream == "" {
		stream = "dumbo:metrics"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return result.Err[result.Unit](fmt.Errorf("连接 Redis 失败: %w", err))
	}

	p.mu.Lock()
	p.client = client
	p.stream = stream
	p.maxLen = opts.MaxLen
	p.mu.Unlock()
	return result.Done()
}

func (p *Plugin) publish(values map[string]float64, step int64) result.Result[result.Unit] {
	p.mu.Lock()
	client := p.client
	stream := p.stream
	maxLen := p.maxLen
	p.mu.Unlock()
	if client == nil {
		return result.Done()
	}

	fields := make(map[string]any, len(values)+1)
	fields["step"] = strconv.FormatInt(step, 10)
	for name, value := range values {
		fields[name] = strconv.FormatFloat(value, 'g', -1, 64)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	args := &redis.XAddArgs{Stream: stream, Values: fields}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	if err := client.XAdd(ctx, args).Err(); err != nil {
		return result.Err[result.Unit](fmt.Errorf("Redis 发布指标失败: %w", err))
	}
	return result.Done()
}

func (p *Plugin) finish() result.Result[result.Unit] {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client == nil {
		return result.Done()
	}
	if err := client.Close(); err != nil {
		return result.Err[result.Unit](fmt.Errorf("关闭 Redis 连接失败: %w", err))
	}
	return result.Done()
}
