// Package eventbus 提供 RabbitMQ 事件发布插件：把运行的生命周期事件
// 发布到消息队列，供下游系统（通知、归档）订阅。
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"dumbo/pkg/plugin"
	"dumbo/pkg/result"
)

type options struct {
	URL string `yaml:"url"`
	// Queue 是事件投递的队列名，默认 dumbo.events。
	Queue      string `yaml:"queue"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// Plugin 实现 RabbitMQ 事件发布。
type Plugin struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// New 创建 eventbus 插件实例。
func New() *Plugin { return &Plugin{} }

// Info 返回插件描述符。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		Name:        "eventbus",
		Description: "publishes run lifecycle events to RabbitMQ",
		Version:     "1.0.0",
		ConfigKey:   "eventbus",
		Provides:    []plugin.Capability{plugin.CapabilityLogging},
	}
}

// Hooks 注册事件发布钩子。
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{
		LogInit:          p.init,
		LogModel:         p.eventHook("model_loaded"),
		LogDataset:       p.eventHook("dataset_ready"),
		LogTrainingStart: p.eventHook("training_started"),
		LogTrainingEnd:   p.eventHook("training_finished"),
		Finish:           p.finish,
	}
}

func (p *Plugin) init(_ context.Context, cfg map[string]any) result.Result[result.Unit] {
	var opts options
	if err := plugin.DecodeBlock(cfg, &opts); err != nil {
		return result.Err[result.Unit](fmt.Errorf("解析 eventbus 配置失败: %w", err))
	}
	if opts.URL == "" {
		return result.Err[result.Unit](errors.New("RabbitMQ URL 不能为空"))
	}
	queue := opts.Queue
	if queue == "" {
		queue = "dumbo.events"
	}

	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return result.Err[result.Unit](fmt.Errorf("连接 RabbitMQ 失败: %w", err))
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return result.Err[result.Unit](fmt.Errorf("创建 RabbitMQ channel 失败: %w", err))
	}
	if _, err := ch.QueueDeclare(queue, opts.Durable, opts.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return result.Err[result.Unit](fmt.Errorf("声明 RabbitMQ 队列失败: %w", err))
	}

	p.mu.Lock()
	p.conn = conn
	p.ch = ch
	p.queue = queue
	p.mu.Unlock()
	return result.Done()
}

func (p *Plugin) eventHook(event string) func(map[string]any) result.Result[result.Unit] {
	return func(payload map[string]any) result.Result[result.Unit] {
		if err := p.publish(event, payload); err != nil {
			return result.Err[result.Unit](err)
		}
		return result.Done()
	}
}

func (p *Plugin) publish(event string, payload map[string]any) error {
	p.mu.Lock()
	ch := p.ch
	queue := p.queue
	p.mu.Unlock()
	if ch == nil {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": payload,
		"at":      time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

func (p *Plugin) finish() result.Result[result.Unit] {
	p.mu.Lock()
	ch := p.ch
	conn := p.conn
	p.ch = nil
	p.conn = nil
	p.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			return result.Err[result.Unit](fmt.Errorf("关闭 RabbitMQ 连接失败: %w", err))
		}
	}
	return result.Done()
}
