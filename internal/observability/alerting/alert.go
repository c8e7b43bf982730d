// Package alerting collects non-fatal hook failures and broadcasts them to
// the configured notification channels. Side-effect phases (logging, metric
// publishing) report here instead of aborting the run.
package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	xerrors "dumbo/internal/errors"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道。
const (
	ChannelLog     Channel = "log"
	ChannelJournal Channel = "journal"
)

// Event 描述一次需要上报的非致命失败。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	RunID      string
	Plugin     string
	Hook       string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将事件写入进程日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 实现 Notifier。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 以 WARN 级别记录事件。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("hook warning",
		slog.String("code", string(event.Code)),
		slog.String("plugin", event.Plugin),
		slog.String("hook", event.Hook),
		slog.String("message", event.Message),
	)
	return nil
}

// JournalNotifier 将事件以 JSON 行追加到运行日志文件。
type JournalNotifier struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJournalNotifier 创建写入指定 writer 的通知器。
func NewJournalNotifier(writer io.Writer) *JournalNotifier {
	return &JournalNotifier{writer: writer}
}

// Channel 实现 Notifier。
func (n *JournalNotifier) Channel() Channel { return ChannelJournal }

// Notify 序列化事件并追加换行。
func (n *JournalNotifier) Notify(_ context.Context, event Event) error {
	if n == nil || n.writer == nil {
		return nil
	}
	encoded, err := json.Marshal(map[string]any{
		"code":        event.Code,
		"severity":    event.Severity,
		"run_id":      event.RunID,
		"plugin":      event.Plugin,
		"hook":        event.Hook,
		"message":     event.Message,
		"metadata":    event.Metadata,
		"occurred_at": event.OccurredAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("序列化告警事件失败: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.writer.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入告警日志失败: %w", err)
	}
	return nil
}
