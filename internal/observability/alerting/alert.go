package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	xerrors "AgentTx-ERC20/internal/errors"
	"AgentTx-ERC20/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelAuditLog Channel = "audit_log"
	ChannelMemory   Channel = "memory"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code         xerrors.Code
	Message      string
	Severity     xerrors.Severity
	Tool         string
	Stage        string
	InvocationID string
	TxHash       string
	Metadata     map[string]string
	OccurredAt   time.Time
}

// FromError 根据统一错误构造告警事件，非统一错误按 UNKNOWN 处理。
func FromError(err error, tool, stage string) Event {
	event := Event{
		Code:       xerrors.CodeOf(err),
		Severity:   xerrors.SeverityOf(err),
		Tool:       tool,
		Stage:      stage,
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		event.Message = err.Error()
	}
	if e, ok := xerrors.From(err); ok {
		event.Metadata = e.Metadata()
		event.TxHash = event.Metadata["tx_hash"]
		event.InvocationID = event.Metadata["invocation_id"]
	}
	return event
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

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	channels := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
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

// LogNotifier 把告警写入审计日志。
type LogNotifier struct{}

// Channel 返回审计日志渠道。
func (LogNotifier) Channel() Channel { return ChannelAuditLog }

// Notify 写入一条审计记录。
func (LogNotifier) Notify(ctx context.Context, event Event) error {
	attrs := []slog.Attr{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("tool", event.Tool),
		slog.String("stage", event.Stage),
		slog.Time("occurred_at", event.OccurredAt),
	}
	if event.InvocationID != "" {
		attrs = append(attrs, slog.String("invocation_id", event.InvocationID))
	}
	if event.TxHash != "" {
		attrs = append(attrs, slog.String("tx_hash", event.TxHash))
	}
	for _, key := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String("meta."+key, event.Metadata[key]))
	}
	logger.Audit().LogAttrs(ctx, levelFor(event.Severity), event.Message, attrs...)
	return nil
}

// MemoryNotifier 在内存中保存告警，供测试与调试接口读取。
type MemoryNotifier struct {
	events []Event
}

// Channel 返回内存渠道。
func (*MemoryNotifier) Channel() Channel { return ChannelMemory }

// Notify 记录事件。
func (n *MemoryNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return nil
}

// Events 返回已记录的事件。
func (n *MemoryNotifier) Events() []Event {
	return append([]Event(nil), n.events...)
}

func levelFor(sev xerrors.Severity) slog.Level {
	switch sev {
	case xerrors.SeverityCritical:
		return slog.LevelError
	case xerrors.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
