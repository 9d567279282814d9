package events

import (
	"context"
	"sync"
)

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher 丢弃所有事件，未配置消息总线时使用。
type NopPublisher struct{}

// Publish 不做任何事。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 不做任何事。
func (NopPublisher) Close() error { return nil }

// MemoryPublisher 在内存中保存事件，供测试与单机调试使用。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher 创建内存发布器。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 记录事件。
func (m *MemoryPublisher) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events 返回已发布事件的副本。
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Close 不做任何事。
func (m *MemoryPublisher) Close() error { return nil }
