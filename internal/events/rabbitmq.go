package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AgentTx-ERC20/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 发布器的连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Durable  bool
}

// amqpChannel 是发布器用到的 channel 能力，便于测试替换。
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher 把事件发布到 topic exchange，路由键为事件类型。
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// NewRabbitMQPublisher 连接 RabbitMQ 并声明 exchange。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "agenttx.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 RabbitMQ channel 失败")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "声明 RabbitMQ exchange 失败")
	}
	return &RabbitMQPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish 以持久化消息发布事件。
func (p *RabbitMQPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 发布器未初始化")
	}
	body, err := event.Encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化事件失败")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID,
		CorrelationId: event.InvocationID,
		Timestamp:     time.UnixMilli(event.OccurredAt),
		Type:          event.Type,
		Body:          body,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "发布事件失败",
			xerrors.WithMetadata("event_type", event.Type),
			xerrors.WithMetadata("invocation_id", event.InvocationID))
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
