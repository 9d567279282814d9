package events

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "AgentTx-ERC20/internal/errors"
)

// RedisStreamConfig 描述 Redis Stream 发布器的参数。
type RedisStreamConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
	// MaxLen 为流的近似上限，0 表示不裁剪。
	MaxLen int64
}

// RedisStreamPublisher 把事件追加到 Redis Stream。
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher 连接 Redis 并校验连通性。
func NewRedisStreamPublisher(ctx context.Context, cfg RedisStreamConfig) (*RedisStreamPublisher, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis 地址不能为空")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "agenttx:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: cfg.MaxLen}, nil
}

// Publish 以 type 与 payload 两个字段写入事件。
func (p *RedisStreamPublisher) Publish(ctx context.Context, event Event) error {
	body, err := event.Encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化事件失败")
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		ID:     "*",
		Values: map[string]any{"type": event.Type, "payload": string(body)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "写入 Redis Stream 失败",
			xerrors.WithMetadata("event_type", event.Type))
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisStreamPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
