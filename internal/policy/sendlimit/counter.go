package sendlimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Counter 记录某个键在滑动窗口内的发送次数。
type Counter interface {
	Count(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
	Record(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)
	Close() error
}

// MemoryCounter 在进程内维护滑动窗口，适合单实例部署与测试。
type MemoryCounter struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemoryCounter 创建内存计数器。
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{events: make(map[string][]time.Time)}
}

// Count 返回窗口内的次数。
func (c *MemoryCounter) Count(_ context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.prune(key, window, now))), nil
}

// Record 追加一次发送并返回新的窗口内次数。
func (c *MemoryCounter) Record(_ context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := append(c.prune(key, window, now), now)
	c.events[key] = live
	return int64(len(live)), nil
}

// Close 实现 Counter。
func (c *MemoryCounter) Close() error { return nil }

func (c *MemoryCounter) prune(key string, window time.Duration, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	events := c.events[key]
	kept := events[:0]
	for _, at := range events {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(c.events, key)
		return nil
	}
	c.events[key] = kept
	return kept
}

// RedisCounterConfig 描述 Redis 计数器的连接参数。
type RedisCounterConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisCounter 使用有序集合保存发送时间戳，多实例之间共享计数。
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter 连接 Redis 并返回计数器。
func NewRedisCounter(ctx context.Context, cfg RedisCounterConfig) (*RedisCounter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agenttx:sendlimit:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisCounter{client: client, prefix: prefix}, nil
}

// Count 清理过期成员后返回集合大小。
func (c *RedisCounter) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	var card *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, c.prefix+key, "-inf", cutoffScore(window, now))
		card = pipe.ZCard(ctx, c.prefix+key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("Redis 查询发送次数失败: %w", err)
	}
	return card.Val(), nil
}

// Record 写入一次发送，并把键的过期时间延长到一个窗口。
func (c *RedisCounter) Record(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	var card *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fullKey := c.prefix + key
		pipe.ZRemRangeByScore(ctx, fullKey, "-inf", cutoffScore(window, now))
		pipe.ZAdd(ctx, fullKey, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.Expire(ctx, fullKey, window)
		card = pipe.ZCard(ctx, fullKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("Redis 记录发送失败: %w", err)
	}
	return card.Val(), nil
}

// Close 关闭 Redis 连接。
func (c *RedisCounter) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func cutoffScore(window time.Duration, now time.Time) string {
	return strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
}
