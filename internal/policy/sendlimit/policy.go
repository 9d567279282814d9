// Package sendlimit implements the send-counter-limit policy: a delegator may
// submit at most MaxSends transfers inside a sliding time window.
package sendlimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "AgentTx-ERC20/internal/errors"
	"AgentTx-ERC20/internal/policy"
	"AgentTx-ERC20/pkg/logger"
)

const (
	defaultMaxSends          = 10
	defaultTimeWindowSeconds = 3600
)

// Config 描述限流参数。
type Config struct {
	MaxSends          int64
	TimeWindowSeconds int64
}

// Policy 实现 policy.Engine。
type Policy struct {
	counter Counter
	cfg     Config
	now     func() time.Time
}

// Option 定义可选配置。
type Option func(*Policy)

// WithClock 替换时间来源，测试使用。
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// New 创建限流策略。
func New(counter Counter, cfg Config, opts ...Option) *Policy {
	if cfg.MaxSends <= 0 {
		cfg.MaxSends = defaultMaxSends
	}
	if cfg.TimeWindowSeconds <= 0 {
		cfg.TimeWindowSeconds = defaultTimeWindowSeconds
	}
	p := &Policy{counter: counter, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Name 返回策略注册名。
func (p *Policy) Name() string { return policy.SendCounterLimit }

// Evaluate 统计窗口内的发送次数，未达到上限时放行。
func (p *Policy) Evaluate(ctx context.Context, req policy.Request) (policy.EvaluationResult, error) {
	if p.counter == nil {
		return policy.EvaluationResult{}, xerrors.New(xerrors.CodeInitializationFailure, "限流计数器未配置")
	}
	count, err := p.counter.Count(ctx, counterKey(req), p.window(), p.now())
	if err != nil {
		return policy.EvaluationResult{}, xerrors.Wrap(policy.CodePolicyEvaluation, err, "读取发送次数失败")
	}

	result := policy.EvaluationResult{
		Allowed:           count < p.cfg.MaxSends,
		CurrentCount:      count,
		MaxSends:          p.cfg.MaxSends,
		RemainingSends:    max(p.cfg.MaxSends-count, 0),
		TimeWindowSeconds: p.cfg.TimeWindowSeconds,
	}
	if !result.Allowed {
		result.Reason = fmt.Sprintf("send limit reached: %d of %d sends used in the last %ds",
			count, p.cfg.MaxSends, p.cfg.TimeWindowSeconds)
	}
	return result, nil
}

// Commit 记录一次已完成的发送。params 来自评估结果，仅用于核对与日志。
func (p *Policy) Commit(ctx context.Context, req policy.Request, params policy.CommitParams) error {
	if p.counter == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "限流计数器未配置")
	}
	window := p.window()
	if params.TimeWindowSeconds > 0 {
		window = time.Duration(params.TimeWindowSeconds) * time.Second
	}
	count, err := p.counter.Record(ctx, counterKey(req), window, p.now())
	if err != nil {
		return xerrors.Wrap(policy.CodePolicyCommit, err, "记录发送次数失败")
	}
	logger.Named("sendlimit").Debug("发送次数已记录",
		slog.String("delegator", req.Delegator.Hex()),
		slog.Int64("evaluated_count", params.CurrentCount),
		slog.Int64("current_count", count),
		slog.Int64("max_sends", params.MaxSends),
	)
	return nil
}

func (p *Policy) window() time.Duration {
	return time.Duration(p.cfg.TimeWindowSeconds) * time.Second
}

// counterKey 以委托人地址为维度计数。
func counterKey(req policy.Request) string {
	return strings.ToLower(req.Delegator.Hex())
}

var _ policy.Engine = (*Policy)(nil)
