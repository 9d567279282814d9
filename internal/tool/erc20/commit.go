package erc20

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentTx-ERC20/internal/errors"
	"AgentTx-ERC20/internal/observability/alerting"
	"AgentTx-ERC20/internal/observability/metrics"
	"AgentTx-ERC20/internal/policy"
	"AgentTx-ERC20/pkg/logger"
)

// Coordinator commits the bookkeeping of the policy that gated a transfer.
type Coordinator struct {
	policyName string
	alerts     alerting.Dispatcher
}

// NewCoordinator creates a coordinator for the named policy.
func NewCoordinator(policyName string, alerts alerting.Dispatcher) *Coordinator {
	return &Coordinator{policyName: policyName, alerts: alerts}
}

// PolicyName returns the policy looked up in the policies context.
func (c *Coordinator) PolicyName() string { return c.policyName }

// Commit forwards the evaluated counters to the policy's commit function. A
// missing policy is skipped; a failing or panicking commit is logged, counted
// and alerted, and never reported to the caller.
func (c *Coordinator) Commit(ctx context.Context, pc policy.PoliciesContext) {
	c.commit(ctx, pc, "")
}

func (c *Coordinator) commit(ctx context.Context, pc policy.PoliciesContext, txHash string) {
	start := time.Now()
	stage := logger.Stage("commit").With(slog.String("tool", Name), slog.String("policy", c.policyName))
	if txHash != "" {
		stage = stage.With(slog.String("tx_hash", txHash))
	}

	capability, ok := pc.Lookup(c.policyName)
	if !ok {
		stage.Skipped(ctx, "policy not present in policies context", slog.Any("available", pc.Names()))
		metrics.ObserveStage(Name, stage.Name(), string(logger.OutcomeSkipped), time.Since(start))
		return
	}
	if !capability.Committable() {
		stage.Skipped(ctx, "policy has no evaluation result or commit function",
			slog.Bool("has_result", capability.Result != nil), slog.Bool("has_commit", capability.Commit != nil))
		metrics.ObserveStage(Name, stage.Name(), string(logger.OutcomeSkipped), time.Since(start))
		return
	}

	params := capability.Result.CommitParams()
	stage.Started(ctx, "committing policy", slog.Any("params", params))

	err := bestEffort(ctx, func(ctx context.Context) error {
		return capability.Commit(ctx, params)
	})
	if err != nil {
		wrapped := xerrors.Wrap(CodeCommitFailed, err, "",
			xerrors.WithMetadata("policy", c.policyName),
			xerrors.WithMetadata("tx_hash", txHash))
		stage.Degraded(ctx, err, "policy commit failed, transfer result unchanged")
		metrics.ObserveStage(Name, stage.Name(), string(logger.OutcomeFailed), time.Since(start))
		c.alert(ctx, wrapped)
		return
	}

	stage.Succeeded(ctx, "policy committed",
		slog.Int64("current_count", params.CurrentCount), slog.Int64("remaining_sends", params.RemainingSends))
	metrics.ObserveStage(Name, stage.Name(), string(logger.OutcomeSucceeded), time.Since(start))
}

func (c *Coordinator) alert(ctx context.Context, err *xerrors.Error) {
	if c.alerts == nil || !err.ShouldAlert() {
		return
	}
	if notifyErr := c.alerts.Notify(ctx, alerting.FromError(err, Name, "commit")); notifyErr != nil {
		logger.L().Warn("alert dispatch failed", slog.String("code", string(err.Code())), slog.Any("error", notifyErr))
	}
}

// bestEffort runs a side effect whose failure must not reach the caller,
// converting panics to errors.
func bestEffort(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
