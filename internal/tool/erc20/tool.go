package erc20

import (
	"context"
	"log/slog"
	"time"

	xerrors "AgentTx-ERC20/internal/errors"
	"AgentTx-ERC20/internal/observability/alerting"
	"AgentTx-ERC20/internal/observability/metrics"
	"AgentTx-ERC20/internal/policy"
	"AgentTx-ERC20/internal/web3"
	"AgentTx-ERC20/pkg/logger"
)

// Name identifies the tool in logs, metrics and the HTTP API.
const Name = "erc20-transfer"

// Tool validates and submits delegated ERC-20 transfers.
type Tool struct {
	caller      web3.ContractCaller
	decimals    uint8
	coordinator *Coordinator
	alerts      alerting.Dispatcher

	// started anchors execution timestamps to the monotonic clock.
	started time.Time
}

// Option configures a Tool.
type Option func(*Tool)

// WithDecimals overrides DefaultDecimals.
func WithDecimals(decimals uint8) Option {
	return func(t *Tool) {
		t.decimals = decimals
	}
}

// WithAlerter routes commit failures and delegation errors to alerting.
func WithAlerter(alerts alerting.Dispatcher) Option {
	return func(t *Tool) {
		t.alerts = alerts
	}
}

// WithPolicyName commits a policy other than the send counter.
func WithPolicyName(name string) Option {
	return func(t *Tool) {
		if name != "" {
			t.coordinator.policyName = name
		}
	}
}

// New creates the tool. caller submits the signed transfer.
func New(caller web3.ContractCaller, opts ...Option) *Tool {
	t := &Tool{
		caller:      caller,
		decimals:    DefaultDecimals,
		coordinator: &Coordinator{policyName: policy.SendCounterLimit},
		started:     time.Now(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.coordinator.alerts = t.alerts
	return t
}

// Decimals returns the precision used for amount conversion.
func (t *Tool) Decimals() uint8 { return t.decimals }

// Coordinator returns the commit coordinator used after submission.
func (t *Tool) Coordinator() *Coordinator { return t.coordinator }

// Precheck runs the shared validation rules without touching the chain, the
// signer or any policy.
func (t *Tool) Precheck(ctx context.Context, p Parameters) PrecheckResult {
	start := time.Now()
	stage := logger.Stage("precheck").With(slog.String("tool", Name))
	stage.Started(ctx, "erc20 precheck started", paramAttrs(p)...)

	if err := Validate(p); err != nil {
		stage.Degraded(ctx, err, "erc20 precheck rejected parameters",
			slog.String("code", string(xerrors.CodeOf(err))))
		metrics.ObserveStage(Name, stage.Name(), string(logger.OutcomeFailed), time.Since(start))
		return precheckFailure(err)
	}

	stage.Succeeded(ctx, "erc20 precheck passed")
	metrics.ObserveStage(Name, stage.Name(), string(logger.OutcomeSucceeded), time.Since(start))
	return PrecheckResult{
		Success:           true,
		AddressValid:      true,
		AmountValid:       true,
		TokenAddressValid: true,
	}
}

// timestamp returns milliseconds since the epoch. Successive calls on one
// Tool never go backwards even if the wall clock is adjusted.
func (t *Tool) timestamp() int64 {
	return t.started.Add(time.Since(t.started)).UnixMilli()
}

func paramAttrs(p Parameters) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("to", p.To),
		slog.String("amount", p.Amount),
		slog.String("token", p.TokenAddress),
	}
	if p.RPCURL != "" {
		attrs = append(attrs, slog.String("rpc_url", p.RPCURL))
	}
	if p.ChainID != nil {
		attrs = append(attrs, slog.Int64("chain_id", *p.ChainID))
	}
	return attrs
}
