package erc20

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentTx-ERC20/internal/delegation"
	xerrors "AgentTx-ERC20/internal/errors"
	"AgentTx-ERC20/internal/observability/alerting"
	"AgentTx-ERC20/internal/observability/metrics"
	"AgentTx-ERC20/internal/policy"
	"AgentTx-ERC20/internal/web3"
	"AgentTx-ERC20/pkg/logger"
)

// Execute validates p, submits transfer(to, amount) on tokenAddress with the
// delegated signer and then commits the gating policy. It never panics and
// never returns a Go error; every failure is a failure result.
func (t *Tool) Execute(ctx context.Context, p Parameters, dc delegation.Context, pc policy.PoliciesContext) ExecuteResult {
	start := time.Now()
	stage := logger.Stage("execute").With(slog.String("tool", Name))
	stage.Started(ctx, "erc20 transfer started", paramAttrs(p)...)

	fail := func(err error) ExecuteResult {
		stage.Failed(ctx, err, "erc20 transfer failed", slog.String("code", string(xerrors.CodeOf(err))))
		metrics.ObserveStage(Name, stage.Name(), string(logger.OutcomeFailed), time.Since(start))
		if xerrors.ShouldAlert(err) {
			t.alert(ctx, alerting.FromError(err, Name, stage.Name()))
		}
		return executeFailure(err)
	}

	if err := Validate(p); err != nil {
		return fail(err)
	}

	call, err := t.buildCall(p, dc)
	if err != nil {
		return fail(err)
	}
	stage = stage.With(slog.String("caller", call.Caller.Hex()))

	hash, err := t.submit(ctx, call)
	if err != nil {
		return fail(xerrors.Wrap(CodeSubmissionFailed, err, ""))
	}
	txHash := hash.Hex()

	// Submission is final from here on; commit only logs and must not be
	// cut short by a caller that went away.
	t.coordinator.commit(context.WithoutCancel(ctx), pc, txHash)

	result := ExecuteResult{
		Success:      true,
		TxHash:       txHash,
		To:           p.To,
		Amount:       p.Amount,
		TokenAddress: p.TokenAddress,
		Timestamp:    t.timestamp(),
	}
	stage.Succeeded(ctx, "erc20 transfer submitted", slog.String("tx_hash", txHash))
	logger.Audit().LogAttrs(ctx, slog.LevelInfo, "erc20 transfer submitted",
		append(paramAttrs(p), slog.String("tx_hash", txHash), slog.String("caller", call.Caller.Hex()))...)
	metrics.ObserveStage(Name, stage.Name(), string(logger.OutcomeSucceeded), time.Since(start))
	return result
}

// buildCall derives the caller address and packs the contract call.
func (t *Tool) buildCall(p Parameters, dc delegation.Context) (web3.ContractCall, error) {
	if dc.PublicKey == "" || dc.Signer == nil {
		return web3.ContractCall{}, xerrors.New(CodeDelegationUnavailable, "")
	}
	caller, err := dc.Address()
	if err != nil {
		return web3.ContractCall{}, xerrors.Wrap(CodeDelegationUnavailable, err, "delegator public key is malformed")
	}

	units, err := ToBaseUnits(p.Amount, t.decimals)
	if err != nil {
		return web3.ContractCall{}, err
	}

	var chainID *big.Int
	if p.ChainID != nil {
		chainID = big.NewInt(*p.ChainID)
	}
	return web3.ContractCall{
		RPCURL:    p.RPCURL,
		ChainID:   chainID,
		Caller:    caller,
		PublicKey: dc.PublicKey,
		Signer:    dc.Signer,
		Contract:  common.HexToAddress(p.TokenAddress),
		ABI:       web3.ERC20ABI(),
		Method:    "transfer",
		Args:      []any{common.HexToAddress(p.To), units},
	}, nil
}

// submit hands call to the chain collaborator, turning a panic into an error.
func (t *Tool) submit(ctx context.Context, call web3.ContractCall) (hash common.Hash, err error) {
	if t.caller == nil {
		return common.Hash{}, fmt.Errorf("no chain caller configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("contract call panicked: %v", r)
		}
	}()
	return t.caller.ContractCall(ctx, call)
}

func (t *Tool) alert(ctx context.Context, event alerting.Event) {
	if t.alerts == nil {
		return
	}
	if err := t.alerts.Notify(ctx, event); err != nil {
		logger.L().Warn("alert dispatch failed", slog.String("code", string(event.Code)), slog.Any("error", err))
	}
}
