package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"AgentTx-ERC20/internal/delegation"
	xerrors "AgentTx-ERC20/internal/errors"
	"AgentTx-ERC20/internal/events"
	"AgentTx-ERC20/internal/observability/alerting"
	"AgentTx-ERC20/internal/policy"
	"AgentTx-ERC20/internal/storage/mysql"
	"AgentTx-ERC20/internal/tool/erc20"
	"AgentTx-ERC20/pkg/logger"
)

// TransferRequest 描述一次转账调用。
type TransferRequest struct {
	InvocationID string           `json:"invocation_id,omitempty"`
	Params       erc20.Parameters `json:"params"`
}

// TransferResponse 汇总预检、策略评估与执行结果。
type TransferResponse struct {
	InvocationID string                             `json:"invocation_id"`
	Delegator    string                             `json:"delegator,omitempty"`
	Precheck     erc20.PrecheckResult               `json:"precheck"`
	Policies     map[string]policy.EvaluationResult `json:"policies,omitempty"`
	Result       erc20.ExecuteResult                `json:"result"`
}

// Agent 是工具的宿主：预检、评估策略、执行，并把结果记账与广播。
type Agent struct {
	tool          *erc20.Tool
	delegation    delegation.Context
	engines       map[string]policy.Engine
	ledger        mysql.TransferRepository
	publisher     events.Publisher
	alerts        alerting.Dispatcher
	policyTimeout time.Duration
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithPolicyEngine 注册策略引擎，按 Name() 与工具声明的策略绑定匹配。
func WithPolicyEngine(engine policy.Engine) Option {
	return func(a *Agent) {
		if engine != nil {
			a.engines[engine.Name()] = engine
		}
	}
}

// WithLedger 配置转账账本。
func WithLedger(repo mysql.TransferRepository) Option {
	return func(a *Agent) {
		a.ledger = repo
	}
}

// WithPublisher 配置事件发布器。
func WithPublisher(publisher events.Publisher) Option {
	return func(a *Agent) {
		a.publisher = publisher
	}
}

// WithAlerter 配置告警分发。
func WithAlerter(alerts alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = alerts
	}
}

// WithPolicyTimeout 设置单个策略评估的超时时间，0 表示不限制。
func WithPolicyTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.policyTimeout = timeout
	}
}

// New 创建一个 Agent。dc 是本进程代为签名的委托上下文。
func New(tool *erc20.Tool, dc delegation.Context, opts ...Option) *Agent {
	ag := &Agent{
		tool:       tool,
		delegation: dc,
		engines:    make(map[string]policy.Engine),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Precheck 只做参数校验。
func (a *Agent) Precheck(ctx context.Context, params erc20.Parameters) (erc20.PrecheckResult, error) {
	if a.tool == nil {
		return erc20.PrecheckResult{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置转账工具")
	}
	return a.tool.Precheck(ctx, params), nil
}

// Execute 依次执行预检、策略评估与转账。业务失败体现在 Result 中，
// 只有宿主自身未初始化时才返回 error。
func (a *Agent) Execute(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	if a.tool == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置转账工具")
	}

	resp := &TransferResponse{InvocationID: req.InvocationID}
	if resp.InvocationID == "" {
		resp.InvocationID = uuid.NewString()
	}
	ctx = logger.WithAttrs(ctx, slog.String("invocation_id", resp.InvocationID))
	params := req.Params

	resp.Precheck = a.tool.Precheck(ctx, params)
	if !resp.Precheck.Success {
		resp.Result = erc20.ExecuteResult{Error: resp.Precheck.Error, ErrorCode: resp.Precheck.ErrorCode}
		a.finish(ctx, resp, params, mysql.StatusFailed)
		return resp, nil
	}

	delegator, err := a.delegation.Address()
	if err != nil {
		wrapped := xerrors.Wrap(erc20.CodeDelegationUnavailable, err, "")
		resp.Result = erc20.ExecuteResult{Error: wrapped.Message(), ErrorCode: wrapped.Code()}
		a.finish(ctx, resp, params, mysql.StatusFailed)
		return resp, nil
	}
	resp.Delegator = delegator.Hex()

	pc, evaluations, err := a.evaluatePolicies(ctx, delegator, params)
	resp.Policies = evaluations
	if err != nil {
		e, _ := xerrors.From(err)
		resp.Result = erc20.ExecuteResult{Error: e.Message(), ErrorCode: e.Code()}
		status := mysql.StatusFailed
		if e.Code() == policy.CodePolicyDenied {
			status = mysql.StatusDenied
		}
		a.finish(ctx, resp, params, status)
		return resp, nil
	}

	resp.Result = a.tool.Execute(ctx, params, a.delegation, pc)
	status := mysql.StatusSubmitted
	if !resp.Result.Success {
		status = mysql.StatusFailed
	}
	a.finish(ctx, resp, params, status)
	return resp, nil
}

// evaluatePolicies 评估工具声明的每个策略。未注册引擎的策略不参与本次调用。
// 返回的 error 一定是带 POLICY_DENIED 或 POLICY_EVALUATION_FAILED 的统一错误。
func (a *Agent) evaluatePolicies(ctx context.Context, delegator common.Address, params erc20.Parameters) (policy.PoliciesContext, map[string]policy.EvaluationResult, error) {
	pc := policy.PoliciesContext{AllowedPolicies: make(map[string]policy.Capability)}
	evaluations := make(map[string]policy.EvaluationResult)

	for _, binding := range erc20.SupportedPolicies() {
		stage := logger.Stage("policy").With(slog.String("policy", binding.PolicyName))
		engine, ok := a.engines[binding.PolicyName]
		if !ok {
			stage.Skipped(ctx, "策略未注册引擎，跳过评估")
			continue
		}

		req := policy.Request{Delegator: delegator, Inputs: binding.Inputs(params.Map())}
		result, err := a.evaluate(ctx, engine, req)
		if err != nil {
			opts := []xerrors.Option{xerrors.WithMetadata("policy", binding.PolicyName)}
			if stdErrors.Is(err, context.DeadlineExceeded) {
				opts = append(opts, xerrors.WithMetadata("timeout", a.policyTimeout.String()))
			}
			wrapped := xerrors.Wrap(policy.CodePolicyEvaluation, err, "policy "+binding.PolicyName+" evaluation failed", opts...)
			stage.Failed(ctx, err, "策略评估失败")
			a.alert(ctx, wrapped, "policy")
			return policy.PoliciesContext{}, evaluations, wrapped
		}
		evaluations[binding.PolicyName] = result
		if !result.Allowed {
			stage.Skipped(ctx, "策略拒绝执行", slog.String("reason", result.Reason))
			msg := "policy " + binding.PolicyName + " denied the transfer"
			if result.Reason != "" {
				msg += ": " + result.Reason
			}
			return policy.PoliciesContext{}, evaluations, xerrors.New(policy.CodePolicyDenied, msg)
		}

		stage.Succeeded(ctx, "策略放行", slog.Int64("remaining_sends", result.RemainingSends))
		evaluated := result
		pc.AllowedPolicies[binding.PolicyName] = policy.Capability{
			Result: &evaluated,
			Commit: func(ctx context.Context, p policy.CommitParams) error {
				return engine.Commit(ctx, req, p)
			},
		}
	}
	return pc, evaluations, nil
}

func (a *Agent) evaluate(ctx context.Context, engine policy.Engine, req policy.Request) (policy.EvaluationResult, error) {
	if a.policyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.policyTimeout)
		defer cancel()
	}
	return engine.Evaluate(ctx, req)
}

// finishTimeout 限制调用结束后记账与发布事件的总时长。
const finishTimeout = 10 * time.Second

// finish 记账并发布事件，两者失败都只记录日志。
// 调用方断开不会取消记账：转账可能已经上链。
func (a *Agent) finish(ctx context.Context, resp *TransferResponse, params erc20.Parameters, status string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	now := time.Now().UnixMilli()
	var chainID int64
	if params.ChainID != nil {
		chainID = *params.ChainID
	}

	if a.ledger != nil {
		record := mysql.TransferRecord{
			InvocationID: resp.InvocationID,
			TxHash:       resp.Result.TxHash,
			Delegator:    resp.Delegator,
			To:           params.To,
			Amount:       params.Amount,
			TokenAddress: params.TokenAddress,
			ChainID:      chainID,
			RPCURL:       params.RPCURL,
			Status:       status,
			ErrorCode:    string(resp.Result.ErrorCode),
			ErrorMessage: resp.Result.Error,
			CreatedAt:    now,
		}
		if err := a.ledger.Save(ctx, record); err != nil {
			wrapped := xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存转账记录失败",
				xerrors.WithMetadata("invocation_id", resp.InvocationID),
				xerrors.WithMetadata("tx_hash", resp.Result.TxHash))
			logger.L().WarnContext(ctx, "保存转账记录失败", slog.Any("error", err))
			a.alert(ctx, wrapped, "ledger")
		}
	}

	if a.publisher != nil {
		event := events.NewEvent(eventType(status), resp.InvocationID)
		event.TxHash = resp.Result.TxHash
		event.Delegator = resp.Delegator
		event.To = params.To
		event.Amount = params.Amount
		event.TokenAddress = params.TokenAddress
		event.ChainID = chainID
		event.ErrorCode = string(resp.Result.ErrorCode)
		event.Error = resp.Result.Error
		if err := a.publisher.Publish(ctx, event); err != nil {
			logger.L().WarnContext(ctx, "发布转账事件失败", slog.String("event_type", event.Type), slog.Any("error", err))
			a.alert(ctx, err, "events")
		}
	}
}

// ListTransfers 获取最近的转账记录。
func (a *Agent) ListTransfers(ctx context.Context, limit int) ([]mysql.TransferRecord, error) {
	if a.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置转账账本")
	}
	records, err := a.ledger.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询转账记录失败")
	}
	return records, nil
}

func (a *Agent) alert(ctx context.Context, err error, stage string) {
	if a.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := a.alerts.Notify(ctx, alerting.FromError(err, erc20.Name, stage)); notifyErr != nil {
		logger.L().WarnContext(ctx, "告警发送失败", slog.Any("error", notifyErr))
	}
}

func eventType(status string) string {
	switch status {
	case mysql.StatusSubmitted:
		return events.TypeTransferSubmitted
	case mysql.StatusDenied:
		return events.TypeTransferDenied
	default:
		return events.TypeTransferFailed
	}
}
