package policy

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentTx-ERC20/internal/errors"
)

// SendCounterLimit is the registered name of the rate-limiting policy that
// gates token transfers.
const SendCounterLimit = "send-counter-limit"

const (
	CodePolicyDenied     xerrors.Code = "POLICY_DENIED"
	CodePolicyEvaluation xerrors.Code = "POLICY_EVALUATION_FAILED"
	CodePolicyCommit     xerrors.Code = "POLICY_COMMIT_FAILED"
)

func init() {
	xerrors.Register(CodePolicyDenied, xerrors.Attributes{
		Message:  "policy denied the action",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodePolicyEvaluation, xerrors.Attributes{
		Message:  "policy evaluation failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodePolicyCommit, xerrors.Attributes{
		Message:  "policy commit failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// EvaluationResult 是策略评估阶段的输出。计数字段会在提交阶段原样回传。
type EvaluationResult struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason,omitempty"`
	CurrentCount      int64  `json:"currentCount"`
	MaxSends          int64  `json:"maxSends"`
	RemainingSends    int64  `json:"remainingSends"`
	TimeWindowSeconds int64  `json:"timeWindowSeconds"`
}

// CommitParams 是提交阶段需要的计数快照。
type CommitParams struct {
	CurrentCount      int64 `json:"currentCount"`
	MaxSends          int64 `json:"maxSends"`
	RemainingSends    int64 `json:"remainingSends"`
	TimeWindowSeconds int64 `json:"timeWindowSeconds"`
}

// CommitParams 提取评估结果中的计数字段。
func (r EvaluationResult) CommitParams() CommitParams {
	return CommitParams{
		CurrentCount:      r.CurrentCount,
		MaxSends:          r.MaxSends,
		RemainingSends:    r.RemainingSends,
		TimeWindowSeconds: r.TimeWindowSeconds,
	}
}

// CommitFunc 完成策略的记账。
type CommitFunc func(ctx context.Context, params CommitParams) error

// Capability 是宿主为某个已放行策略提供的评估结果与提交入口。
type Capability struct {
	Result *EvaluationResult
	Commit CommitFunc
}

// Committable 判断该策略是否同时具备结果与提交入口。
func (c Capability) Committable() bool {
	return c.Result != nil && c.Commit != nil
}

// PoliciesContext 汇总本次调用中已放行的策略。
type PoliciesContext struct {
	AllowedPolicies map[string]Capability
}

// Lookup 按名称查找策略，第二个返回值为 false 表示本次调用没有该策略。
func (p PoliciesContext) Lookup(name string) (Capability, bool) {
	if p.AllowedPolicies == nil {
		return Capability{}, false
	}
	capability, ok := p.AllowedPolicies[name]
	return capability, ok
}

// Names 返回已放行的策略名称，用于日志。
func (p PoliciesContext) Names() []string {
	names := make([]string, 0, len(p.AllowedPolicies))
	for name := range p.AllowedPolicies {
		names = append(names, name)
	}
	return names
}

// Request 是宿主传给策略引擎的输入。
type Request struct {
	Delegator common.Address
	Inputs    map[string]any
}

// Engine 是可插拔策略的实现契约。
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, req Request) (EvaluationResult, error)
	Commit(ctx context.Context, req Request, params CommitParams) error
}
