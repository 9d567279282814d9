package erc20

import "AgentTx-ERC20/internal/policy"

// SupportedPolicies lists the policies the host must evaluate before Execute.
// The send counter sees the transfer's recipient and amount.
func SupportedPolicies() []policy.Binding {
	return []policy.Binding{{
		PolicyName: policy.SendCounterLimit,
		Mappings: map[string]string{
			"to":     "to",
			"amount": "amount",
		},
	}}
}
