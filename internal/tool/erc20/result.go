package erc20

import xerrors "AgentTx-ERC20/internal/errors"

// PrecheckResult reports either three true flags or a single error message.
type PrecheckResult struct {
	Success           bool         `json:"success"`
	AddressValid      bool         `json:"addressValid,omitempty"`
	AmountValid       bool         `json:"amountValid,omitempty"`
	TokenAddressValid bool         `json:"tokenAddressValid,omitempty"`
	Error             string       `json:"error,omitempty"`
	ErrorCode         xerrors.Code `json:"errorCode,omitempty"`
}

// ExecuteResult reports the submitted transaction or a single error message.
type ExecuteResult struct {
	Success      bool   `json:"success"`
	TxHash       string `json:"txHash,omitempty"`
	To           string `json:"to,omitempty"`
	Amount       string `json:"amount,omitempty"`
	TokenAddress string `json:"tokenAddress,omitempty"`
	// Timestamp is in milliseconds since the Unix epoch.
	Timestamp int64        `json:"timestamp,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorCode xerrors.Code `json:"errorCode,omitempty"`
}

func precheckFailure(err error) PrecheckResult {
	msg, code := describe(err)
	return PrecheckResult{Error: msg, ErrorCode: code}
}

func executeFailure(err error) ExecuteResult {
	msg, code := describe(err)
	return ExecuteResult{Error: msg, ErrorCode: code}
}

// describe returns the caller facing message. Collaborator errors wrapped as
// SUBMISSION_FAILED keep their original text.
func describe(err error) (string, xerrors.Code) {
	e, ok := xerrors.From(err)
	if !ok {
		return err.Error(), xerrors.CodeUnknown
	}
	if cause := e.Unwrap(); cause != nil && e.Code() == CodeSubmissionFailed {
		return cause.Error(), e.Code()
	}
	return e.Message(), e.Code()
}
