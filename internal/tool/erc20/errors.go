package erc20

import xerrors "AgentTx-ERC20/internal/errors"

const (
	CodeInvalidRecipient       xerrors.Code = "INVALID_RECIPIENT"
	CodeInvalidAmount          xerrors.Code = "INVALID_AMOUNT"
	CodeInvalidTokenAddress    xerrors.Code = "INVALID_TOKEN_ADDRESS"
	CodeInvalidRPCURL          xerrors.Code = "INVALID_RPC_URL"
	CodeInvalidChainID         xerrors.Code = "INVALID_CHAIN_ID"
	CodeAmountTooLarge         xerrors.Code = "AMOUNT_TOO_LARGE"
	CodeInvalidParameters      xerrors.Code = "INVALID_PARAMETERS"
	CodeDelegationUnavailable  xerrors.Code = "DELEGATION_UNAVAILABLE"
	CodeAmountConversionFailed xerrors.Code = "AMOUNT_CONVERSION_FAILED"
	CodeSubmissionFailed       xerrors.Code = "SUBMISSION_FAILED"
	CodeCommitFailed           xerrors.Code = "COMMIT_FAILED"
)

func init() {
	validation := []struct {
		code xerrors.Code
		msg  string
	}{
		{CodeInvalidRecipient, "invalid recipient address format"},
		{CodeInvalidAmount, "invalid amount format or amount must be greater than 0"},
		{CodeInvalidTokenAddress, "invalid token contract address format"},
		{CodeInvalidRPCURL, "invalid RPC URL format"},
		{CodeInvalidChainID, "invalid chain ID - must be a positive integer"},
		{CodeAmountTooLarge, "amount too large (maximum 1,000,000 tokens per transaction)"},
		{CodeInvalidParameters, "tool parameters do not match the schema"},
	}
	for _, v := range validation {
		xerrors.Register(v.code, xerrors.Attributes{Message: v.msg, Severity: xerrors.SeverityInfo})
	}

	xerrors.Register(CodeDelegationUnavailable, xerrors.Attributes{
		Message:  "delegator public key not available from delegation context",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeAmountConversionFailed, xerrors.Attributes{
		Message:  "amount cannot be represented with the token decimals",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSubmissionFailed, xerrors.Attributes{
		Message:  "erc20 transfer submission failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeCommitFailed, xerrors.Attributes{
		Message:  "policy commit failed after transfer submission",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}
