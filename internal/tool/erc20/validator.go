package erc20

import (
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentTx-ERC20/internal/errors"
)

// MaxTransferAmount is the per-transaction ceiling in whole token units.
const MaxTransferAmount = 1_000_000

var (
	amountPattern = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)
	maxAmount     = new(big.Rat).SetInt64(MaxTransferAmount)
)

// Validate applies the parameter rules in order and returns the first
// violation as a coded error. Precheck and Execute both call it.
func Validate(p Parameters) error {
	if !IsValidAddress(p.To) {
		return xerrors.New(CodeInvalidRecipient, "")
	}
	amount, ok := parseAmount(p.Amount)
	if !ok {
		return xerrors.New(CodeInvalidAmount, "")
	}
	if !IsValidAddress(p.TokenAddress) {
		return xerrors.New(CodeInvalidTokenAddress, "")
	}
	if p.RPCURL != "" && !isValidURL(p.RPCURL) {
		return xerrors.New(CodeInvalidRPCURL, "")
	}
	if p.ChainID != nil && *p.ChainID <= 0 {
		return xerrors.New(CodeInvalidChainID, "")
	}
	if amount.Cmp(maxAmount) > 0 {
		return xerrors.New(CodeAmountTooLarge, "")
	}
	return nil
}

// IsValidAddress accepts 40 hex digits with an optional 0x prefix. Mixed-case
// input must carry a correct EIP-55 checksum.
func IsValidAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	digits := s
	if len(digits) == 2*common.AddressLength+2 {
		digits = digits[2:]
	}
	if digits == strings.ToLower(digits) || digits == strings.ToUpper(digits) {
		return true
	}
	return common.HexToAddress(s).Hex()[2:] == digits
}

// parseAmount reports the decimal value of s when it is a well-formed
// positive amount.
func parseAmount(s string) (*big.Rat, bool) {
	if !amountPattern.MatchString(s) {
		return nil, false
	}
	normalized := strings.TrimSuffix(s, ".")
	if strings.HasPrefix(normalized, ".") {
		normalized = "0" + normalized
	}
	value, ok := new(big.Rat).SetString(normalized)
	if !ok || value.Sign() <= 0 {
		return nil, false
	}
	return value, true
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
