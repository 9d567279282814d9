package web3

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"AgentTx-ERC20/internal/delegation"
)

// ERC20TransferABI declares the subset of the ERC-20 interface used for transfers.
const ERC20TransferABI = `[
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var erc20ABI = mustParseABI(ERC20TransferABI)

// ERC20ABI returns the parsed ERC-20 transfer ABI.
func ERC20ABI() abi.ABI {
	return erc20ABI
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse ABI: %v", err))
	}
	return parsed
}

// ContractCall describes a state-changing contract invocation signed by a
// delegated key.
type ContractCall struct {
	// RPCURL selects the endpoint; empty means resolve by ChainID or default.
	RPCURL string
	// ChainID is optional. When set the node's chain id must match.
	ChainID *big.Int

	Caller    common.Address
	PublicKey string
	Signer    delegation.Signer

	Contract common.Address
	ABI      abi.ABI
	Method   string
	Args     []any
}

// Calldata packs Method and Args with ABI.
func (c ContractCall) Calldata() ([]byte, error) {
	if c.Method == "" {
		return nil, fmt.Errorf("contract method is empty")
	}
	data, err := c.ABI.Pack(c.Method, c.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s call: %w", c.Method, err)
	}
	return data, nil
}

// ContractCaller signs and broadcasts contract calls, returning the
// transaction hash once the node accepted it.
type ContractCaller interface {
	ContractCall(ctx context.Context, call ContractCall) (common.Hash, error)
}

// ChainClient is a ContractCaller bound to one endpoint.
type ChainClient interface {
	ContractCaller
	Close()
}
