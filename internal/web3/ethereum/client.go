package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentTx-ERC20/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
}

// Backend is the subset of node RPCs needed to build and broadcast an
// EIP-1559 transaction. Both *ethclient.Client and the simulated backend
// client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// Client implements web3.ChainClient for EVM compatible chains.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	backend   Backend

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	return &Client{
		name:      cfg.Name,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
	}, nil
}

// NewBackendClient wraps an existing backend, such as the simulated chain
// used in tests.
func NewBackendClient(name string, backend Backend) *Client {
	return &Client{name: name, backend: backend}
}

// Name returns the chain name the client was created for.
func (c *Client) Name() string { return c.name }

// Close releases the RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ContractCall packs, signs and broadcasts call. The returned hash is known
// to the node's pool; inclusion is not awaited.
func (c *Client) ContractCall(ctx context.Context, call web3.ContractCall) (common.Hash, error) {
	if c == nil || c.backend == nil {
		return common.Hash{}, errors.New("未初始化的以太坊客户端")
	}
	if call.Signer == nil {
		return common.Hash{}, errors.New("未提供交易签名器")
	}

	data, err := call.Calldata()
	if err != nil {
		return common.Hash{}, err
	}
	chainID, err := c.resolveChainID(ctx, call.ChainID)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := c.backend.PendingNonceAt(ctx, call.Caller)
	if err != nil {
		return common.Hash{}, fmt.Errorf("查询交易计数失败: %w", err)
	}
	tipCap, feeCap, err := c.suggestFees(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	contract := call.Contract
	gas, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:      call.Caller,
		To:        &contract,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("估算 gas 失败: %w", err)
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &contract,
		Value:     new(big.Int),
		Data:      data,
	})

	signed, err := call.Signer.SignTx(ctx, tx, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("委托签名失败: %w", err)
	}
	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(chainID), signed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("解析签名者失败: %w", err)
	}
	if sender != call.Caller {
		return common.Hash{}, fmt.Errorf("签名者 %s 与委托地址 %s 不一致", sender.Hex(), call.Caller.Hex())
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("发送交易失败: %w", err)
	}
	return signed.Hash(), nil
}

// resolveChainID fetches the node's chain id once and checks it against the
// caller's expectation.
func (c *Client) resolveChainID(ctx context.Context, expected *big.Int) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()

	if cached == nil {
		id, err := c.backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		c.mu.Lock()
		c.chainID = id
		c.mu.Unlock()
		cached = id
	}
	if expected != nil && expected.Cmp(cached) != 0 {
		return nil, fmt.Errorf("链 ID 不匹配: 期望 %s, 节点返回 %s", expected, cached)
	}
	return new(big.Int).Set(cached), nil
}

// suggestFees sets the fee cap to twice the latest base fee plus the tip so
// the transaction survives a few full blocks.
func (c *Client) suggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("获取 gas 小费失败: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("获取最新区块失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return tip, feeCap, nil
}

var _ web3.ChainClient = (*Client)(nil)
