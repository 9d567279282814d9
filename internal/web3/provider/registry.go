package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"AgentTx-ERC20/internal/web3"
	"AgentTx-ERC20/internal/web3/ethereum"
)

// Config 描述注册表的链来源。
type Config struct {
	// ChainConfig 指向 chain.yaml，可为空。
	ChainConfig string
	// DefaultChain 是调用未指定 rpcUrl 与 chainId 时使用的链名。
	DefaultChain string
	// RPCURL 在没有链定义时作为名为 default 的链。
	RPCURL string
}

// Dialer 根据链名与 RPC 地址创建客户端。
type Dialer func(ctx context.Context, name, rpcURL string) (web3.ChainClient, error)

// DialEthereum 是默认的 Dialer。
func DialEthereum(ctx context.Context, name, rpcURL string) (web3.ChainClient, error) {
	return ethereum.NewClient(ctx, ethereum.Config{Name: name, RPCURL: rpcURL})
}

// Registry 按调用参数选择链客户端，并在首次使用时建立连接。
type Registry struct {
	defs         web3.ChainDefinitions
	defaultChain string
	dial         Dialer

	mu      sync.Mutex
	clients map[string]web3.ChainClient
}

// Option 定义可选配置。
type Option func(*Registry)

// WithDialer 替换连接方式，测试中使用。
func WithDialer(dial Dialer) Option {
	return func(r *Registry) {
		if dial != nil {
			r.dial = dial
		}
	}
}

// NewRegistry 加载链定义。连接在首次调用时才建立。
func NewRegistry(cfg Config, opts ...Option) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains["default"] = web3.ChainDefinition{Type: "evm", RPCURL: strings.TrimSpace(cfg.RPCURL)}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		if names := defs.Names(); len(names) > 0 {
			defaultChain = names[0]
		}
	}
	if defaultChain != "" {
		if _, ok := defs.Chains[defaultChain]; !ok {
			return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
		}
	}

	r := &Registry{
		defs:         defs,
		defaultChain: defaultChain,
		dial:         DialEthereum,
		clients:      make(map[string]web3.ChainClient),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// ContractCall 实现 web3.ContractCaller：解析目标链后转交给对应客户端。
func (r *Registry) ContractCall(ctx context.Context, call web3.ContractCall) (common.Hash, error) {
	client, err := r.Resolve(ctx, call)
	if err != nil {
		return common.Hash{}, err
	}
	return client.ContractCall(ctx, call)
}

// Resolve 按 rpcUrl、chainId、默认链的顺序选择客户端。
func (r *Registry) Resolve(ctx context.Context, call web3.ContractCall) (web3.ChainClient, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	if rpcURL := strings.TrimSpace(call.RPCURL); rpcURL != "" {
		return r.client(ctx, "url:"+rpcURL, rpcURL)
	}
	if call.ChainID != nil {
		if !call.ChainID.IsInt64() {
			return nil, fmt.Errorf("不支持的链 ID %s", call.ChainID)
		}
		name, def, ok := r.defs.ByChainID(call.ChainID.Int64())
		if !ok {
			return nil, fmt.Errorf("链 ID %s 未配置 RPC 地址", call.ChainID)
		}
		return r.client(ctx, name, def.RPCURL)
	}
	if r.defaultChain == "" {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	return r.client(ctx, r.defaultChain, r.defs.Chains[r.defaultChain].RPCURL)
}

func (r *Registry) client(ctx context.Context, key, rpcURL string) (web3.ChainClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[key]; ok {
		return client, nil
	}
	client, err := r.dial(ctx, key, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("初始化链 %s 失败: %w", key, err)
	}
	r.clients[key] = client
	return client, nil
}

// Chains 返回已定义的链名。
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return r.defs.Names()
}

// Close 释放所有已建立的连接。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, client := range r.clients {
		client.Close()
		delete(r.clients, key)
	}
}

var _ web3.ContractCaller = (*Registry)(nil)
