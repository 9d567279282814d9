package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"AgentTx-ERC20/internal/auth"
	"AgentTx-ERC20/pkg/logger"
)

// Config 描述了 agenttxd 在启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    logger.Config    `json:"logging"`
	Tool       ToolConfig       `json:"tool"`
	Web3       Web3Config       `json:"web3"`
	Delegation DelegationConfig `json:"delegation"`
	Policy     PolicyConfig     `json:"policy"`
	Ledger     LedgerConfig     `json:"ledger"`
	Events     EventsConfig     `json:"events"`
	Alerting   AlertingConfig   `json:"alerting"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string      `json:"address"`
	Metrics bool        `json:"metrics"`
	Auth    auth.Config `json:"auth"`
}

// ToolConfig 是转账工具自身的参数。
type ToolConfig struct {
	// Decimals 为代币精度，未填写时使用 6。
	Decimals *uint8 `json:"decimals"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// DelegationConfig 描述本进程代为签名所用的私钥来源。
type DelegationConfig struct {
	PrivateKey    string `json:"private_key"`
	PrivateKeyEnv string `json:"private_key_env"`
}

// ResolvePrivateKey 优先读取环境变量。
func (d DelegationConfig) ResolvePrivateKey() string {
	if d.PrivateKeyEnv != "" {
		if v := strings.TrimSpace(os.Getenv(d.PrivateKeyEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(d.PrivateKey)
}

// PolicyConfig 汇总可用策略的参数。
type PolicyConfig struct {
	SendLimit     SendLimitConfig `json:"send_limit"`
	TimeoutMillis int             `json:"timeout_ms"`
}

// Timeout 返回单次策略评估的超时时间。
func (p PolicyConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMillis) * time.Millisecond
}

// SendLimitConfig 配置 send-counter-limit 策略。
type SendLimitConfig struct {
	Enabled           bool        `json:"enabled"`
	MaxSends          int64       `json:"max_sends"`
	TimeWindowSeconds int64       `json:"time_window_seconds"`
	Store             string      `json:"store"`
	Redis             RedisConfig `json:"redis"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
	Stream    string `json:"stream"`
	MaxLen    int64  `json:"max_len"`
}

// LedgerConfig 选择转账账本的存储后端。
type LedgerConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// EventsConfig 选择转账事件的发布渠道。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	Redis    RedisConfig    `json:"redis"`
}

// RabbitMQConfig 是 RabbitMQ 发布参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Durable  bool   `json:"durable"`
}

// AlertingConfig 控制告警是否写入审计日志。
type AlertingConfig struct {
	AuditLog bool `json:"audit_log"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Server.Auth.Mode == "" {
		c.Server.Auth.Mode = auth.ModeDisabled
	}

	if c.Tool.Decimals == nil {
		d := uint8(6)
		c.Tool.Decimals = &d
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Delegation.PrivateKeyEnv == "" {
		c.Delegation.PrivateKeyEnv = "AGENTTX_DELEGATE_KEY"
	}

	if c.Policy.SendLimit.Store == "" {
		c.Policy.SendLimit.Store = "memory"
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// Validate 检查驱动名称与必填的连接参数。
func (c *Config) Validate() error {
	switch c.Server.Auth.Mode {
	case auth.ModeDisabled:
	case auth.ModeAPIKey:
		if len(c.Server.Auth.Keys) == 0 {
			return errors.New("server.auth 使用 api_key 时必须配置 keys")
		}
	default:
		return fmt.Errorf("未知的认证模式: %s", c.Server.Auth.Mode)
	}

	switch c.Policy.SendLimit.Store {
	case "memory":
	case "redis":
		if c.Policy.SendLimit.Enabled && c.Policy.SendLimit.Redis.Address == "" {
			return errors.New("send_limit 使用 redis 时必须配置 redis.address")
		}
	default:
		return fmt.Errorf("未知的计数存储: %s", c.Policy.SendLimit.Store)
	}

	switch c.Ledger.Driver {
	case "memory":
	case "mysql":
		if c.Ledger.DSN == "" {
			return errors.New("ledger 使用 mysql 时必须配置 dsn")
		}
	default:
		return fmt.Errorf("未知的账本驱动: %s", c.Ledger.Driver)
	}

	switch c.Events.Driver {
	case "none", "memory":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events 使用 rabbitmq 时必须配置 rabbitmq.url")
		}
	case "redis":
		if c.Events.Redis.Address == "" {
			return errors.New("events 使用 redis 时必须配置 redis.address")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}

	if c.Policy.TimeoutMillis < 0 {
		return errors.New("policy.timeout_ms 不能为负数")
	}
	return nil
}
