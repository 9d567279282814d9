package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentTx-ERC20/internal/agent"
	"AgentTx-ERC20/internal/api"
	"AgentTx-ERC20/internal/auth"
	"AgentTx-ERC20/internal/config"
	"AgentTx-ERC20/internal/delegation"
	"AgentTx-ERC20/internal/events"
	"AgentTx-ERC20/internal/observability/alerting"
	"AgentTx-ERC20/internal/policy/sendlimit"
	"AgentTx-ERC20/internal/storage/mysql"
	"AgentTx-ERC20/internal/tool/erc20"
	"AgentTx-ERC20/internal/web3/provider"
	"AgentTx-ERC20/pkg/logger"
)

// main 是 agenttxd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L().Error("agenttxd 运行失败", slog.Any("error", err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTTX_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agenttx.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Logging.Audit.Path != "" && !filepath.IsAbs(cfg.Logging.Audit.Path) {
		cfg.Logging.Audit.Path = filepath.Join(filepath.Dir(configPath), cfg.Logging.Audit.Path)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.L().Warn("关闭组件失败", slog.Any("error", err))
			}
		}
	}()

	alerts := alerting.NewFanout()
	if cfg.Alerting.AuditLog {
		alerts = alerting.NewFanout(alerting.LogNotifier{})
	}

	registry, err := provider.NewRegistry(provider.Config{
		ChainConfig:  cfg.Web3.ChainConfig,
		DefaultChain: cfg.Web3.DefaultChain,
		RPCURL:       cfg.Web3.RPCURL,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	dc, err := delegationContext(cfg.Delegation)
	if err != nil {
		return err
	}

	tool := erc20.New(registry, erc20.WithDecimals(*cfg.Tool.Decimals), erc20.WithAlerter(alerts))

	opts := []agent.Option{
		agent.WithAlerter(alerts),
		agent.WithPolicyTimeout(cfg.Policy.Timeout()),
	}

	if cfg.Policy.SendLimit.Enabled {
		counter, err := newCounter(ctx, cfg.Policy.SendLimit)
		if err != nil {
			return err
		}
		closers = append(closers, counter)
		opts = append(opts, agent.WithPolicyEngine(sendlimit.New(counter, sendlimit.Config{
			MaxSends:          cfg.Policy.SendLimit.MaxSends,
			TimeWindowSeconds: cfg.Policy.SendLimit.TimeWindowSeconds,
		})))
	}

	ledger, err := newLedger(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := ledger.(io.Closer); ok {
		closers = append(closers, closer)
	}
	opts = append(opts, agent.WithLedger(ledger))

	publisher, err := newPublisher(ctx, cfg.Events)
	if err != nil {
		return err
	}
	closers = append(closers, publisher)
	opts = append(opts, agent.WithPublisher(publisher))

	ag := agent.New(tool, dc, opts...)
	logger.L().Info("agenttxd 已就绪",
		slog.String("tool", erc20.Name),
		slog.Any("chains", registry.Chains()),
		slog.Int("decimals", int(tool.Decimals())),
		slog.String("ledger", cfg.Ledger.Driver),
		slog.String("events", cfg.Events.Driver))

	authService, err := auth.NewService(cfg.Server.Auth)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.Server.Address, ag,
		api.WithMetrics(cfg.Server.Metrics),
		api.WithAuth(authService))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// delegationContext 在未配置私钥时返回空上下文，此时执行会报 DELEGATION_UNAVAILABLE。
func delegationContext(cfg config.DelegationConfig) (delegation.Context, error) {
	key := cfg.ResolvePrivateKey()
	if key == "" {
		logger.L().Warn("未配置委托私钥，转账执行将不可用", slog.String("env", cfg.PrivateKeyEnv))
		return delegation.Context{}, nil
	}
	signer, err := delegation.NewKeyedSignerFromHex(key)
	if err != nil {
		return delegation.Context{}, err
	}
	logger.L().Info("已加载委托签名者", slog.String("delegator", signer.Address().Hex()))
	return signer.Context(), nil
}

func newCounter(ctx context.Context, cfg config.SendLimitConfig) (sendlimit.Counter, error) {
	switch cfg.Store {
	case "", "memory":
		return sendlimit.NewMemoryCounter(), nil
	case "redis":
		return sendlimit.NewRedisCounter(ctx, sendlimit.RedisCounterConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("未知的计数存储: %s", cfg.Store)
	}
}

func newLedger(ctx context.Context, cfg *config.Config) (mysql.TransferRepository, error) {
	switch cfg.Ledger.Driver {
	case "", "memory":
		return mysql.NewMemoryTransferRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLTransferRepository(ctx, mysql.Config{
			DSN:             cfg.Ledger.DSN,
			MaxOpenConns:    cfg.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Ledger.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Ledger.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Ledger.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的账本驱动: %s", cfg.Ledger.Driver)
	}
}

func newPublisher(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "", "none":
		return events.NopPublisher{}, nil
	case "memory":
		return events.NewMemoryPublisher(), nil
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Durable:  cfg.RabbitMQ.Durable,
		})
	case "redis":
		return events.NewRedisStreamPublisher(ctx, events.RedisStreamConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
}
