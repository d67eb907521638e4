package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ToolPay-Chain/internal/api"
	"ToolPay-Chain/internal/auth"
	"ToolPay-Chain/internal/billing"
	"ToolPay-Chain/internal/config"
	"ToolPay-Chain/internal/conversation"
	"ToolPay-Chain/internal/ledger"
	"ToolPay-Chain/internal/llm"
	"ToolPay-Chain/internal/llm/openai"
	"ToolPay-Chain/internal/orchestrator"
	"ToolPay-Chain/internal/payment"
	"ToolPay-Chain/internal/proof"
	"ToolPay-Chain/internal/tool"
	"ToolPay-Chain/pkg/logger"
)

// main 是 toolpayd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("toolpayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("TOOLPAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "toolpay.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.AuditEnabled,
			Path:       cfg.Logging.AuditPath,
			MaxSizeMB:  cfg.Logging.AuditMaxSizeMB,
			MaxBackups: cfg.Logging.AuditMaxBackups,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 初始化大模型客户端。
	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	// 工具目录在启动时加载，之后只读。
	catalog, err := tool.LoadCatalog(cfg.Tools.CatalogPath)
	if err != nil {
		return err
	}

	// 会话存储。
	var store conversation.Store
	switch cfg.Conversation.Driver {
	case "", "memory":
		store = conversation.NewMemoryStore()
	case "mysql":
		mysqlStore, err := conversation.NewMySQLStore(ctx, conversation.MySQLConfig{
			DSN:             cfg.Conversation.DSN,
			MaxOpenConns:    cfg.Conversation.MaxOpenConns,
			MaxIdleConns:    cfg.Conversation.MaxIdleConns,
			ConnMaxLifetime: cfg.Conversation.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		store = mysqlStore
	default:
		return fmt.Errorf("未知的会话存储驱动: %s", cfg.Conversation.Driver)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("关闭会话存储失败: %v", err)
		}
	}()

	// 防重放登记。
	var guard payment.ReplayGuard
	switch cfg.Payment.ReplayDriver {
	case "", "memory":
		guard = payment.NewMemoryGuard()
	case "redis":
		redisGuard, err := payment.NewRedisGuard(payment.RedisGuardConfig{
			Address:  cfg.Payment.Redis.Address,
			Password: cfg.Payment.Redis.Password,
			DB:       cfg.Payment.Redis.DB,
			Prefix:   cfg.Payment.Redis.Prefix,
		})
		if err != nil {
			return err
		}
		guard = redisGuard
	default:
		return fmt.Errorf("未知的防重放驱动: %s", cfg.Payment.ReplayDriver)
	}
	defer func() {
		if err := guard.Close(); err != nil {
			log.Printf("关闭防重放存储失败: %v", err)
		}
	}()

	// 账本客户端与注册表。未配置 RPC 地址时不接链：带交易哈希的支付
	// 一律拒绝并附报价，存证跳过，链上查询接口返回未配置。
	var reader payment.TransactionReader
	var registries *ledger.Registries
	if cfg.Ledger.RPCURL != "" {
		chainClient, err := ledger.NewClient(ctx, ledger.Config{
			RPCURL:    cfg.Ledger.RPCURL,
			ChainID:   cfg.Ledger.ChainID,
			SignerKey: cfg.Ledger.SignerKey,
		})
		if err != nil {
			return err
		}
		defer chainClient.Close()

		registries, err = ledger.NewRegistries(chainClient, ledger.Contracts{
			Identity:   cfg.Ledger.IdentityRegistry,
			Reputation: cfg.Ledger.ReputationRegistry,
			Validation: cfg.Ledger.ValidationRegistry,
			Payment:    cfg.Ledger.PaymentContract,
		})
		if err != nil {
			return err
		}
		reader = chainClient
	}

	// 汇率缓存：启动时同步取一次，之后后台刷新、读取不阻塞。
	var fetcher payment.RateFetcher
	if cfg.Payment.RateURL != "" {
		httpFetcher, err := payment.NewHTTPRateFetcher(cfg.Payment.RateURL, cfg.Payment.RatePath, 10*time.Second)
		if err != nil {
			return err
		}
		fetcher = httpFetcher
	}
	rates := payment.NewRateCache(fetcher, cfg.Payment.FallbackRate, time.Duration(cfg.Payment.RateMaxAgeSecs)*time.Second)
	if fetcher != nil {
		rates.Prime(ctx)
	}

	gate := payment.NewGate(catalog, rates, guard, reader, payment.GateConfig{
		DefaultPriceUSD: cfg.Tools.DefaultPriceUSD,
		ContractAddress: cfg.Payment.ContractAddress,
		ReceiverWallet:  cfg.Payment.ReceiverWallet,
	})

	dispatcher := tool.NewDispatcher(catalog, cfg.Payment.ContractAddress,
		tool.WithHTTPTimeout(time.Duration(cfg.Tools.TimeoutSeconds)*time.Second),
		tool.WithUpstreamAPIKey(cfg.Tools.UpstreamAPIKey),
	)

	recorder := proof.NewRecorder(registries, cfg.Ledger.AgentID)

	// 计费事件投递。
	var publisher billing.Publisher
	switch cfg.Billing.Driver {
	case "", "log":
		publisher = billing.NewLogPublisher()
	case "rabbitmq":
		mqPublisher, err := billing.NewRabbitMQPublisher(billing.RabbitMQConfig{
			URL:     cfg.Billing.URL,
			Queue:   cfg.Billing.Queue,
			Durable: cfg.Billing.Durable,
		})
		if err != nil {
			return err
		}
		publisher = mqPublisher
	default:
		return fmt.Errorf("未知的计费驱动: %s", cfg.Billing.Driver)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Printf("关闭计费投递失败: %v", err)
		}
	}()

	orch := orchestrator.New(llmClient, catalog, gate, dispatcher, recorder, store, publisher)

	resolver := auth.NewResolver(cfg.Auth.ServiceToken, cfg.Auth.UserTokens)
	server := api.NewServer(cfg.Server.Address, orch, store, registries, resolver, cfg.Ledger.AgentID)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
