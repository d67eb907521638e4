package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 toolpayd 在启动阶段需要加载的全部配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Logging      LoggingConfig      `json:"logging"`
	Auth         AuthConfig         `json:"auth"`
	LLM          LLMConfig          `json:"llm"`
	Tools        ToolsConfig        `json:"tools"`
	Payment      PaymentConfig      `json:"payment"`
	Ledger       LedgerConfig       `json:"ledger"`
	Conversation ConversationConfig `json:"conversation"`
	Billing      BillingConfig      `json:"billing"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制日志级别、格式与审计日志。
type LoggingConfig struct {
	Level           string   `json:"level"`
	Format          string   `json:"format"`
	Outputs         []string `json:"outputs"`
	AuditEnabled    bool     `json:"audit_enabled"`
	AuditPath       string   `json:"audit_path"`
	AuditMaxSizeMB  int      `json:"audit_max_size_mb"`
	AuditMaxBackups int      `json:"audit_max_backups"`
}

// AuthConfig 描述调用方凭证。UserTokens 把用户令牌映射到用户标识，
// 持有用户令牌的调用方走积分记账，免除按次链上支付。
type AuthConfig struct {
	ServiceToken string            `json:"service_token"`
	UserTokens   map[string]string `json:"user_tokens"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string  `json:"provider"`
	APIKey         string  `json:"api_key"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// ToolsConfig 指向工具目录文件及上游调用参数。
type ToolsConfig struct {
	CatalogPath     string  `json:"catalog_path"`
	UpstreamAPIKey  string  `json:"upstream_api_key"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
	DefaultPriceUSD float64 `json:"default_price_usd"`
}

// PaymentConfig 控制报价与支付核验。
type PaymentConfig struct {
	RateURL         string      `json:"rate_url"`
	RatePath        string      `json:"rate_path"`
	FallbackRate    float64     `json:"fallback_rate"`
	RateMaxAgeSecs  int         `json:"rate_max_age_seconds"`
	ReplayDriver    string      `json:"replay_driver"`
	Redis           RedisConfig `json:"redis"`
	ContractAddress string      `json:"contract_address"`
	ReceiverWallet  string      `json:"receiver_wallet"`
}

// RedisConfig 描述 Redis 防重放存储的连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// LedgerConfig 包含访问区块链节点与注册表合约所需的参数。
type LedgerConfig struct {
	RPCURL             string `json:"rpc_url"`
	ChainID            int64  `json:"chain_id"`
	SignerKey          string `json:"signer_key"`
	AgentID            uint64 `json:"agent_id"`
	IdentityRegistry   string `json:"identity_registry"`
	ReputationRegistry string `json:"reputation_registry"`
	ValidationRegistry string `json:"validation_registry"`
	PaymentContract    string `json:"payment_contract"`
}

// ConversationConfig 选择会话历史的存储后端。
type ConversationConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// BillingConfig 选择计费事件的投递方式。
type BillingConfig struct {
	Driver  string `json:"driver"`
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
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

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stdout"}
	}
	if c.Logging.AuditEnabled && c.Logging.AuditPath == "" {
		c.Logging.AuditPath = filepath.Join(baseDir, "audit.log")
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Tools.CatalogPath == "" {
		c.Tools.CatalogPath = filepath.Join(baseDir, "tools.yaml")
	} else if !filepath.IsAbs(c.Tools.CatalogPath) {
		c.Tools.CatalogPath = filepath.Join(baseDir, c.Tools.CatalogPath)
	}
	if c.Tools.TimeoutSeconds <= 0 {
		c.Tools.TimeoutSeconds = 30
	}
	if c.Tools.DefaultPriceUSD <= 0 {
		c.Tools.DefaultPriceUSD = 0.01
	}

	if c.Payment.RatePath == "" {
		c.Payment.RatePath = "ethereum.usd"
	}
	if c.Payment.FallbackRate <= 0 {
		c.Payment.FallbackRate = 2000
	}
	if c.Payment.RateMaxAgeSecs <= 0 {
		c.Payment.RateMaxAgeSecs = 60
	}
	if c.Payment.ReplayDriver == "" {
		c.Payment.ReplayDriver = "memory"
	}

	if c.Conversation.Driver == "" {
		c.Conversation.Driver = "memory"
	}

	if c.Billing.Driver == "" {
		c.Billing.Driver = "log"
	}
	if c.Billing.Queue == "" {
		c.Billing.Queue = "toolpay.billing"
	}
}
