package payment

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"ToolPay-Chain/internal/auth"
	"ToolPay-Chain/internal/tool"
	"ToolPay-Chain/pkg/logger"
)

// Transfer 是账本上一笔支付交易的只读视图。
type Transfer struct {
	Hash      string
	From      string
	To        string
	Amount    *big.Int
	Confirmed bool
}

// TransactionReader 是 Gate 验证支付所需的最小账本读取接口。
type TransactionReader interface {
	PaymentTransaction(ctx context.Context, txHash string) (*Transfer, error)
}

// Outcome 是支付闸门的三种裁决。
type Outcome string

const (
	OutcomeAllow  Outcome = "allow"
	OutcomeDeny   Outcome = "deny"
	OutcomeBypass Outcome = "bypass"
)

// Decision 携带裁决结果。Deny 时附带最新报价，调用方据此构造支付
// 后重试同一逻辑调用。
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Quote   *Quote  `json:"quote,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	TxHash  string  `json:"tx_hash,omitempty"`
	Payer   string  `json:"payer,omitempty"`
}

// GateConfig 描述支付闸门的静态参数。
type GateConfig struct {
	// DefaultPriceUSD 在工具目录未匹配时兜底。
	DefaultPriceUSD float64
	// ContractAddress 是支付合约地址，优先于 ReceiverWallet。
	ContractAddress string
	// ReceiverWallet 是没有支付合约时的裸收款地址。
	ReceiverWallet string
}

// Gate 决定一次工具调用是否放行：计算所需原生币金额、核验出示的
// 支付交易并强制单次使用。定价层面失败开放（退回兜底汇率），
// 核验层面失败关闭（账本读不到就拒绝）。
type Gate struct {
	catalog *tool.Catalog
	rates   *RateCache
	guard   ReplayGuard
	ledger  TransactionReader
	cfg     GateConfig
	audit   *slog.Logger
}

// NewGate 构造支付闸门。
func NewGate(catalog *tool.Catalog, rates *RateCache, guard ReplayGuard, ledger TransactionReader, cfg GateConfig) *Gate {
	return &Gate{
		catalog: catalog,
		rates:   rates,
		guard:   guard,
		ledger:  ledger,
		cfg:     cfg,
		audit:   logger.Audit(),
	}
}

// QuoteFor 为指定工具计算当前报价。目录未匹配时使用默认价格。
func (g *Gate) QuoteFor(toolID string) (*Quote, error) {
	price := g.cfg.DefaultPriceUSD
	if desc, ok := g.catalog.Lookup(toolID); ok && desc.EstimatedCostUSD > 0 {
		price = desc.EstimatedCostUSD
	}
	return NewQuote(price, g.rates.Rate())
}

// Check 为一次工具调用裁决 allow/deny/bypass。
//
// 用户凭证直接放行并归入积分记账；否则核验出示的交易：存在、已确认、
// 金额覆盖报价、收款方为配置的支付目标、且哈希未被消费过。防重放
// 登记发生在任何可能被重试的副作用之前，避免同一笔交易在并发请求
// 下双花。
func (g *Gate) Check(ctx context.Context, toolID, txRef string, identity auth.Identity) (*Decision, error) {
	if identity.Bypass() {
		g.audit.Info("payment_bypass", "tool", toolID, "subject", identity.Subject)
		return &Decision{Outcome: OutcomeBypass}, nil
	}

	quote, err := g.QuoteFor(toolID)
	if err != nil {
		return nil, err
	}

	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return g.deny(toolID, quote, "未出示支付交易"), nil
	}
	if g.ledger == nil {
		return g.deny(toolID, quote, "账本未配置，无法核验支付"), nil
	}

	transfer, err := g.ledger.PaymentTransaction(ctx, txRef)
	if err != nil {
		// 账本读取失败按拒绝处理，不放行。
		g.audit.Warn("payment_lookup_failed", "tool", toolID, "tx", txRef, "error", err)
		return g.deny(toolID, quote, "支付交易核验失败"), nil
	}
	if transfer == nil || !transfer.Confirmed {
		return g.deny(toolID, quote, "支付交易尚未确认"), nil
	}
	if !sameAddress(transfer.To, g.paymentTarget()) {
		return g.deny(toolID, quote, "支付收款地址不符"), nil
	}
	if transfer.Amount == nil || transfer.Amount.Cmp(quote.RequiredWei) < 0 {
		return g.deny(toolID, quote, "支付金额不足"), nil
	}

	inserted, err := g.guard.CompareAndInsert(ctx, transfer.Hash)
	if err != nil {
		g.audit.Warn("replay_guard_failed", "tool", toolID, "tx", transfer.Hash, "error", err)
		return g.deny(toolID, quote, "防重放检查失败"), nil
	}
	if !inserted {
		g.audit.Warn("payment_replayed", "tool", toolID, "tx", transfer.Hash)
		return g.deny(toolID, quote, "支付交易已被使用"), nil
	}

	g.audit.Info("payment_accepted",
		"tool", toolID,
		"tx", transfer.Hash,
		"payer", transfer.From,
		"amount", transfer.Amount.String(),
		"required", quote.RequiredNative,
	)
	return &Decision{
		Outcome: OutcomeAllow,
		Quote:   quote,
		TxHash:  transfer.Hash,
		Payer:   transfer.From,
	}, nil
}

func (g *Gate) deny(toolID string, quote *Quote, reason string) *Decision {
	g.audit.Info("payment_denied", "tool", toolID, "reason", reason, "required", quote.RequiredNative)
	return &Decision{Outcome: OutcomeDeny, Quote: quote, Reason: reason}
}

// paymentTarget 返回期望的收款地址，支付合约优先于裸钱包地址。
func (g *Gate) paymentTarget() string {
	if strings.TrimSpace(g.cfg.ContractAddress) != "" {
		return g.cfg.ContractAddress
	}
	return g.cfg.ReceiverWallet
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) && strings.TrimSpace(a) != ""
}
