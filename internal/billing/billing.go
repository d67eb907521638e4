// Package billing 发布计费事件。每一次通过支付闸门的工具调用都会产生
// 一条事件：直付调用记录被消费的交易，授信调用记录应计入用户账户的
// 用量。事件投递是尽力而为的，计费失败不阻断工具调用。
package billing

import (
	"context"
	"time"

	"ToolPay-Chain/pkg/logger"
)

// 事件类型。
const (
	EventCreditsUsage    = "credits_usage"
	EventPaymentConsumed = "payment_consumed"
)

// Event 是一条计费事件。
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Tool           string `json:"tool"`
	Subject        string `json:"subject,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
	AmountNative   string `json:"amount_native,omitempty"`
	PriceUSD       string `json:"price_usd"`
	CreatedAt      int64  `json:"created_at"`
}

// Publisher 把计费事件投递给下游的记账系统。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher 把计费事件写入审计日志，用于未接入消息队列的部署。
type LogPublisher struct{}

// NewLogPublisher 创建 LogPublisher。
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// Publish 实现 Publisher 接口。
func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}
	logger.Audit().Info("billing_event",
		"type", event.Type,
		"conversation_id", event.ConversationID,
		"tool", event.Tool,
		"subject", event.Subject,
		"tx_hash", event.TxHash,
		"amount_native", event.AmountNative,
		"price_usd", event.PriceUSD,
	)
	return nil
}

// Close 实现 Publisher 接口。
func (p *LogPublisher) Close() error {
	return nil
}
