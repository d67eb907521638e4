package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ToolPay-Chain/internal/auth"
	"ToolPay-Chain/internal/billing"
	"ToolPay-Chain/internal/conversation"
	xerrors "ToolPay-Chain/internal/errors"
	"ToolPay-Chain/internal/llm"
	"ToolPay-Chain/internal/payment"
	"ToolPay-Chain/internal/proof"
	"ToolPay-Chain/internal/tool"
	"ToolPay-Chain/pkg/logger"
)

// ReplyKind 区分编排器的三种回复形态。
type ReplyKind string

const (
	ReplyText            ReplyKind = "text"
	ReplyPaymentRequired ReplyKind = "payment_required"
	ReplyToolResult      ReplyKind = "tool_result"
)

// Request 是一轮对话的输入。PaymentTx 与 Directive 同时出示时是支付后
// 的续作请求：跳过模型，直接核验并执行原指令。
type Request struct {
	ConversationID string     `json:"conversation_id"`
	Message        string     `json:"message"`
	PaymentTx      string     `json:"payment_tx,omitempty"`
	Directive      *Directive `json:"directive,omitempty"`
}

// Reply 是一轮对话的输出。
type Reply struct {
	ConversationID string         `json:"conversation_id"`
	Kind           ReplyKind      `json:"kind"`
	Text           string         `json:"text,omitempty"`
	Directive      *Directive     `json:"directive,omitempty"`
	Quote          *payment.Quote `json:"quote,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	ToolResult     *tool.Result   `json:"tool_result,omitempty"`
	ProofID        string         `json:"proof_id,omitempty"`
}

// Orchestrator 串联模型、支付闸门、工具调度、存证和计费，驱动一轮对话。
type Orchestrator struct {
	model      llm.Client
	catalog    *tool.Catalog
	gate       *payment.Gate
	dispatcher *tool.Dispatcher
	recorder   *proof.Recorder
	store      conversation.Store
	billing    billing.Publisher
	log        *slog.Logger
}

// New 构造编排器。recorder 和 billing 允许为空实现，对应能力未接入的部署。
func New(
	model llm.Client,
	catalog *tool.Catalog,
	gate *payment.Gate,
	dispatcher *tool.Dispatcher,
	recorder *proof.Recorder,
	store conversation.Store,
	publisher billing.Publisher,
) *Orchestrator {
	return &Orchestrator{
		model:      model,
		catalog:    catalog,
		gate:       gate,
		dispatcher: dispatcher,
		recorder:   recorder,
		store:      store,
		billing:    publisher,
		log:        logger.Named("orchestrator"),
	}
}

// Handle 处理一轮对话。
//
// 两条路径：携带 Directive+PaymentTx 的续作请求跳过模型直达支付核验；
// 普通请求先走模型，从输出中提取工具指令。指令被支付闸门拒绝时返回
// payment_required 回复，其中原样携带指令和报价，客户端付款后将两者
// 一并提交续作。
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" && req.Directive == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}

	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		convID = uuid.NewString()
	}

	history, err := o.store.History(ctx, convID, historyWindow)
	if err != nil {
		return nil, err
	}

	var directive Directive
	var modelText string
	resumed := req.Directive != nil && strings.TrimSpace(req.PaymentTx) != ""
	if resumed {
		directive = *req.Directive
	} else {
		raw, genErr := o.model.Generate(ctx, buildPrompt(o.catalog, history, message, req.PaymentTx != ""))
		if genErr != nil {
			return nil, xerrors.Wrap(xerrors.CodeModelFailure, genErr, "模型推理失败")
		}
		modelText = raw
		var found bool
		directive, found = ExtractDirective(raw)
		if !found {
			reply := &Reply{ConversationID: convID, Kind: ReplyText, Text: strings.TrimSpace(raw)}
			o.persistTurn(ctx, convID, message, reply.Text)
			return reply, nil
		}
	}

	if _, ok := o.catalog.Lookup(directive.Tool); !ok {
		// 模型臆造的工具名按普通文本回复处理，不向上游转发。
		text := strings.TrimSpace(modelText)
		if text == "" {
			text = fmt.Sprintf("未知的工具: %s", directive.Tool)
		}
		reply := &Reply{ConversationID: convID, Kind: ReplyText, Text: text}
		o.persistTurn(ctx, convID, message, text)
		return reply, nil
	}

	identity := auth.IdentityFromContext(ctx)
	decision, err := o.gate.Check(ctx, directive.Tool, req.PaymentTx, identity)
	if err != nil {
		return nil, err
	}
	if decision.Outcome == payment.OutcomeDeny {
		reply := &Reply{
			ConversationID: convID,
			Kind:           ReplyPaymentRequired,
			Directive:      &directive,
			Quote:          decision.Quote,
			Reason:         decision.Reason,
		}
		o.persistTurn(ctx, convID, message, fmt.Sprintf("需要支付 %s 后调用工具 %s", decision.Quote.RequiredNative, directive.Tool))
		return reply, nil
	}

	result, err := o.dispatcher.Dispatch(ctx, directive.Tool, directive.Args)
	if err != nil {
		return nil, err
	}

	o.publishBilling(ctx, convID, directive.Tool, identity, decision)

	// 上游调用失败以自然语言回复，本轮终止，不自动重试。
	if result.Status == tool.StatusError {
		text := result.Message
		if text == "" {
			text = fmt.Sprintf("工具 %s 调用失败", directive.Tool)
		}
		reply := &Reply{ConversationID: convID, Kind: ReplyText, Text: text, Directive: &directive}
		o.persistTurn(ctx, convID, message, text)
		return reply, nil
	}

	reply := &Reply{
		ConversationID: convID,
		Kind:           ReplyToolResult,
		Directive:      &directive,
		ToolResult:     result,
	}
	if result.Status == tool.StatusSuccess {
		reply.ProofID = o.recordProof(ctx, directive, result, decision.TxHash)
	}

	o.persistTurn(ctx, convID, message, summarizeResult(directive.Tool, result))
	return reply, nil
}

// recordProof 尽力而为地存证，失败只记日志，不影响把结果交付给用户。
func (o *Orchestrator) recordProof(ctx context.Context, directive Directive, result *tool.Result, paymentRef string) string {
	if o.recorder == nil {
		return ""
	}
	outcome, err := o.recorder.Record(ctx, directive.Tool, directive.Args, result.Data, paymentRef)
	if err != nil {
		o.log.Warn("存证失败", "tool", directive.Tool, "error", err)
		return ""
	}
	if outcome.Status != proof.StatusRecorded {
		return ""
	}
	return outcome.ProofID
}

// publishBilling 投递计费事件。直付记 payment_consumed，积分记 credits_usage。
func (o *Orchestrator) publishBilling(ctx context.Context, convID, toolID string, identity auth.Identity, decision *payment.Decision) {
	if o.billing == nil {
		return
	}
	event := billing.Event{
		ConversationID: convID,
		Tool:           toolID,
		Subject:        identity.Subject,
		CreatedAt:      time.Now().Unix(),
	}
	switch decision.Outcome {
	case payment.OutcomeBypass:
		event.Type = billing.EventCreditsUsage
		if quote, err := o.gate.QuoteFor(toolID); err == nil {
			event.PriceUSD = fmt.Sprintf("%.6f", quote.PriceUSD)
		}
	case payment.OutcomeAllow:
		event.Type = billing.EventPaymentConsumed
		event.TxHash = decision.TxHash
		if decision.Quote != nil {
			event.AmountNative = decision.Quote.RequiredNative
			event.PriceUSD = fmt.Sprintf("%.6f", decision.Quote.PriceUSD)
		}
	default:
		return
	}
	if err := o.billing.Publish(ctx, event); err != nil {
		o.log.Warn("计费事件投递失败", "tool", toolID, "error", err)
	}
}

// persistTurn 持久化一轮对话。存储失败不影响已完成的回复，只记日志。
func (o *Orchestrator) persistTurn(ctx context.Context, convID, userMessage, assistantMessage string) {
	now := time.Now().Unix()
	if strings.TrimSpace(userMessage) != "" {
		if err := o.store.Append(ctx, &conversation.Message{
			ID:             uuid.NewString(),
			ConversationID: convID,
			Role:           conversation.RoleUser,
			Content:        userMessage,
			CreatedAt:      now,
		}); err != nil {
			o.log.Warn("持久化用户消息失败", "conversation", convID, "error", err)
		}
	}
	if strings.TrimSpace(assistantMessage) != "" {
		if err := o.store.Append(ctx, &conversation.Message{
			ID:             uuid.NewString(),
			ConversationID: convID,
			Role:           conversation.RoleAssistant,
			Content:        assistantMessage,
			CreatedAt:      now,
		}); err != nil {
			o.log.Warn("持久化助手消息失败", "conversation", convID, "error", err)
		}
	}
}

func summarizeResult(toolID string, result *tool.Result) string {
	switch result.Status {
	case tool.StatusSuccess:
		return fmt.Sprintf("工具 %s 调用成功", toolID)
	case tool.StatusPaymentRequired:
		return fmt.Sprintf("工具 %s 的上游要求支付", toolID)
	default:
		return fmt.Sprintf("工具 %s 调用失败: %s", toolID, result.Message)
	}
}
