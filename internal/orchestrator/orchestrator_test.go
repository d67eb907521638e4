package orchestrator

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ToolPay-Chain/internal/auth"
	"ToolPay-Chain/internal/billing"
	"ToolPay-Chain/internal/conversation"
	"ToolPay-Chain/internal/payment"
	"ToolPay-Chain/internal/tool"
)

type modelFunc func(ctx context.Context, prompt string) (string, error)

func (f modelFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type readerFunc func(ctx context.Context, txHash string) (*payment.Transfer, error)

func (f readerFunc) PaymentTransaction(ctx context.Context, txHash string) (*payment.Transfer, error) {
	return f(ctx, txHash)
}

type capturePublisher struct {
	events []billing.Event
}

func (p *capturePublisher) Publish(_ context.Context, event billing.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

const testContract = "0x00000000000000000000000000000000000000aa"

// fact_check costs 0.05 USD; at the fallback rate of 40 that is 0.00125
// native, i.e. 1.25e15 wei.
func requiredWei() *big.Int {
	return new(big.Int).Mul(big.NewInt(125), new(big.Int).Exp(big.NewInt(10), big.NewInt(13), nil))
}

type fixture struct {
	orchestrator *Orchestrator
	store        conversation.Store
	publisher    *capturePublisher
}

func newFixture(t *testing.T, model modelFunc, reader payment.TransactionReader) *fixture {
	return newFixtureWithUpstream(t, model, reader, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"verdict": "true"})
	})
}

func newFixtureWithUpstream(t *testing.T, model modelFunc, reader payment.TransactionReader, upstream http.HandlerFunc) *fixture {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	catalog, err := tool.NewCatalog([]tool.Descriptor{
		{ID: "fact_check", Description: "check a claim", URL: srv.URL + "/check", Method: "POST", EstimatedCostUSD: 0.05},
	})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	rates := payment.NewRateCache(nil, 40, time.Minute)
	gate := payment.NewGate(catalog, rates, payment.NewMemoryGuard(), reader, payment.GateConfig{
		DefaultPriceUSD: 0.01,
		ContractAddress: testContract,
	})
	dispatcher := tool.NewDispatcher(catalog, testContract)
	store := conversation.NewMemoryStore()
	publisher := &capturePublisher{}

	return &fixture{
		orchestrator: New(model, catalog, gate, dispatcher, nil, store, publisher),
		store:        store,
		publisher:    publisher,
	}
}

func confirmedPayment(amount *big.Int) readerFunc {
	return func(ctx context.Context, txHash string) (*payment.Transfer, error) {
		return &payment.Transfer{
			Hash:      txHash,
			From:      "0x00000000000000000000000000000000000000bb",
			To:        testContract,
			Amount:    amount,
			Confirmed: true,
		}, nil
	}
}

func TestHandlePlainTextReply(t *testing.T) {
	fix := newFixture(t, func(ctx context.Context, prompt string) (string, error) {
		return "Paris is the capital of France.", nil
	}, confirmedPayment(requiredWei()))

	reply, err := fix.orchestrator.Handle(context.Background(), Request{Message: "capital of France?"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Kind != ReplyText {
		t.Fatalf("expected text reply, got %s", reply.Kind)
	}
	if reply.ConversationID == "" {
		t.Fatal("expected generated conversation id")
	}

	history, err := fix.store.History(context.Background(), reply.ConversationID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected both turns persisted, got %d", len(history))
	}
	if history[0].Role != conversation.RoleUser || history[1].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestHandleDirectiveWithoutPaymentReturnsQuote(t *testing.T) {
	fix := newFixture(t, func(ctx context.Context, prompt string) (string, error) {
		return `{"tool": "fact_check", "args": {"claim": "the sky is blue"}}`, nil
	}, confirmedPayment(requiredWei()))

	reply, err := fix.orchestrator.Handle(context.Background(), Request{Message: "verify this"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Kind != ReplyPaymentRequired {
		t.Fatalf("expected payment_required, got %s", reply.Kind)
	}
	if reply.Directive == nil || reply.Directive.Tool != "fact_check" {
		t.Fatalf("expected original directive in reply, got %+v", reply.Directive)
	}
	if reply.Quote == nil || reply.Quote.RequiredNative != "0.00125" {
		t.Fatalf("expected quote 0.00125, got %+v", reply.Quote)
	}
	if len(fix.publisher.events) != 0 {
		t.Fatalf("denied call must not be billed, got %d events", len(fix.publisher.events))
	}
}

func TestHandleResumeSkipsModel(t *testing.T) {
	fix := newFixture(t, func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("model must not run on resubmission")
		return "", nil
	}, confirmedPayment(requiredWei()))

	reply, err := fix.orchestrator.Handle(context.Background(), Request{
		ConversationID: "conv-1",
		Message:        "verify this",
		PaymentTx:      "0xf00d",
		Directive:      &Directive{Tool: "fact_check", Args: map[string]any{"claim": "the sky is blue"}},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Kind != ReplyToolResult {
		t.Fatalf("expected tool result, got %s (%s)", reply.Kind, reply.Reason)
	}
	if reply.ToolResult == nil || reply.ToolResult.Status != tool.StatusSuccess {
		t.Fatalf("unexpected tool result: %+v", reply.ToolResult)
	}

	if len(fix.publisher.events) != 1 {
		t.Fatalf("expected one billing event, got %d", len(fix.publisher.events))
	}
	event := fix.publisher.events[0]
	if event.Type != billing.EventPaymentConsumed {
		t.Fatalf("expected payment_consumed event, got %s", event.Type)
	}
	if event.TxHash != "0xf00d" {
		t.Fatalf("expected tx hash in event, got %q", event.TxHash)
	}
}

func TestHandleUserIdentityBypassesPayment(t *testing.T) {
	fix := newFixture(t, func(ctx context.Context, prompt string) (string, error) {
		return `{"tool": "fact_check", "args": {"claim": "x"}}`, nil
	}, readerFunc(func(ctx context.Context, txHash string) (*payment.Transfer, error) {
		t.Fatal("ledger must not be consulted for user identity")
		return nil, nil
	}))

	ctx := auth.WithIdentity(context.Background(), auth.Identity{Kind: auth.IdentityUser, Subject: "alice"})
	reply, err := fix.orchestrator.Handle(ctx, Request{Message: "verify"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Kind != ReplyToolResult {
		t.Fatalf("expected tool result, got %s", reply.Kind)
	}

	if len(fix.publisher.events) != 1 {
		t.Fatalf("expected one billing event, got %d", len(fix.publisher.events))
	}
	event := fix.publisher.events[0]
	if event.Type != billing.EventCreditsUsage {
		t.Fatalf("expected credits_usage event, got %s", event.Type)
	}
	if event.Subject != "alice" {
		t.Fatalf("expected subject alice, got %q", event.Subject)
	}
}

func TestHandleUnknownToolFallsBackToText(t *testing.T) {
	fix := newFixture(t, func(ctx context.Context, prompt string) (string, error) {
		return `{"tool": "made_up_tool", "args": {"a": 1}}`, nil
	}, confirmedPayment(requiredWei()))

	reply, err := fix.orchestrator.Handle(context.Background(), Request{Message: "do something"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Kind != ReplyText {
		t.Fatalf("expected text fallback, got %s", reply.Kind)
	}
}

func TestHandleDispatchErrorBecomesTextReply(t *testing.T) {
	fix := newFixtureWithUpstream(t, func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("model must not run on resubmission")
		return "", nil
	}, confirmedPayment(requiredWei()), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "upstream exploded"})
	})

	reply, err := fix.orchestrator.Handle(context.Background(), Request{
		Message:   "verify this",
		PaymentTx: "0xf00d",
		Directive: &Directive{Tool: "fact_check", Args: map[string]any{"claim": "x"}},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Kind != ReplyText {
		t.Fatalf("expected natural-language reply, got %s", reply.Kind)
	}
	if reply.Text == "" {
		t.Fatal("expected failure description")
	}
}

func TestHandleRejectsEmptyMessage(t *testing.T) {
	fix := newFixture(t, func(ctx context.Context, prompt string) (string, error) {
		return "unused", nil
	}, confirmedPayment(requiredWei()))

	if _, err := fix.orchestrator.Handle(context.Background(), Request{Message: "   "}); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestHandlePromptCarriesCatalogAndHistory(t *testing.T) {
	var seenPrompt string
	fix := newFixture(t, func(ctx context.Context, prompt string) (string, error) {
		seenPrompt = prompt
		return "ok", nil
	}, confirmedPayment(requiredWei()))

	for i := 0; i < 3; i++ {
		if _, err := fix.orchestrator.Handle(context.Background(), Request{ConversationID: "conv-1", Message: "turn"}); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	if !strings.Contains(seenPrompt, `"tool":"fact_check"`) {
		t.Fatalf("prompt missing catalog: %s", seenPrompt)
	}
	if !strings.Contains(seenPrompt, "user: turn") {
		t.Fatalf("prompt missing message: %s", seenPrompt)
	}
	if !strings.Contains(seenPrompt, "assistant: ok") {
		t.Fatalf("prompt missing history: %s", seenPrompt)
	}
}
