package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ToolPay-Chain/internal/auth"
	"ToolPay-Chain/internal/conversation"
	"ToolPay-Chain/internal/orchestrator"
	"ToolPay-Chain/internal/payment"
	"ToolPay-Chain/internal/tool"
)

type modelFunc func(ctx context.Context, prompt string) (string, error)

func (f modelFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type deniedLedger struct{}

func (deniedLedger) PaymentTransaction(ctx context.Context, txHash string) (*payment.Transfer, error) {
	return &payment.Transfer{Hash: txHash}, nil
}

func newTestServer(t *testing.T, model modelFunc) (*Server, conversation.Store) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"verdict": "true"})
	}))
	t.Cleanup(upstream.Close)

	catalog, err := tool.NewCatalog([]tool.Descriptor{
		{ID: "fact_check", Description: "check", URL: upstream.URL, Method: "POST", EstimatedCostUSD: 0.05},
	})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	rates := payment.NewRateCache(nil, 40, time.Minute)
	gate := payment.NewGate(catalog, rates, payment.NewMemoryGuard(), deniedLedger{}, payment.GateConfig{
		DefaultPriceUSD: 0.01,
		ContractAddress: "0x00000000000000000000000000000000000000aa",
	})
	dispatcher := tool.NewDispatcher(catalog, "0x00000000000000000000000000000000000000aa")
	store := conversation.NewMemoryStore()

	orch := orchestrator.New(model, catalog, gate, dispatcher, nil, store, nil)
	resolver := auth.NewResolver("", map[string]string{"alice-token": "alice"})
	return NewServer(":0", orch, store, nil, resolver, 0), store
}

func TestHandleChatPlainText(t *testing.T) {
	server, _ := newTestServer(t, func(ctx context.Context, prompt string) (string, error) {
		return "plain answer", nil
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message": "hi"}`))
	rec := httptest.NewRecorder()
	server.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var reply orchestrator.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Kind != orchestrator.ReplyText || reply.Text != "plain answer" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestHandleChatPaymentRequiredStatus(t *testing.T) {
	server, _ := newTestServer(t, func(ctx context.Context, prompt string) (string, error) {
		return `{"tool": "fact_check", "args": {"claim": "x"}}`, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message": "verify"}`))
	rec := httptest.NewRecorder()
	server.handleChat(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	var reply orchestrator.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Directive == nil || reply.Directive.Tool != "fact_check" {
		t.Fatalf("expected directive in 402 body, got %+v", reply.Directive)
	}
	if reply.Quote == nil || reply.Quote.RequiredNative == "" {
		t.Fatalf("expected quote in 402 body, got %+v", reply.Quote)
	}
}

func TestHandleChatBypassForUserToken(t *testing.T) {
	server, _ := newTestServer(t, func(ctx context.Context, prompt string) (string, error) {
		return `{"tool": "fact_check", "args": {"claim": "x"}}`, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message": "verify"}`))
	req.Header.Set("Authorization", "Bearer alice-token")
	rec := httptest.NewRecorder()

	// Route through the middleware so the identity lands in the context.
	handler := server.resolver.Middleware(http.HandlerFunc(server.handleChat))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for credit-backed user, got %d: %s", rec.Code, rec.Body.String())
	}
	var reply orchestrator.Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Kind != orchestrator.ReplyToolResult {
		t.Fatalf("expected tool result, got %s", reply.Kind)
	}
}

func TestHandleChatRejectsBadJSON(t *testing.T) {
	server, _ := newTestServer(t, func(ctx context.Context, prompt string) (string, error) {
		return "unused", nil
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	server.handleChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleConversations(t *testing.T) {
	server, store := newTestServer(t, func(ctx context.Context, prompt string) (string, error) {
		return "unused", nil
	})
	err := store.Append(context.Background(), &conversation.Message{
		ID:             "m1",
		ConversationID: "conv-1",
		Role:           conversation.RoleUser,
		Content:        "hello",
		CreatedAt:      1000,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	rec := httptest.NewRecorder()
	server.handleConversations(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Conversations []conversation.Summary `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Conversations) != 1 || list.Conversations[0].ID != "conv-1" {
		t.Fatalf("unexpected conversations: %+v", list.Conversations)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/conversations?id=conv-1", nil)
	rec = httptest.NewRecorder()
	server.handleConversations(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var detail struct {
		Messages []conversation.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Messages) != 1 || detail.Messages[0].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", detail.Messages)
	}
}

func TestHandleAgentWithoutIdentity(t *testing.T) {
	server, _ := newTestServer(t, func(ctx context.Context, prompt string) (string, error) {
		return "unused", nil
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent", nil)
	rec := httptest.NewRecorder()
	server.handleAgent(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without chain identity, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t, func(ctx context.Context, prompt string) (string, error) {
		return "unused", nil
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
