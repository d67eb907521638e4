package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ToolPay-Chain/internal/auth"
	"ToolPay-Chain/internal/conversation"
	xerrors "ToolPay-Chain/internal/errors"
	"ToolPay-Chain/internal/ledger"
	"ToolPay-Chain/internal/orchestrator"
	"ToolPay-Chain/pkg/logger"
)

// Server 暴露 REST 接口，供外部驱动对话和查询链上身份。
type Server struct {
	addr         string
	orchestrator *orchestrator.Orchestrator
	store        conversation.Store
	registries   *ledger.Registries
	resolver     *auth.Resolver
	agentID      uint64
}

// NewServer 构造 API 服务实例。registries 允许为空，对应未接入链上
// 注册表的部署。
func NewServer(addr string, orch *orchestrator.Orchestrator, store conversation.Store, registries *ledger.Registries, resolver *auth.Resolver, agentID uint64) *Server {
	return &Server{
		addr:         addr,
		orchestrator: orch,
		store:        store,
		registries:   registries,
		resolver:     resolver,
		agentID:      agentID,
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", s.handleChat)
	mux.HandleFunc("/api/v1/conversations", s.handleConversations)
	mux.HandleFunc("/api/v1/agent", s.handleAgent)
	mux.HandleFunc("/api/v1/payments", s.handlePayments)
	mux.HandleFunc("/healthz", s.handleHealth)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.resolver.Middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Named("api").Info("HTTP 服务启动", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleChat 处理一轮对话。支付未通过的回复以 402 状态码返回，
// 响应体中携带报价和待续作的工具指令。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	reply, err := s.orchestrator.Handle(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if reply.Kind == orchestrator.ReplyPaymentRequired {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, reply)
}

// handleConversations 无参数时返回会话列表，带 id 参数时返回该会话的消息。
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		messages, err := s.store.History(r.Context(), id, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "messages": messages})
		return
	}

	summaries, err := s.store.Conversations(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

// handleAgent 返回本服务在链上注册的身份与信誉概要。
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.registries == nil || s.agentID == 0 {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "未配置链上身份"))
		return
	}

	identity, err := s.registries.AgentIdentity(r.Context(), s.agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	response := map[string]any{"identity": identity}
	summary, err := s.registries.ReputationSummary(r.Context(), s.agentID)
	if err == nil {
		response["reputation"] = summary
	}

	// feedback=N 附带最近 N 条信誉反馈。
	if raw := r.URL.Query().Get("feedback"); raw != "" && summary != nil {
		count, convErr := strconv.Atoi(raw)
		if convErr == nil && count > 0 {
			if int64(count) > summary.TotalFeedbacks {
				count = int(summary.TotalFeedbacks)
			}
			feedbacks := make([]*ledger.Feedback, 0, count)
			for i := 0; i < count; i++ {
				index := uint64(summary.TotalFeedbacks) - 1 - uint64(i)
				fb, fbErr := s.registries.FeedbackAt(r.Context(), s.agentID, index)
				if fbErr != nil {
					break
				}
				feedbacks = append(feedbacks, fb)
			}
			response["feedback"] = feedbacks
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// handlePayments 列出支付合约上指定付款方的历史支付事件，供对账使用。
func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.registries == nil {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "未配置支付合约"))
		return
	}
	payer := strings.TrimSpace(r.URL.Query().Get("payer"))
	if payer == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少 payer 参数"))
		return
	}
	var fromBlock uint64
	if raw := r.URL.Query().Get("from_block"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "非法的 from_block 参数"))
			return
		}
		fromBlock = parsed
	}

	events, err := s.registries.PaymentsByPayer(r.Context(), payer, fromBlock)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payer": payer, "payments": events})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 把内部错误码映射为 HTTP 状态码并输出统一的错误结构。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodePaymentRequired, xerrors.CodePaymentInvalid, xerrors.CodePaymentReplayed:
		status = http.StatusPaymentRequired
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case xerrors.CodeModelFailure, xerrors.CodeDispatchFailure, xerrors.CodeLedgerFailure:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{
		"code":  string(xerrors.CodeOf(err)),
		"error": err.Error(),
	})
}
