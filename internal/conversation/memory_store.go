package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "ToolPay-Chain/internal/errors"
)

// MemoryStore 以内存方式保存会话历史，主要用于开发和测试。
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]Message
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]Message)}
}

// Append 实现 Store 接口。
func (m *MemoryStore) Append(_ context.Context, msg *Message) error {
	if msg == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")
	}
	if msg.ConversationID == "" || msg.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "消息缺少标识")
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().Unix()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

// History 实现 Store 接口。
func (m *MemoryStore) History(_ context.Context, conversationID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[conversationID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	result := make([]Message, limit)
	copy(result, all[len(all)-limit:])
	return result, nil
}

// Conversations 实现 Store 接口。
func (m *MemoryStore) Conversations(_ context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]Summary, 0, len(m.messages))
	for id, msgs := range m.messages {
		if len(msgs) == 0 {
			continue
		}
		last := msgs[len(msgs)-1]
		summaries = append(summaries, Summary{
			ID:           id,
			LastMessage:  last.Content,
			MessageCount: len(msgs),
			UpdatedAt:    last.CreatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt > summaries[j].UpdatedAt
	})
	if limit > 0 && limit < len(summaries) {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error {
	return nil
}
