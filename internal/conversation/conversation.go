// Package conversation persists chat history. The orchestrator reads a
// bounded window of recent turns when building prompts; everything else here
// is plain storage glue.
package conversation

import "context"

// Role 标记一条消息的发言方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是会话中的一条消息。
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	CreatedAt      int64  `json:"created_at"`
}

// Summary 描述一个会话的概要，供列表展示。
type Summary struct {
	ID           string `json:"id"`
	LastMessage  string `json:"last_message"`
	MessageCount int    `json:"message_count"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Store 抽象会话历史的持久化接口。实现必须支持并发访问。
type Store interface {
	Append(ctx context.Context, msg *Message) error
	// History 返回指定会话最近 limit 条消息，按时间正序排列。
	History(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Conversations(ctx context.Context, limit int) ([]Summary, error)
	Close() error
}
