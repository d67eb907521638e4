package conversation

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "ToolPay-Chain/internal/errors"
	"ToolPay-Chain/pkg/logger"
)

// MySQLConfig 描述 MySQL 存储的连接配置。
type MySQLConfig struct {
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// MySQLStore 使用 MySQL 持久化会话历史。
type MySQLStore struct {
	db *sql.DB
}

const messagesSchema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    conversation_id VARCHAR(64) NOT NULL,
    role VARCHAR(16) NOT NULL,
    content MEDIUMTEXT NOT NULL,
    created_at BIGINT NOT NULL,
    INDEX idx_conversation_created (conversation_id, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// NewMySQLStore 建立连接池并确保表结构存在。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if cfg.DSN == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开 MySQL 连接失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "MySQL 连接探活失败")
	}
	if _, err := db.ExecContext(ctx, messagesSchema); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化会话表失败")
	}

	logger.Named("conversation-mysql").Info("MySQL 会话存储已就绪")
	return &MySQLStore{db: db}, nil
}

// Append 实现 Store 接口。
func (s *MySQLStore) Append(ctx context.Context, msg *Message) error {
	if msg == nil || msg.ID == "" || msg.ConversationID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "消息缺少标识")
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversation_messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话消息失败")
	}
	return nil
}

// History 实现 Store 接口。先按时间倒序取最近 limit 条，再反转为正序。
func (s *MySQLStore) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, created_at FROM conversation_messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		conversationID, limit,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话历史失败")
	}
	defer rows.Close()

	var reversed []Message
	for rows.Next() {
		var msg Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描会话消息失败")
		}
		msg.Role = Role(role)
		reversed = append(reversed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话消息失败")
	}

	messages := make([]Message, len(reversed))
	for i, msg := range reversed {
		messages[len(reversed)-1-i] = msg
	}
	return messages, nil
}

// Conversations 实现 Store 接口。
func (s *MySQLStore) Conversations(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT m.conversation_id, m.content, t.message_count, t.updated_at
FROM conversation_messages m
JOIN (
    SELECT conversation_id, COUNT(*) AS message_count, MAX(created_at) AS updated_at
    FROM conversation_messages
    GROUP BY conversation_id
) t ON m.conversation_id = t.conversation_id AND m.created_at = t.updated_at
ORDER BY t.updated_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话列表失败")
	}
	defer rows.Close()

	var summaries []Summary
	seen := make(map[string]bool)
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.LastMessage, &s.MessageCount, &s.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描会话概要失败")
		}
		// 同一秒内多条消息会使 JOIN 产生重复行，只保留第一条。
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话列表失败")
	}
	return summaries, nil
}

// Close 实现 Store 接口。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
