package payment

import (
	"context"
	"strings"
	"sync"

	xerrors "ToolPay-Chain/internal/errors"
)

// ReplayGuard 是已消费支付交易哈希的持久集合。
type ReplayGuard interface {
	// CompareAndInsert 原子地完成"未使用检查 + 登记"。首次登记返回 true；
	// 哈希已存在返回 false。两个并发请求出示同一哈希时只有一个能成功。
	CompareAndInsert(ctx context.Context, txHash string) (bool, error)
	Close() error
}

// MemoryGuard 以内存方式实现 ReplayGuard，主要用于开发和测试。
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryGuard 创建 MemoryGuard。
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]struct{})}
}

// CompareAndInsert 实现 ReplayGuard 接口。
func (g *MemoryGuard) CompareAndInsert(_ context.Context, txHash string) (bool, error) {
	key := normalizeTxHash(txHash)
	if key == "" {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[key]; ok {
		return false, nil
	}
	g.seen[key] = struct{}{}
	return true, nil
}

// Close 实现 ReplayGuard 接口。
func (g *MemoryGuard) Close() error {
	return nil
}

func normalizeTxHash(txHash string) string {
	return strings.ToLower(strings.TrimSpace(txHash))
}
