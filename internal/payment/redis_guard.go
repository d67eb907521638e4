package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "ToolPay-Chain/internal/errors"
)

// RedisGuardConfig 描述 Redis 防重放集合的连接参数。
type RedisGuardConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisGuard 把已消费的交易哈希持久化到 Redis。SET NX 保证
// 检查与登记是单条原子命令，跨进程也不会双花。
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard 创建 Redis 防重放集合。
func NewRedisGuard(cfg RedisGuardConfig) (*RedisGuard, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "toolpay:spent:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisGuard{client: client, prefix: prefix}, nil
}

// CompareAndInsert 实现 ReplayGuard 接口。键永不过期：支付消费是永久且
// 不可逆的。
func (g *RedisGuard) CompareAndInsert(ctx context.Context, txHash string) (bool, error) {
	key := normalizeTxHash(txHash)
	if key == "" {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	inserted, err := g.client.SetNX(ctx, g.prefix+key, 1, 0).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 防重放写入失败")
	}
	return inserted, nil
}

// Close 关闭 Redis 连接。
func (g *RedisGuard) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}
