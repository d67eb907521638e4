package auth

import (
	"context"
	"crypto/subtle"
	"strings"
)

// Kind 区分调用方身份的两种授权结果。身份在 HTTP 边界解析一次，
// 之后作为显式参数向下传递，下层不再自行判断令牌。
type Kind string

const (
	// IdentityAnonymous 表示未出示凭证的调用方，按次付费。
	IdentityAnonymous Kind = "anonymous"
	// IdentityService 表示固定的服务凭证，按次付费。
	IdentityService Kind = "service"
	// IdentityUser 表示已识别的用户凭证，走积分记账，跳过链上支付。
	IdentityUser Kind = "user"
)

// Identity 是边界层解析出的调用方身份。
type Identity struct {
	Kind    Kind
	Subject string
}

// Bypass 报告该身份是否免除按次链上支付。
func (i Identity) Bypass() bool {
	return i.Kind == IdentityUser
}

// Resolver 根据 Bearer 令牌解析调用方身份。
type Resolver struct {
	serviceToken string
	userTokens   map[string]string
}

// NewResolver 构造身份解析器。userTokens 把用户令牌映射到用户标识。
func NewResolver(serviceToken string, userTokens map[string]string) *Resolver {
	tokens := make(map[string]string, len(userTokens))
	for token, subject := range userTokens {
		token = strings.TrimSpace(token)
		if token != "" {
			tokens[token] = subject
		}
	}
	return &Resolver{
		serviceToken: strings.TrimSpace(serviceToken),
		userTokens:   tokens,
	}
}

// Resolve 解析 Authorization 头并返回身份。无法识别的令牌按匿名处理。
func (r *Resolver) Resolve(authorization string) Identity {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return Identity{Kind: IdentityAnonymous}
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return Identity{Kind: IdentityAnonymous}
	}
	if r.serviceToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(r.serviceToken)) == 1 {
		return Identity{Kind: IdentityService, Subject: "service"}
	}
	if subject, ok := r.userTokens[token]; ok {
		return Identity{Kind: IdentityUser, Subject: subject}
	}
	return Identity{Kind: IdentityAnonymous}
}

// identityKey 是上下文中存储 Identity 的键类型。
type identityKey struct{}

// WithIdentity 把解析出的身份写入上下文。
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext 从上下文中取出身份，缺省为匿名。
func IdentityFromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Identity{Kind: IdentityAnonymous}
	}
	if identity, ok := ctx.Value(identityKey{}).(Identity); ok {
		return identity
	}
	return Identity{Kind: IdentityAnonymous}
}
