package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"ToolPay-Chain/pkg/logger"
)

// RateFetcher 获取原生代币的美元汇率（1 个原生代币值多少美元）。
type RateFetcher interface {
	FetchRate(ctx context.Context) (float64, error)
}

// RateFetcherFunc 把函数适配为 RateFetcher。
type RateFetcherFunc func(ctx context.Context) (float64, error)

// FetchRate 实现 RateFetcher 接口。
func (f RateFetcherFunc) FetchRate(ctx context.Context) (float64, error) {
	if f == nil {
		return 0, errors.New("未配置汇率抓取器")
	}
	return f(ctx)
}

// HTTPRateFetcher 从外部行情接口抓取汇率。响应按 JSON 解析，
// 通过点分路径定位数值字段，例如 "ethereum.usd"。
type HTTPRateFetcher struct {
	url        string
	path       string
	httpClient *http.Client
}

// NewHTTPRateFetcher 构造 HTTP 汇率抓取器。
func NewHTTPRateFetcher(url, path string, timeout time.Duration) (*HTTPRateFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("汇率接口 URL 不能为空")
	}
	if strings.TrimSpace(path) == "" {
		path = "usd"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRateFetcher{
		url:        url,
		path:       path,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// FetchRate 请求行情接口并提取汇率字段。
func (f *HTTPRateFetcher) FetchRate(ctx context.Context) (float64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, fmt.Errorf("构建汇率请求失败: %w", err)
	}
	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("请求汇率接口失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("汇率接口返回状态 %d", resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("解析汇率响应失败: %w", err)
	}
	return extractNumber(decoded, strings.Split(f.path, "."))
}

func extractNumber(node any, path []string) (float64, error) {
	for _, key := range path {
		object, ok := node.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("汇率响应中缺少字段 %s", key)
		}
		node, ok = object[key]
		if !ok {
			return 0, fmt.Errorf("汇率响应中缺少字段 %s", key)
		}
	}
	value, ok := node.(float64)
	if !ok || value <= 0 {
		return 0, fmt.Errorf("汇率字段不是有效数值: %v", node)
	}
	return value, nil
}

// RateCache 缓存最近一次成功抓取的汇率。读操作永不阻塞：缓存过期时
// 触发一次后台刷新（同一时刻最多一个在途刷新），调用方拿到的始终是
// 最后一次成功值；从未成功过则退回保守的兜底汇率，报价层面宁可失败
// 开放也不中断服务。
type RateCache struct {
	fetcher  RateFetcher
	fallback float64
	maxAge   time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	rate       float64
	fetchedAt  time.Time
	refreshing bool
}

// NewRateCache 构造汇率缓存。fallback 是行情不可用时的兜底汇率。
func NewRateCache(fetcher RateFetcher, fallback float64, maxAge time.Duration) *RateCache {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	return &RateCache{
		fetcher:  fetcher,
		fallback: fallback,
		maxAge:   maxAge,
		timeout:  10 * time.Second,
		log:      logger.Named("rate-cache"),
	}
}

// Prime 在启动阶段同步抓取一次汇率，失败不致命。
func (c *RateCache) Prime(ctx context.Context) {
	c.refresh(ctx)
}

// Rate 返回当前可用的汇率。缓存过期时触发后台刷新但不等待结果。
func (c *RateCache) Rate() float64 {
	c.mu.Lock()
	rate := c.rate
	stale := c.rate == 0 || time.Since(c.fetchedAt) > c.maxAge
	launch := stale && !c.refreshing && c.fetcher != nil
	if launch {
		c.refreshing = true
	}
	c.mu.Unlock()

	if launch {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			c.refresh(ctx)
		}()
	}

	if rate > 0 {
		return rate
	}
	return c.fallback
}

func (c *RateCache) refresh(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()
	if c.fetcher == nil {
		return
	}
	rate, err := c.fetcher.FetchRate(ctx)
	if err != nil {
		c.log.Warn("刷新汇率失败", "error", err)
		return
	}
	c.mu.Lock()
	c.rate = rate
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	c.log.Debug("汇率已刷新", "rate", rate)
}
