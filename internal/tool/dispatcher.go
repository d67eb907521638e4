package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "ToolPay-Chain/internal/errors"
)

// Status 表示一次工具调用的归一化结果状态。
type Status string

const (
	StatusSuccess         Status = "success"
	StatusPaymentRequired Status = "payment_required"
	StatusError           Status = "error"
)

// PaymentDetails 携带上游 402 响应中的支付要求。PayTo 始终被替换为
// 本系统配置的支付合约地址，上游建议的收款地址不透传。
type PaymentDetails struct {
	Amount  string         `json:"amount,omitempty"`
	Asset   string         `json:"asset,omitempty"`
	Network string         `json:"network,omitempty"`
	PayTo   string         `json:"payTo"`
	Raw     map[string]any `json:"raw,omitempty"`
}

// Result 是 Dispatch 的归一化返回值。
type Result struct {
	Status  Status          `json:"status"`
	Data    any             `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Payment *PaymentDetails `json:"payment,omitempty"`
}

// Dispatcher 把逻辑工具名解析为上游端点并转发参数。
type Dispatcher struct {
	catalog    *Catalog
	httpClient *http.Client
	payTo      string
	apiKey     string
}

// DispatcherOption 定义可选的 Dispatcher 配置。
type DispatcherOption func(*Dispatcher)

// WithHTTPTimeout 设置上游调用的超时时间。
func WithHTTPTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.httpClient.Timeout = timeout
		}
	}
}

// WithUpstreamAPIKey 为上游验证 API 配置服务凭证。
func WithUpstreamAPIKey(key string) DispatcherOption {
	return func(d *Dispatcher) {
		d.apiKey = strings.TrimSpace(key)
	}
}

// NewDispatcher 构造调度器。payTo 是本系统的支付合约地址，用于覆盖
// 上游 402 响应中建议的收款地址。
func NewDispatcher(catalog *Catalog, payTo string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		catalog:    catalog,
		payTo:      strings.TrimSpace(payTo),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch 调用指定工具并把上游状态码翻译为归一化结果。
// 未知的工具 ID 是硬错误；网络失败以 error 结果返回，由上层决定是否重试。
func (d *Dispatcher) Dispatch(ctx context.Context, toolID string, args map[string]any) (*Result, error) {
	desc, ok := d.catalog.Lookup(toolID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("未知的工具: %s", toolID))
	}

	httpReq, err := d.buildRequest(ctx, desc, args)
	if err != nil {
		return nil, err
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return &Result{
			Status:  StatusError,
			Message: fmt.Sprintf("调用上游 %s 失败: %v", desc.ID, err),
		}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Result{
			Status:  StatusError,
			Message: fmt.Sprintf("读取上游 %s 响应失败: %v", desc.ID, err),
		}, nil
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Result{Status: StatusSuccess, Data: decodeBody(body)}, nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return &Result{
			Status:  StatusPaymentRequired,
			Payment: d.paymentDetails(body),
		}, nil
	default:
		return &Result{
			Status:  StatusError,
			Message: extractMessage(body, resp.StatusCode),
		}, nil
	}
}

// buildRequest 把参数编入 URL 查询串（读类方法）或 JSON 请求体（其余方法）。
// URL 模板中的 {name} 占位符从参数中取值并移除。
func (d *Dispatcher) buildRequest(ctx context.Context, desc Descriptor, args map[string]any) (*http.Request, error) {
	endpoint := desc.URL
	remaining := make(map[string]any, len(args))
	for key, value := range args {
		placeholder := "{" + key + "}"
		if strings.Contains(endpoint, placeholder) {
			endpoint = strings.ReplaceAll(endpoint, placeholder, url.PathEscape(fmt.Sprint(value)))
			continue
		}
		remaining[key] = value
	}

	var httpReq *http.Request
	var err error
	switch desc.Method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		httpReq, err = http.NewRequestWithContext(ctx, desc.Method, endpoint, nil)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeDispatchFailure, err, "构建上游请求失败")
		}
		query := httpReq.URL.Query()
		for key, value := range remaining {
			query.Set(key, fmt.Sprint(value))
		}
		httpReq.URL.RawQuery = query.Encode()
	default:
		payload, marshalErr := json.Marshal(remaining)
		if marshalErr != nil {
			return nil, xerrors.Wrap(xerrors.CodeDispatchFailure, marshalErr, "序列化工具参数失败")
		}
		httpReq, err = http.NewRequestWithContext(ctx, desc.Method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeDispatchFailure, err, "构建上游请求失败")
		}
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if d.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
	return httpReq, nil
}

// paymentDetails 解析 402 响应体并把收款地址替换为本系统的支付合约。
func (d *Dispatcher) paymentDetails(body []byte) *PaymentDetails {
	details := &PaymentDetails{PayTo: d.payTo}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return details
	}
	details.Raw = raw
	if amount, ok := raw["amount"].(string); ok {
		details.Amount = amount
	}
	if asset, ok := raw["asset"].(string); ok {
		details.Asset = asset
	}
	if network, ok := raw["network"].(string); ok {
		details.Network = network
	}
	return details
}

func decodeBody(body []byte) any {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return strings.TrimSpace(string(body))
	}
	return decoded
}

// extractMessage 尽力从上游错误响应中提取可读信息。
func extractMessage(body []byte, status int) string {
	var decoded struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil {
		for _, candidate := range []string{decoded.Error, decoded.Message, decoded.Detail} {
			if strings.TrimSpace(candidate) != "" {
				return fmt.Sprintf("上游返回 %d: %s", status, strings.TrimSpace(candidate))
			}
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" && len(trimmed) <= 256 {
		return fmt.Sprintf("上游返回 %d: %s", status, trimmed)
	}
	return fmt.Sprintf("上游返回 %d", status)
}
