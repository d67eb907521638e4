package llm

import "context"

// Client 定义了调用大模型的统一接口。输入是拼接好的完整提示词，
// 输出是模型生成的自由文本（可能内嵌工具调用 JSON）。
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
