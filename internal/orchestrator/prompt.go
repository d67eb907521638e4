package orchestrator

import (
	"strings"

	"ToolPay-Chain/internal/conversation"
	"ToolPay-Chain/internal/tool"
)

// historyWindow 是拼入提示词的最近历史条数。
const historyWindow = 10

const promptPreamble = `你是一个可以调用付费验证工具的助手。下面的目录列出了可用工具及其单次调用的美元价格。
当且仅当用户的请求需要某个工具时，只输出一个 JSON 对象：{"tool": "<工具ID>", "args": {<参数>}}，不要附加任何其他文字。
不需要工具时，直接用自然语言回答。`

const retryDirectivePrompt = `用户已为上一次被拒绝的工具调用完成支付。请重新输出与上次完全相同的工具调用 JSON 指令。`

// buildPrompt 把系统前导、工具目录、最近历史和本次消息拼接为单段提示词。
// paymentRetry 为真时追加重试指令，提示模型复述上一轮的工具调用。
func buildPrompt(catalog *tool.Catalog, history []conversation.Message, message string, paymentRetry bool) string {
	var sb strings.Builder
	sb.WriteString(promptPreamble)
	sb.WriteString("\n\n可用工具目录:\n")
	sb.WriteString(catalog.Serialize())
	sb.WriteString("\n")

	if len(history) > 0 {
		sb.WriteString("\n对话历史:\n")
		start := 0
		if len(history) > historyWindow {
			start = len(history) - historyWindow
		}
		for _, msg := range history[start:] {
			sb.WriteString(string(msg.Role))
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}

	if paymentRetry {
		sb.WriteString("\n")
		sb.WriteString(retryDirectivePrompt)
		sb.WriteString("\n")
	}

	sb.WriteString("\nuser: ")
	sb.WriteString(message)
	return sb.String()
}
