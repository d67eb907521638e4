package orchestrator

import (
	"encoding/json"
	"strings"
)

// Directive 是模型在回复中声明的一次工具调用意图。
type Directive struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ExtractDirective 从模型原始输出中提取工具调用指令。
//
// 解析是严格优先、失败降级的：先尝试把整段输出当作 JSON 解析，再扫描
// 文本中每个花括号配对的候选片段。候选必须同时含有非空 tool 字符串和
// args 对象才算指令；都不满足时返回 false，输出按普通文本处理，绝不
// 因格式问题向调用方报错。
func ExtractDirective(raw string) (Directive, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Directive{}, false
	}
	if directive, ok := parseDirective(trimmed); ok {
		return directive, true
	}
	for _, candidate := range braceCandidates(trimmed) {
		if directive, ok := parseDirective(candidate); ok {
			return directive, true
		}
	}
	return Directive{}, false
}

func parseDirective(candidate string) (Directive, bool) {
	var probe struct {
		Tool string          `json:"tool"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return Directive{}, false
	}
	if strings.TrimSpace(probe.Tool) == "" || len(probe.Args) == 0 {
		return Directive{}, false
	}
	args := make(map[string]any)
	if err := json.Unmarshal(probe.Args, &args); err != nil {
		return Directive{}, false
	}
	return Directive{Tool: strings.TrimSpace(probe.Tool), Args: args}, true
}

// braceCandidates 返回文本中所有顶层花括号配对的片段，跳过字符串字面量
// 内的括号。
func braceCandidates(text string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}
