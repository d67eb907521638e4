// Package orchestrator 是对话驱动的核心状态机：把用户消息交给模型、
// 从输出中提取工具调用指令、经支付闸门裁决后调度上游工具，并串联
// 存证与计费。模型只负责选择工具，付不付钱由闸门说了算。
package orchestrator
