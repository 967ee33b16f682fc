package llm

import (
	"context"
	"encoding/json"
)

// Role 表示对话消息的角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是一条对话消息。RoleTool 消息携带 ToolCallID 与工具结果文本。
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
	IsError    bool
}

// ToolCall 是模型请求执行的一次工具调用。
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSpec 描述一个可供模型调用的工具，Parameters 为 JSON Schema 的 properties。
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
	Required    []string
}

// Request 描述发送给大模型的一轮推理上下文。
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// Response 是大模型一次推理的输出，Text 与 ToolCalls 可以同时出现。
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Schema 把工具参数组装成完整的 object JSON Schema。
func (s ToolSpec) Schema() map[string]any {
	props := s.Parameters
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}
