package tool

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/llm"
)

const (
	CodeToolNotFound   xerrors.Code = "TOOL_NOT_FOUND"
	CodeResolveNoMatch xerrors.Code = "RESOLVE_NO_MATCH"
)

func init() {
	xerrors.Register(CodeToolNotFound, xerrors.Attributes{
		Message:  "tool not found",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeResolveNoMatch, xerrors.Attributes{
		Message:  "no matching resource",
		Severity: xerrors.SeverityInfo,
	})
}

// Tool 是可以被智能体调用的一项能力。实现不得向外抛出错误，所有失败都编码在 Result 中。
type Tool interface {
	Spec() llm.ToolSpec
	Call(ctx context.Context, args json.RawMessage) Result
}

// CallTimeouter 由需要自定义单次调用超时的工具实现。返回值 <= 0 表示不设单独超时，
// 调用只受调用方 ctx 约束。
type CallTimeouter interface {
	CallTimeout() time.Duration
}

type timedTool struct {
	Tool
	timeout time.Duration
}

func (t timedTool) CallTimeout() time.Duration { return t.timeout }

// WithCallTimeout 为工具指定自己的调用超时，覆盖 Registry 的默认值。d <= 0 表示不设超时。
func WithCallTimeout(t Tool, d time.Duration) Tool {
	return timedTool{Tool: t, timeout: d}
}

// Func 把普通函数包装成 Tool。
type Func struct {
	ToolSpec llm.ToolSpec
	Fn       func(ctx context.Context, args json.RawMessage) Result
}

// Spec 实现 Tool 接口。
func (f Func) Spec() llm.ToolSpec { return f.ToolSpec }

// Call 实现 Tool 接口。
func (f Func) Call(ctx context.Context, args json.RawMessage) Result { return f.Fn(ctx, args) }

// Typed 根据参数结构体 A 自动完成参数解码与错误映射。fn 可以直接返回 Result。
func Typed[A any](spec llm.ToolSpec, fn func(ctx context.Context, args A) (any, error)) Tool {
	return Func{
		ToolSpec: spec,
		Fn: func(ctx context.Context, raw json.RawMessage) Result {
			var args A
			if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && trimmed != "null" {
				if err := json.Unmarshal(raw, &args); err != nil {
					return Err(KindInvalidArgument, "参数解析失败: "+err.Error())
				}
			}
			payload, err := fn(ctx, args)
			if err != nil {
				return FromError(err)
			}
			if res, ok := payload.(Result); ok {
				return res
			}
			return Ok(payload)
		},
	}
}

// Invalid 构造参数错误，供工具实现使用。
func Invalid(format string, args ...any) error {
	return xerrors.Messagef(xerrors.CodeInvalidArgument, format, args...)
}
