package runner

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/tool"
	"Leno-Agent/pkg/logger"
)

const defaultMaxSteps = 8

// Spec 描述一次运行所使用的智能体配置。
type Spec struct {
	Name        string
	Instruction string
	Tools       []string
	MaxSteps    int
}

// ToolResult 是一次工具调用的结果。
type ToolResult struct {
	CallID string
	Name   string
	Result tool.Result
}

// Part 是 Turn 的组成部分，三个字段中只有一个非空。
type Part struct {
	Text       string
	ToolCall   *llm.ToolCall
	ToolResult *ToolResult
}

// Turn 是运行过程中产生的一个回合。
type Turn struct {
	Author string
	Role   llm.Role
	Parts  []Part
}

// Runner 驱动模型与工具之间的交互。
type Runner struct {
	client     llm.Client
	registry   *tool.Registry
	maxSteps   int
	llmTimeout time.Duration
	log        *slog.Logger
}

// Option 定义可选的 Runner 配置。
type Option func(*Runner)

// WithMaxSteps 设置 Spec 未指定时的模型调用次数上限。
func WithMaxSteps(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithLLMTimeout 设置单次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout < 0 {
			timeout = 0
		}
		r.llmTimeout = timeout
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// New 创建 Runner。
func New(client llm.Client, registry *tool.Registry, opts ...Option) *Runner {
	r := &Runner{
		client:   client,
		registry: registry,
		maxSteps: defaultMaxSteps,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.log == nil {
		r.log = logger.Named("runner")
	}
	return r
}

// Run 以单条用户消息启动一次运行，返回按顺序产生的全部回合。
func (r *Runner) Run(ctx context.Context, spec Spec, message string) ([]Turn, error) {
	// 验证必要的组件是否已配置。
	if r.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	// 准备工具声明，智能体只能调用自己声明的工具。
	var specs []llm.ToolSpec
	allowed := make(map[string]struct{}, len(spec.Tools))
	if len(spec.Tools) > 0 {
		if r.registry == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具注册表")
		}
		var err error
		specs, err = r.registry.Specs(spec.Tools...)
		if err != nil {
			return nil, err
		}
		for _, name := range spec.Tools {
			allowed[name] = struct{}{}
		}
	}

	maxSteps := spec.MaxSteps
	if maxSteps <= 0 {
		maxSteps = r.maxSteps
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: message}}
	var turns []Turn

	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return turns, xerrors.Wrap(xerrors.CodeTimeout, err, "运行被取消")
		}

		// 调用大模型。
		resp, err := r.generate(ctx, llm.Request{
			System:   spec.Instruction,
			Messages: messages,
			Tools:    specs,
		})
		if err != nil {
			return turns, err
		}
		if resp == nil || (strings.TrimSpace(resp.Text) == "" && len(resp.ToolCalls) == 0) {
			r.log.Debug("模型未产生输出", slog.String("agent", spec.Name), slog.Int("step", step))
			return turns, nil
		}

		// 记录模型回合。
		turn := Turn{Author: spec.Name, Role: llm.RoleAssistant}
		if resp.Text != "" {
			turn.Parts = append(turn.Parts, Part{Text: resp.Text})
		}
		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			turn.Parts = append(turn.Parts, Part{ToolCall: &call})
		}
		turns = append(turns, turn)
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		if len(resp.ToolCalls) == 0 {
			return turns, nil
		}

		// 依次执行工具调用，结果组成一个工具回合。
		toolTurn := Turn{Author: spec.Name, Role: llm.RoleTool}
		for _, call := range resp.ToolCalls {
			var res tool.Result
			if _, ok := allowed[call.Name]; !ok {
				res = tool.Err(tool.KindNotFound, fmt.Sprintf("智能体 %s 无权调用工具 %s", spec.Name, call.Name))
			} else {
				res = r.registry.Invoke(ctx, call.Name, call.Arguments)
			}
			r.log.Debug("工具调用",
				slog.String("agent", spec.Name),
				slog.String("tool", call.Name),
				slog.String("status", res.Status()))

			toolTurn.Parts = append(toolTurn.Parts, Part{ToolResult: &ToolResult{CallID: call.ID, Name: call.Name, Result: res}})
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    res.String(),
				ToolCallID: call.ID,
				Name:       call.Name,
				IsError:    !res.IsOk(),
			})
		}
		turns = append(turns, toolTurn)
	}

	r.log.Warn("达到最大推理步数", slog.String("agent", spec.Name), slog.Int("max_steps", maxSteps))
	return turns, nil
}

func (r *Runner) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	llmCtx := ctx
	if r.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, r.llmTimeout)
		defer cancel()
	}
	resp, err := r.client.Generate(llmCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		if e, ok := xerrors.From(err); ok && e.Code() != xerrors.CodeUnknown {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "大模型推理失败")
	}
	return resp, nil
}

// LastText 返回最后一个回合第一个部分的文本。
func LastText(turns []Turn) (string, bool) {
	if len(turns) == 0 {
		return "", false
	}
	last := turns[len(turns)-1]
	if len(last.Parts) == 0 || last.Parts[0].Text == "" {
		return "", false
	}
	return last.Parts[0].Text, true
}
