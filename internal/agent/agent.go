package agent

import (
	"context"
	"log/slog"
	"strings"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/runner"
	"Leno-Agent/internal/session"
	"Leno-Agent/internal/tool"
	"Leno-Agent/pkg/logger"
)

// NoResponse 是推理没有产生可用文本时返回给用户的固定回复。
const NoResponse = "[ERROR] No response generated. Please try again."

// Runner 抽象了通用推理循环。
type Runner interface {
	Run(ctx context.Context, spec runner.Spec, message string) ([]runner.Turn, error)
}

// Agent 是一个拥有独立会话的子智能体。
type Agent struct {
	def    Definition
	runner Runner
	store  session.Store
	key    session.Key
	shared session.Key
	log    *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithSharedSession 指定记录任务日志的共享会话（通常是管理者会话）。
func WithSharedSession(key session.Key) Option {
	return func(a *Agent) {
		a.shared = key
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// New 创建子智能体，user 与 sessionID 组成其会话标识。
func New(def Definition, run Runner, store session.Store, user, sessionID string, opts ...Option) *Agent {
	// 初始化 Agent 实例。
	ag := &Agent{
		def:    def,
		runner: run,
		store:  store,
		key:    session.Key{App: def.SessionApp(), User: user, Session: sessionID},
	}
	// 应用可选配置。
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.log == nil {
		ag.log = logger.Named("agent").With(slog.String("agent", def.Name))
	}
	return ag
}

// Name 返回智能体名称。
func (a *Agent) Name() string { return a.def.Name }

// Definition 返回智能体定义。
func (a *Agent) Definition() Definition { return a.def }

// Key 返回智能体自身的会话标识。
func (a *Agent) Key() session.Key { return a.key }

// Spec 返回传给推理循环的配置。
func (a *Agent) Spec() runner.Spec {
	return runner.Spec{
		Name:        a.def.Name,
		Instruction: a.def.Instruction,
		Tools:       append([]string(nil), a.def.Tools...),
		MaxSteps:    a.def.MaxSteps,
	}
}

// HandleMessage 是子智能体自己的消息处理入口。
func (a *Agent) HandleMessage(ctx context.Context, message string) (string, error) {
	// 验证必要的组件是否已配置。
	if a.runner == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置推理循环")
	}
	if a.store == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置会话存储")
	}

	// 确保自身会话存在。
	if _, err := a.store.Update(ctx, a.key, func(session.State) error { return nil }); err != nil {
		return "", err
	}

	// 记录任务到共享会话。
	if a.shared.Validate() == nil {
		if _, err := RecordTask(ctx, a.store, a.shared, a.def.Name, message); err != nil {
			a.log.Warn("记录任务失败", slog.Any("error", err))
		}
	}

	// 在自身会话上下文中运行推理。
	turns, err := a.runner.Run(session.WithKey(ctx, a.key), a.Spec(), message)
	if err != nil {
		return "", err
	}
	text, ok := runner.LastText(turns)
	if !ok {
		a.log.Warn("推理未产生文本", slog.Int("turns", len(turns)))
		return NoResponse, nil
	}
	return text, nil
}

type delegateArgs struct {
	Request string `json:"request"`
}

// Delegation 是委派工具的成功载荷。
type Delegation struct {
	Agent string `json:"agent"`
	Reply string `json:"reply"`
}

// AsTool 把智能体包装成委派工具，供管理者把请求交给它处理。
func (a *Agent) AsTool() tool.Tool {
	description := a.def.Description
	if description == "" {
		description = "Delegate a request to " + a.def.Name + "."
	}
	spec := llm.ToolSpec{
		Name:        a.def.Name,
		Description: description,
		Parameters: map[string]any{
			"request": map[string]any{
				"type":        "string",
				"description": "The user's request, rewritten so the sub-agent can act on it without further context.",
			},
		},
		Required: []string{"request"},
	}
	// 委派会运行完整的子智能体循环，只受调用方 ctx 约束，不套用 REST 工具的单次超时。
	return tool.WithCallTimeout(tool.Typed(spec, func(ctx context.Context, args delegateArgs) (any, error) {
		if strings.TrimSpace(args.Request) == "" {
			return nil, tool.Invalid("request 不能为空")
		}
		reply, err := a.HandleMessage(ctx, args.Request)
		if err != nil {
			return nil, err
		}
		return Delegation{Agent: a.def.Name, Reply: reply}, nil
	}), 0)
}
