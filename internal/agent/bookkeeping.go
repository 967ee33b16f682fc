package agent

import (
	"context"
	"strings"

	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/session"
	"Leno-Agent/internal/tool"
)

// RecordTask 在共享会话中写入 <agent>_last_task 并向 actions 追加一条记录。
func RecordTask(ctx context.Context, store session.Store, shared session.Key, agentName, task string) (session.State, error) {
	return store.Update(ctx, shared, func(state session.State) error {
		state[agentName+session.LastTaskSuffix] = task
		actions, _ := state[session.ActionsKey].([]any)
		state[session.ActionsKey] = append(actions, map[string]any{
			"agent": agentName,
			"task":  task,
		})
		return nil
	})
}

type recordArgs struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// RecordTaskTool 把 RecordTask 暴露为工具；未指定 agent 时使用当前运行会话的应用名。
func RecordTaskTool(store session.Store, shared session.Key) tool.Tool {
	spec := llm.ToolSpec{
		Name:        "record_task",
		Description: "Record the task you are working on in the shared session so other agents can see it.",
		Parameters: map[string]any{
			"task":  map[string]any{"type": "string", "description": "Short description of the task."},
			"agent": map[string]any{"type": "string", "description": "Agent name, defaults to the calling agent."},
		},
		Required: []string{"task"},
	}
	return tool.Typed(spec, func(ctx context.Context, args recordArgs) (any, error) {
		if strings.TrimSpace(args.Task) == "" {
			return nil, tool.Invalid("task 不能为空")
		}
		name := strings.TrimSpace(args.Agent)
		if name == "" {
			if key, ok := session.KeyFromContext(ctx); ok {
				name = key.App
			}
		}
		if name == "" {
			return nil, tool.Invalid("无法确定 agent 名称")
		}
		state, err := RecordTask(ctx, store, shared, name, args.Task)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			session.LastUserRequestKey:    state[session.LastUserRequestKey],
			name + session.LastTaskSuffix: args.Task,
			"all_actions":                 state[session.ActionsKey],
		}, nil
	})
}
