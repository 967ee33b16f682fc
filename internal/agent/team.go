package agent

import (
	"fmt"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/runner"
	"Leno-Agent/internal/session"
	"Leno-Agent/internal/tool"
)

// TeamConfig 给出会话标识的公共部分。
type TeamConfig struct {
	User         string
	Session      string
	ManagerApp   string
	BrokerageApp string
}

// Team 是根据目录构建的一组智能体。
type Team struct {
	manager    runner.Spec
	managerKey session.Key
	agents     map[string]*Agent
	order      []string
	brokerage  *Agent
}

// NewTeam 根据目录构建全部子智能体，把委派工具、交易确认工具与任务记录工具注册到 registry，
// 并校验每个智能体引用的工具都已注册。
func NewTeam(cat Catalog, run Runner, store session.Store, registry *tool.Registry, cfg TeamConfig, opts ...Option) (*Team, error) {
	if err := cat.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "智能体目录无效")
	}
	if registry == nil || store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具注册表或会话存储")
	}

	managerApp := cfg.ManagerApp
	if managerApp == "" {
		managerApp = cat.Manager.SessionApp()
	}
	team := &Team{
		managerKey: session.Key{App: managerApp, User: cfg.User, Session: cfg.Session},
		agents:     make(map[string]*Agent, len(cat.Agents)),
	}
	if err := team.managerKey.Validate(); err != nil {
		return nil, err
	}

	agentOpts := append([]Option{WithSharedSession(team.managerKey)}, opts...)
	for _, def := range cat.Agents {
		if def.Brokerage && cfg.BrokerageApp != "" {
			if def.App == "" {
				def.App = cfg.BrokerageApp
			} else if def.App != cfg.BrokerageApp {
				return nil, xerrors.New(xerrors.CodeInvalidArgument,
					fmt.Sprintf("券商智能体 %s 的会话应用 %s 与配置 %s 不一致", def.Name, def.App, cfg.BrokerageApp))
			}
		}
		ag := New(def, run, store, cfg.User, cfg.Session, agentOpts...)
		team.agents[def.Name] = ag
		team.order = append(team.order, def.Name)
		if def.Brokerage {
			team.brokerage = ag
		}
		if err := registry.Register(ag.AsTool()); err != nil {
			return nil, err
		}
	}

	fallback := team.managerKey
	if team.brokerage != nil {
		fallback = team.brokerage.Key()
	}
	for _, t := range []tool.Tool{TradeConfirmationTool(store, fallback, nil), RecordTaskTool(store, team.managerKey)} {
		if _, exists := registry.Lookup(t.Spec().Name); exists {
			continue
		}
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	tools := append([]string(nil), cat.Manager.Tools...)
	seen := make(map[string]struct{}, len(tools))
	for _, name := range tools {
		seen[name] = struct{}{}
	}
	for _, name := range team.order {
		if _, ok := seen[name]; !ok {
			tools = append(tools, name)
		}
	}
	team.manager = runner.Spec{
		Name:        cat.Manager.Name,
		Instruction: cat.Manager.Instruction,
		Tools:       tools,
		MaxSteps:    cat.Manager.MaxSteps,
	}

	// 校验工具引用。
	if _, err := registry.Specs(team.manager.Tools...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "管理者引用了未注册的工具")
	}
	for _, name := range team.order {
		if _, err := registry.Specs(team.agents[name].def.Tools...); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("智能体 %s 引用了未注册的工具", name))
		}
	}
	return team, nil
}

// ManagerSpec 返回管理者的推理配置，工具列表包含全部委派工具。
func (t *Team) ManagerSpec() runner.Spec { return t.manager }

// ManagerKey 返回管理者会话标识。
func (t *Team) ManagerKey() session.Key { return t.managerKey }

// Agent 按名称查找子智能体。
func (t *Team) Agent(name string) (*Agent, bool) {
	ag, ok := t.agents[name]
	return ag, ok
}

// Agents 按目录顺序返回全部子智能体。
func (t *Team) Agents() []*Agent {
	out := make([]*Agent, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.agents[name])
	}
	return out
}

// Brokerage 返回券商智能体。
func (t *Team) Brokerage() (*Agent, bool) {
	return t.brokerage, t.brokerage != nil
}
