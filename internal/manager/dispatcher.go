package manager

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"Leno-Agent/internal/agent"
	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/observability/metrics"
	"Leno-Agent/internal/runner"
	"Leno-Agent/internal/session"
	"Leno-Agent/pkg/logger"
)

// 分发路由名称。
const (
	RouteGeneric   = "generic"
	RouteBrokerage = "brokerage"
)

// Identity 是分发器使用的固定会话标识。
type Identity struct {
	App          string
	BrokerageApp string
	User         string
	Session      string
}

// DefaultIdentity 返回默认会话标识。
func DefaultIdentity() Identity {
	return Identity{
		App:          "agent4_app",
		BrokerageApp: "stock_agent",
		User:         "user_1",
		Session:      "session_001",
	}
}

// ManagerKey 返回管理者会话标识。
func (id Identity) ManagerKey() session.Key {
	return session.Key{App: id.App, User: id.User, Session: id.Session}
}

// BrokerageKey 返回券商会话标识。
func (id Identity) BrokerageKey() session.Key {
	return session.Key{App: id.BrokerageApp, User: id.User, Session: id.Session}
}

// MessageHandler 是券商智能体自己的消息处理入口。
type MessageHandler interface {
	HandleMessage(ctx context.Context, message string) (string, error)
}

// Dispatcher 把用户消息路由到券商智能体或通用推理循环。
type Dispatcher struct {
	store     session.Store
	runner    agent.Runner
	spec      runner.Spec
	brokerage MessageHandler
	id        Identity
	locker    session.Locker
	log       *slog.Logger
}

// Option 定义可选的 Dispatcher 配置。
type Option func(*Dispatcher)

// WithLocker 按管理者会话串行化 Handle，默认不加锁。
func WithLocker(l session.Locker) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.locker = l
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// New 创建分发器。brokerage 可以为 nil，此时所有消息都交给通用推理循环。
func New(store session.Store, run agent.Runner, spec runner.Spec, brokerage MessageHandler, id Identity, opts ...Option) *Dispatcher {
	def := DefaultIdentity()
	if id.App == "" {
		id.App = def.App
	}
	if id.BrokerageApp == "" {
		id.BrokerageApp = def.BrokerageApp
	}
	if id.User == "" {
		id.User = def.User
	}
	if id.Session == "" {
		id.Session = def.Session
	}
	d := &Dispatcher{
		store:     store,
		runner:    run,
		spec:      spec,
		brokerage: brokerage,
		id:        id,
		locker:    session.NopLocker{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.log == nil {
		d.log = logger.Named("manager")
	}
	return d
}

// Identity 返回分发器使用的会话标识。
func (d *Dispatcher) Identity() Identity { return d.id }

// Handle 处理一条用户消息并返回回复文本。错误原样向上传递。
func (d *Dispatcher) Handle(ctx context.Context, message string) (string, error) {
	// 验证必要的组件是否已配置。
	if d.store == nil || d.runner == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "分发器未完整配置")
	}

	managerKey := d.id.ManagerKey()
	unlock, err := d.locker.Lock(ctx, managerKey)
	if err != nil {
		return "", err
	}
	defer unlock()

	// 覆盖写入管理者会话。
	if err := d.store.Put(ctx, managerKey, session.State{session.LastUserRequestKey: message}); err != nil {
		return "", err
	}

	// 存在待确认交易时直接交给券商智能体。
	pending, err := d.consumePendingTrade(ctx)
	if err != nil {
		return "", err
	}
	if pending {
		d.log.Debug("存在待确认交易，路由到券商智能体", slog.String("session", d.id.BrokerageKey().String()))
		metrics.ObserveDispatch(RouteBrokerage)
		return d.brokerage.HandleMessage(ctx, message)
	}

	// 交给通用推理循环。
	d.log.Debug("路由到通用推理循环", slog.String("agent", d.spec.Name))
	metrics.ObserveDispatch(RouteGeneric)
	turns, err := d.runner.Run(session.WithKey(ctx, managerKey), d.spec, message)
	if err != nil {
		return "", err
	}
	text, ok := runner.LastText(turns)
	if !ok {
		d.log.Error("推理未产生回复", slog.Int("turns", len(turns)))
		return agent.NoResponse, nil
	}
	return text, nil
}

// consumePendingTrade 检查券商会话中的待确认交易标记，存在时清除并返回 true。
func (d *Dispatcher) consumePendingTrade(ctx context.Context) (bool, error) {
	if d.brokerage == nil {
		return false, nil
	}
	key := d.id.BrokerageKey()
	state, err := d.store.Get(ctx, key)
	if err != nil {
		if stdErrors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !session.Truthy(state[session.PendingTradeActionKey]) {
		return false, nil
	}

	consumed := false
	if _, err := d.store.Update(ctx, key, func(s session.State) error {
		consumed = session.Truthy(s[session.PendingTradeActionKey])
		delete(s, session.PendingTradeActionKey)
		return nil
	}); err != nil {
		return false, err
	}
	return consumed, nil
}
