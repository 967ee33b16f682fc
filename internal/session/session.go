package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "Leno-Agent/internal/errors"
)

// 会话状态中约定的键。
const (
	PendingTradeActionKey = "pending_trade_action"
	LastUserRequestKey    = "last_user_request"
	ActionsKey            = "actions"
	LastTaskSuffix        = "_last_task"
)

const (
	CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"
	CodeSessionConflict xerrors.Code = "SESSION_CONFLICT"
)

// ErrNotFound 表示会话不存在。
var ErrNotFound = xerrors.New(CodeSessionNotFound, "session not found")

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:  "session not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSessionConflict, xerrors.Attributes{
		Message:   "session update conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Key 唯一标识一个会话。
type Key struct {
	App     string `json:"app"`
	User    string `json:"user"`
	Session string `json:"session"`
}

// String 返回便于日志输出的形式。
func (k Key) String() string {
	return k.App + "/" + k.User + "/" + k.Session
}

// Validate 检查三元组是否完整。
func (k Key) Validate() error {
	if k.App == "" || k.User == "" || k.Session == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("会话标识不完整: %q", k.String()))
	}
	return nil
}

// State 是会话携带的键值状态，值必须可以被 JSON 编码。
type State map[string]any

// Clone 通过 JSON 往返得到与原状态不共享任何引用的副本。
func (s State) Clone() (State, error) {
	if s == nil {
		return State{}, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "会话状态无法序列化")
	}
	out := State{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "会话状态无法反序列化")
	}
	return out, nil
}

// UpdateFunc 在原子读改写中修改状态。
type UpdateFunc func(State) error

// Store 抽象了会话状态的持久化接口。
type Store interface {
	// Get 返回会话状态副本，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key Key) (State, error)
	// Put 创建或整体覆盖会话。
	Put(ctx context.Context, key Key, state State) error
	// Update 原子地修改会话，不存在时以空状态开始。
	Update(ctx context.Context, key Key, fn UpdateFunc) (State, error)
	Delete(ctx context.Context, key Key) error
	Close() error
}

// Truthy 按宽松规则判断状态值是否为真。
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "false", "0", "no", "off":
			return false
		}
		return true
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case int32:
		return val != 0
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

type contextKey struct{}

// WithKey 将当前运行的会话写入上下文，供工具定位自身会话。
func WithKey(ctx context.Context, key Key) context.Context {
	return context.WithValue(ctx, contextKey{}, key)
}

// KeyFromContext 读取上下文中的会话标识。
func KeyFromContext(ctx context.Context) (Key, bool) {
	key, ok := ctx.Value(contextKey{}).(Key)
	return key, ok
}
