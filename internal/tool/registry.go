package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/observability/metrics"
	"Leno-Agent/pkg/logger"
)

const defaultInvokeTimeout = 10 * time.Second

// Registry 保存全部工具，并负责带超时、带恢复地调用它们。
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	log     *slog.Logger
}

// RegistryOption 定制 Registry。
type RegistryOption func(*Registry)

// WithTimeout 设置单次调用超时。
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry 创建工具注册表。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Tool), timeout: defaultInvokeTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.log == nil {
		r.log = logger.Named("tool")
	}
	return r
}

// Register 注册工具，名称重复时返回错误。
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t == nil {
			continue
		}
		name := t.Spec().Name
		if name == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
		}
		if _, exists := r.tools[name]; exists {
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具 %s 重复注册", name))
		}
		r.tools[name] = t
	}
	return nil
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names 返回排序后的工具名称。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs 返回指定工具的声明，任一名称未注册即报错。
func (r *Registry) Specs(names ...string) ([]llm.ToolSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, xerrors.New(CodeToolNotFound, fmt.Sprintf("工具 %s 未注册", name))
		}
		specs = append(specs, t.Spec())
	}
	return specs, nil
}

// Invoke 调用工具。任何失败（包括未知工具、panic、超时）都以失败信封返回。
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) Result {
	start := time.Now()
	t, ok := r.Lookup(name)
	if !ok {
		res := Err(KindNotFound, fmt.Sprintf("工具 %s 不存在", name))
		metrics.ObserveTool(name, res.Status(), time.Since(start))
		return res
	}

	timeout := r.timeout
	if ct, ok := t.(CallTimeouter); ok {
		timeout = ct.CallTimeout()
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("工具执行发生 panic", slog.String("tool", name), slog.Any("panic", rec))
				done <- Err(KindInternal, fmt.Sprintf("工具 %s 执行异常: %v", name, rec))
			}
		}()
		done <- t.Call(callCtx, args)
	}()

	var res Result
	select {
	case res = <-done:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			res = Err(KindTimeout, fmt.Sprintf("工具 %s 调用被取消: %v", name, ctx.Err()))
		} else {
			res = Err(KindTimeout, fmt.Sprintf("工具 %s 调用超时 (%s)", name, timeout))
		}
	}

	elapsed := time.Since(start)
	metrics.ObserveTool(name, res.Status(), elapsed)
	if res.IsOk() {
		r.log.Debug("工具调用完成", slog.String("tool", name), slog.Duration("elapsed", elapsed))
	} else {
		r.log.Warn("工具调用失败", slog.String("tool", name), slog.String("kind", string(res.Kind())), slog.String("message", res.Message()))
	}
	return res
}
