package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	xerrors "Leno-Agent/internal/errors"
)

// Policy 决定按名称查找资源时的匹配策略。
type Policy string

const (
	// ResolveStrict 只接受忽略大小写的完全匹配。
	ResolveStrict Policy = "strict"
	// ResolveBestEffort 优先完全匹配，否则退回到列表中的第一个候选。
	ResolveBestEffort Policy = "best_effort"
)

// ParsePolicy 解析配置中的策略名称，默认 strict。
func ParsePolicy(s string) Policy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "best_effort", "best-effort", "besteffort":
		return ResolveBestEffort
	default:
		return ResolveStrict
	}
}

// Candidate 是一次列举得到的候选资源。
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Lister 列举与查询相关的候选资源。
type Lister func(ctx context.Context, query string) ([]Candidate, error)

// Match 在候选集合中按策略选择一个。
func Match(query string, candidates []Candidate, policy Policy) (Candidate, error) {
	needle := strings.TrimSpace(query)
	for _, c := range candidates {
		if strings.EqualFold(strings.TrimSpace(c.Name), needle) {
			return c, nil
		}
	}
	if policy == ResolveBestEffort && len(candidates) > 0 {
		return candidates[0], nil
	}
	return Candidate{}, xerrors.New(CodeResolveNoMatch, fmt.Sprintf("未找到名称为 %q 的资源", query))
}

// Resolver 按名称解析资源 ID，并缓存成功的结果。
type Resolver struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewResolver 创建解析器，maxEntries 为缓存可容纳的条目数。
func NewResolver(maxEntries int64, ttl time.Duration) (*Resolver, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("创建解析缓存失败: %w", err)
	}
	return &Resolver{cache: cache, ttl: ttl}, nil
}

// Resolve 先查缓存，未命中时调用 list 列举并按策略匹配。
func (r *Resolver) Resolve(ctx context.Context, namespace, query string, policy Policy, list Lister) (Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return Candidate{}, xerrors.New(xerrors.CodeInvalidArgument, "待解析的名称不能为空")
	}
	key := namespace + "\x00" + string(policy) + "\x00" + strings.ToLower(strings.TrimSpace(query))
	if r != nil && r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			if c, ok := cached.(Candidate); ok {
				return c, nil
			}
		}
	}

	candidates, err := list(ctx, query)
	if err != nil {
		return Candidate{}, err
	}
	match, err := Match(query, candidates, policy)
	if err != nil {
		return Candidate{}, err
	}
	if r != nil && r.cache != nil {
		r.cache.SetWithTTL(key, match, 1, r.ttl)
		r.cache.Wait()
	}
	return match, nil
}

// Close 释放缓存资源。
func (r *Resolver) Close() {
	if r != nil && r.cache != nil {
		r.cache.Close()
	}
}
