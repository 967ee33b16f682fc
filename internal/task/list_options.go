package task

import (
	"strings"
	"time"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SortOrder 决定列表按 UpdatedAt 排序的方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的任务在前，默认值。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的任务在前。
	SortByUpdatedAsc
)

// ListOptions 描述查询任务列表与统计时的过滤条件。
// UpdatedGTE/UpdatedLTE 为 Unix 秒，0 表示不限制。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	UpdatedGTE int64
	UpdatedLTE int64
	HasReply   *bool
	Order      SortOrder
	Query      string
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		opts.Limit = maxListLimit
	}
	opts.Offset = max(opts.Offset, 0)
	opts.Statuses = dedupeStatuses(opts.Statuses)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, apply := range opts {
		if apply != nil {
			apply(&options)
		}
	}
	options.applyDefaults()
	return options
}

// WithLimit 限制返回条数，超过上限时截断为 100。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 offset 条匹配记录。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 只保留指定状态的任务，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithStatusNames 解析逗号分隔的状态名，例如 "pending,failed"。
func WithStatusNames(names ...string) ListOption {
	return func(opts *ListOptions) {
		for _, name := range names {
			for _, part := range strings.Split(name, ",") {
				if status, ok := ParseStatus(strings.TrimSpace(part)); ok {
					opts.Statuses = append(opts.Statuses, status)
				}
			}
		}
	}
}

// WithUpdatedSince 只保留在 ts 之后（含）更新过的任务。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留在 ts 之前（含）更新过的任务。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithReplyPresence 按是否已有回复过滤。
func WithReplyPresence(hasReply bool) ListOption {
	return func(opts *ListOptions) { opts.HasReply = &hasReply }
}

// WithSortOrder 设置排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 在 ID、消息、上下文、错误和回复中做不区分大小写的子串匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func dedupeStatuses(input []Status) []Status {
	var result []Status
	seen := make(map[Status]bool, len(input))
	for _, status := range input {
		if !IsValidStatus(status) || seen[status] {
			continue
		}
		seen[status] = true
		result = append(result, status)
	}
	return result
}
