// Package history 记录每一次对话请求的结果，只追加、不修改、不裁剪。
package history

import (
	"context"
	"sync"
	"time"
)

// Status 描述一次请求的最终结果。
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Entry 是任务历史中的一条记录。
type Entry struct {
	User      string    `json:"user"`
	Request   string    `json:"request"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}

// Log 抽象了任务历史的持久化方式。
type Log interface {
	// Append 追加记录并返回最终写入的内容（含时间戳）。
	Append(ctx context.Context, entry Entry) (Entry, error)
	// List 按追加顺序返回全部记录。
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Clock 保证同一日志内的时间戳单调不减。
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock 创建时钟，now 为空时使用 time.Now。
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Stamp 为记录分配 UTC 时间戳，且不早于此前分配过的任何时间戳。
func (c *Clock) Stamp(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	ts = ts.UTC()
	if ts.Before(c.last) {
		ts = c.last
	}
	c.last = ts
	entry.Timestamp = ts
}

// Observe 用已存在的记录推进时钟，用于从持久化介质恢复。
func (c *Clock) Observe(ts time.Time) {
	c.mu.Lock()
	if ts.After(c.last) {
		c.last = ts.UTC()
	}
	c.mu.Unlock()
}

// MemoryLog 在进程内保存任务历史。
type MemoryLog struct {
	mu      sync.RWMutex
	clock   *Clock
	entries []Entry
}

var _ Log = (*MemoryLog)(nil)

// NewMemoryLog 创建内存历史。
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{clock: NewClock(nil)}
}

// Append 实现 Log 接口。
func (m *MemoryLog) Append(_ context.Context, entry Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock.Stamp(&entry)
	m.entries = append(m.entries, entry)
	return entry, nil
}

// List 实现 Log 接口。
func (m *MemoryLog) List(context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Close 实现 Log 接口。
func (m *MemoryLog) Close() error { return nil }
