package session

import (
	"context"
	"sync"
)

// MemoryStore 在进程内保存会话，进程退出后即丢失。
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[Key]State
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[Key]State)}
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, key Key) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone()
}

// Put 实现 Store 接口。
func (m *MemoryStore) Put(_ context.Context, key Key, state State) error {
	if err := key.Validate(); err != nil {
		return err
	}
	clone, err := state.Clone()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[key] = clone
	m.mu.Unlock()
	return nil
}

// Update 实现 Store 接口。回调在存储锁内执行，不应阻塞。
func (m *MemoryStore) Update(_ context.Context, key Key, fn UpdateFunc) (State, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	working, err := m.sessions[key].Clone()
	if err != nil {
		return nil, err
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	stored, err := working.Clone()
	if err != nil {
		return nil, err
	}
	m.sessions[key] = stored
	return working, nil
}

// Delete 实现 Store 接口。
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
	return nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
