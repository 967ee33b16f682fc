package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "Leno-Agent/internal/errors"
)

// Locker 串行化对同一会话的请求，Lock 返回的函数用于释放锁。
type Locker interface {
	Lock(ctx context.Context, key Key) (func(), error)
}

// NopLocker 不做任何互斥，并发请求按最后写入为准。
type NopLocker struct{}

// Lock 实现 Locker 接口。
func (NopLocker) Lock(context.Context, Key) (func(), error) { return func() {}, nil }

// KeyedMutex 为每个会话维护一把进程内互斥锁。
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[Key]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex 创建进程内的会话锁。
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[Key]*keyedEntry)}
}

// Lock 实现 Locker 接口，等待期间响应 ctx 取消。
func (k *KeyedMutex) Lock(ctx context.Context, key Key) (func(), error) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.release(key, entry)
		})
	}, nil
}

func (k *KeyedMutex) release(key Key, entry *keyedEntry) {
	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式会话锁。
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker 创建分布式锁，ttl 为锁的最长持有时间。
func NewRedisLocker(client *redis.Client, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client 不能为空")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, prefix: "leno:lock:", ttl: ttl, retry: 50 * time.Millisecond}, nil
}

// Lock 实现 Locker 接口。
func (l *RedisLocker) Lock(ctx context.Context, key Key) (func(), error) {
	name := l.prefix + key.String()
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取会话锁失败")
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待会话锁超时")
		case <-time.After(l.retry):
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = unlockScript.Run(releaseCtx, l.client, []string{name}, token).Err()
		})
	}, nil
}
