package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Leno-Agent/internal/errors"
)

const defaultRedisPrefix = "leno:session:"

// RedisStore 以 JSON 形式把会话保存在 Redis 中，多实例共享。
type RedisStore struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	maxRetries int
}

var _ Store = (*RedisStore)(nil)

// RedisOption 定制 RedisStore。
type RedisOption func(*RedisStore)

// WithTTL 设置会话过期时间，0 表示永不过期。
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPrefix 覆盖键前缀。
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore 基于共享客户端创建会话存储。
func NewRedisStore(client *redis.Client, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client 不能为空")
	}
	store := &RedisStore{client: client, prefix: defaultRedisPrefix, maxRetries: 8}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.App + ":" + key.User + ":" + key.Session
}

// Get 实现 Store 接口。
func (s *RedisStore) Get(ctx context.Context, key Key) (State, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败")
	}
	return decodeState(raw)
}

// Put 实现 Store 接口。
func (s *RedisStore) Put(ctx context.Context, key Key, state State) error {
	if err := key.Validate(); err != nil {
		return err
	}
	payload, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.redisKey(key), payload, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话失败")
	}
	return nil
}

// Update 使用 WATCH 乐观事务完成读改写，冲突时有限次重试。
func (s *RedisStore) Update(ctx context.Context, key Key, fn UpdateFunc) (State, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	redisKey := s.redisKey(key)

	var (
		result  State
		callErr error
	)
	txf := func(tx *redis.Tx) error {
		state := State{}
		raw, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if state, err = decodeState(raw); err != nil {
				return err
			}
		}
		if err := fn(state); err != nil {
			callErr = err
			return err
		}
		payload, err := encodeState(state)
		if err != nil {
			callErr = err
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, s.ttl)
			return nil
		})
		if err == nil {
			result = state
		}
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return result, nil
		}
		if callErr != nil {
			return nil, callErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新会话失败")
	}
	return nil, xerrors.New(CodeSessionConflict, "会话并发更新冲突次数过多", xerrors.WithMetadata("key", key.String()))
}

// Delete 实现 Store 接口。
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

// Close 不关闭共享客户端，由创建方负责。
func (s *RedisStore) Close() error { return nil }

func encodeState(state State) ([]byte, error) {
	if state == nil {
		state = State{}
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "会话状态无法序列化")
	}
	return payload, nil
}

func decodeState(raw []byte) (State, error) {
	state := State{}
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "会话数据损坏")
	}
	return state, nil
}
