package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"Leno-Agent/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的参数。
type RedisQueueConfig struct {
	Key       string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现任务队列，连接由会话存储共享。
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
	log    *slog.Logger
}

// NewRedisQueue 基于已有客户端创建 Redis 队列。
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("Redis 客户端不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "leno:tasks"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, key: key, wait: wait, log: logger.Named("task.redis")}, nil
}

// Publish 通过 LPUSH 投递任务。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.key, taskID).Err(); err != nil {
		return fmt.Errorf("Redis 发布任务失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 获取任务，处理失败时重新投递到队尾。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, workerCount)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if ctx.Err() != nil {
						return
					}
					errCh <- fmt.Errorf("Redis 取任务失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				taskID := values[1]
				if handlerErr := handler(ctx, taskID); handlerErr != nil {
					if pushErr := q.client.RPush(context.WithoutCancel(ctx), q.key, taskID).Err(); pushErr != nil {
						q.log.Error("任务重新投递失败", slog.String("task_id", taskID), slog.Any("error", pushErr))
					}
				}
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	cancel()
	wg.Wait()
	return err
}

// Close 不关闭共享的 Redis 客户端。
func (q *RedisQueue) Close() error {
	return nil
}
