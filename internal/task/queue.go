package task

import "context"

// Handler 处理一条出队的任务 ID；返回错误时由队列实现决定是否重新投递。
type Handler func(ctx context.Context, taskID string) error

// Producer 投递待执行的对话任务 ID。Service.Submit 与 Processor 重试时使用。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以 workerCount 个并发 worker 消费任务 ID，阻塞直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 由内存、Redis list 与 RabbitMQ 三种后端实现。
type Queue interface {
	Producer
	Consumer
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*RabbitMQQueue)(nil)
)
