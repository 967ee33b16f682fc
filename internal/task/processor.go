package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"Leno-Agent/internal/chat"
	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/observability/alerting"
	"Leno-Agent/internal/observability/metrics"
	"Leno-Agent/pkg/logger"
)

// Executor 定义了处理器所需的对话能力，chat.Service 满足该接口。
type Executor interface {
	Dispatch(ctx context.Context, message string) chat.Reply
	Record(ctx context.Context, message string, reply chat.Reply)
}

// Processor 负责从队列消费任务并交给对话服务执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("task.processor")
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}
	if len(task.Context) > 0 {
		p.logger.Debug("任务携带上下文", slog.String("task_id", task.ID), slog.Any("context", task.Context))
	}

	reply := p.executor.Dispatch(ctx, task.Message)
	if reply.Err != nil {
		return p.handleExecutionFailure(ctx, task, reply)
	}

	if err := p.store.MarkSucceeded(ctx, task.ID, reply.Text); err != nil {
		// 对话已经执行过，不能重投；回复仍写入历史，任务以终止失败收尾。
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		p.executor.Record(ctx, task.Message, reply)
		if storeErr := p.store.MarkFailed(ctx, task.ID, CodeTaskProcessing, err.Error(), true); storeErr != nil {
			p.logger.Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
			return storeErr
		}
		p.emitAlert(ctx, task, CodeTaskProcessing, err, "persist")
		metrics.ObserveTask(string(StatusFailed))
		return nil
	}
	p.executor.Record(ctx, task.Message, reply)
	metrics.ObserveTask(string(StatusSucceeded))
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

// handleExecutionFailure 把对话失败记为终止状态。一次对话可能已经调用过下单等
// 有副作用的工具，且待确认交易标记在消费时即被清除，因此失败的对话从不重投。
// 重试只发生在调度之前（领取或入队失败时由队列重新投递）。
func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, reply chat.Reply) error {
	execErr := reply.Err
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), true); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Bool("retryable_code", xerrors.RetryableError(execErr)),
		slog.Int("attempts", task.Attempts),
	)
	p.emitAlert(ctx, task, code, execErr, "dispatch")

	p.executor.Record(ctx, task.Message, reply)
	metrics.ObserveTask(string(StatusFailed))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
