// Package chat 是与传输协议无关的对话外壳：调用分发器、捕获错误与 panic、
// 记录任务历史。HTTP、websocket 与异步任务共用同一个 Service。
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"Leno-Agent/internal/auth"
	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/history"
	"Leno-Agent/internal/observability/metrics"
	"Leno-Agent/pkg/logger"
)

// ErrorPrefix 是失败回复的前缀。
const ErrorPrefix = "[ERROR] "

// Dispatcher 抽象了管理者分发器。
type Dispatcher interface {
	Handle(ctx context.Context, message string) (string, error)
}

// Reply 是一次对话的结果。
type Reply struct {
	Text   string
	Status history.Status
	Err    error
}

// Service 包装分发器，保证每次对话都有回复并写入历史。
type Service struct {
	dispatcher Dispatcher
	history    history.Log
	user       string
	log        *slog.Logger
}

// Option 定义可选的 Service 配置。
type Option func(*Service)

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService 创建对话服务，user 是写入历史的默认用户。
func NewService(d Dispatcher, h history.Log, user string, opts ...Option) *Service {
	if h == nil {
		h = history.NewMemoryLog()
	}
	s := &Service{dispatcher: d, history: h, user: user}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("chat")
	}
	return s
}

// Chat 处理一条消息。它从不失败：分发器的错误或 panic 转换为 "[ERROR] <err>" 回复。
func (s *Service) Chat(ctx context.Context, message string) Reply {
	reply := s.dispatch(ctx, message)
	if reply.Err != nil {
		s.log.Error("对话处理失败",
			slog.String("code", string(xerrors.CodeOf(reply.Err))),
			slog.Any("error", reply.Err))
	}
	s.Record(ctx, message, reply)
	return reply
}

// Dispatch 调用分发器但不写入历史，供需要自行决定重试与记录时机的调用方使用。
func (s *Service) Dispatch(ctx context.Context, message string) Reply {
	return s.dispatch(ctx, message)
}

func (s *Service) dispatch(ctx context.Context, message string) (reply Reply) {
	defer func() {
		if rec := recover(); rec != nil {
			err := xerrors.New(xerrors.CodeDispatchFailure, fmt.Sprintf("%v", rec))
			reply = Reply{Text: ErrorPrefix + err.Message(), Status: history.StatusError, Err: err}
		}
	}()
	if s.dispatcher == nil {
		err := xerrors.New(xerrors.CodeInitializationFailure, "未配置分发器")
		return Reply{Text: ErrorPrefix + err.Message(), Status: history.StatusError, Err: err}
	}
	text, err := s.dispatcher.Handle(ctx, message)
	if err != nil {
		return Reply{Text: ErrorPrefix + err.Error(), Status: history.StatusError, Err: err}
	}
	return Reply{Text: text, Status: history.StatusCompleted}
}

// Record 写入一条历史记录，认证主体存在时以其为用户。
func (s *Service) Record(ctx context.Context, message string, reply Reply) {
	metrics.ObserveChat(string(reply.Status))
	user := s.user
	if subject := auth.SubjectFromContext(ctx); subject != nil && strings.TrimSpace(subject.ID) != "" {
		user = subject.ID
	}
	entry := history.Entry{
		User:     user,
		Request:  message,
		Response: reply.Text,
		Status:   reply.Status,
	}
	// 历史写入不受请求取消影响。
	if _, err := s.history.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Error("写入任务历史失败", slog.Any("error", err))
	}
}

// History 返回完整的任务历史。
func (s *Service) History(ctx context.Context) ([]history.Entry, error) {
	entries, err := s.history.List(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}
