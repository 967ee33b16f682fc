package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"Leno-Agent/internal/auth"
	"Leno-Agent/internal/chat"
	"Leno-Agent/internal/observability/metrics"
	"Leno-Agent/internal/task"
	"Leno-Agent/internal/tool"
	"Leno-Agent/pkg/logger"
)

// 权限范围。
const (
	ScopeRead  = "leno:read"
	ScopeWrite = "leno:write"
)

// ToolInvoker 用于直接调用已注册的工具。
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) tool.Result
}

// Server 负责暴露 REST 与 websocket 接口。
type Server struct {
	addr     string
	chat     *chat.Service
	tasks    *task.Service
	tools    ToolInvoker
	auth     *auth.Service
	origins  []string
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithTaskService 启用 /api/tasks 接口。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) {
		s.tasks = svc
	}
}

// WithToolInvoker 启用 /api/stock/quote 接口。
func WithToolInvoker(invoker ToolInvoker) Option {
	return func(s *Server) {
		s.tools = invoker
	}
}

// WithAuth 配置鉴权服务，nil 表示不鉴权。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithAllowedOrigins 配置 CORS 与 websocket 允许的来源。
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, chatSvc *chat.Service, opts ...Option) *Server {
	s := &Server{addr: addr, chat: chatSvc, origins: []string{"*"}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("api")
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回带有 CORS 与鉴权中间件的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/chat", "chat", s.handleChat)
	s.route(mux, "GET /api/task_history", "task_history", s.handleTaskHistory)
	s.route(mux, "GET /api/healthz", "healthz", s.handleHealth)
	s.route(mux, "GET /api/stock/quote", "stock_quote", s.handleStockQuote)
	s.route(mux, "POST /api/tasks", "tasks_create", s.handleCreateTask)
	s.route(mux, "GET /api/tasks", "tasks_list", s.handleListTasks)
	s.route(mux, "GET /api/tasks/stats", "tasks_stats", s.handleTaskStats)
	s.route(mux, "GET /api/tasks/{id}", "tasks_detail", s.handleTaskDetail)
	s.route(mux, "GET /api/ws", "ws", s.handleWebSocket)
	mux.Handle("GET /metrics", metrics.Handler())

	var handler http.Handler = mux
	if s.auth != nil {
		handler = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredScopes: map[string][]string{
				http.MethodGet:  {ScopeRead},
				http.MethodPost: {ScopeWrite},
			},
			PublicPaths: []string{"/api/healthz", "/metrics"},
		})(handler)
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(handler)
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	mux.Handle(pattern, instrument(name, fn))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// instrument 记录每个路由的请求数与耗时。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
