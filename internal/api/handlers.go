package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "Leno-Agent/internal/errors"
	"Leno-Agent/internal/task"
	"Leno-Agent/internal/tool"
)

// QuoteTool 是 /api/stock/quote 调用的工具名。
const QuoteTool = "get_realtime_quote"

const maxBodyBytes = 1 << 20

// ChatRequest 是 POST /api/chat 的请求体。
type ChatRequest struct {
	Message *string        `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ChatResponse 是 POST /api/chat 的响应体。
type ChatResponse struct {
	Reply string `json:"reply"`
}

// SubmitTaskRequest 是 POST /api/tasks 的请求体。
type SubmitTaskRequest struct {
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "对话服务未初始化"))
		return
	}
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Message == nil {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "message 字段不能为空"))
		return
	}
	if len(req.Context) > 0 {
		s.log.Debug("收到附加上下文", slog.Any("context", req.Context))
	}
	reply := s.chat.Chat(r.Context(), *req.Message)
	writeJSON(w, http.StatusOK, ChatResponse{Reply: reply.Text})
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "对话服务未初始化"))
		return
	}
	entries, err := s.chat.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStockQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, tool.Err(tool.KindInvalidArgument, "symbol is required"))
		return
	}
	if s.tools == nil {
		writeJSON(w, http.StatusServiceUnavailable, tool.Err(tool.KindInternal, "tool registry is not configured"))
		return
	}
	args, _ := json.Marshal(map[string]string{"symbol": strings.ToUpper(symbol)})
	result := s.tools.Invoke(r.Context(), QuoteTool, args)
	writeJSON(w, statusForResult(result), result)
}

func statusForResult(result tool.Result) int {
	if result.IsOk() {
		return http.StatusOK
	}
	switch result.Kind() {
	case tool.KindInvalidArgument:
		return http.StatusBadRequest
	case tool.KindNotFound:
		return http.StatusNotFound
	case tool.KindUnauthorized:
		return http.StatusUnauthorized
	case tool.KindVendor:
		return http.StatusBadGateway
	case tool.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	var req SubmitTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := s.tasks.Submit(r.Context(), task.Request{ID: req.ID, Message: req.Message, Context: req.Context})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空"))
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// parseListOptions 解析 status、limit、offset、q、order、has_reply、since、until 查询参数。
func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	opts := make([]task.ListOption, 0, 8)
	if statuses := query["status"]; len(statuses) > 0 {
		opts = append(opts, task.WithStatusNames(statuses...))
	}
	for _, param := range []struct {
		name  string
		apply func(int) task.ListOption
	}{
		{"limit", task.WithLimit},
		{"offset", task.WithOffset},
	} {
		if raw := query.Get(param.name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, xerrors.Messagef(xerrors.CodeInvalidArgument, "%s 必须为整数", param.name)
			}
			opts = append(opts, param.apply(n))
		}
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	if strings.EqualFold(query.Get("order"), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	if raw := query.Get("has_reply"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_reply 必须为布尔值")
		}
		opts = append(opts, task.WithReplyPresence(has))
	}
	for _, param := range []struct {
		name  string
		apply func(time.Time) task.ListOption
	}{
		{"since", task.WithUpdatedSince},
		{"until", task.WithUpdatedUntil},
	} {
		if raw := query.Get(param.name); raw != "" {
			ts, err := parseTime(raw)
			if err != nil {
				return nil, xerrors.Messagef(xerrors.CodeInvalidArgument, "%s 必须为 RFC3339 时间或 Unix 秒", param.name)
			}
			opts = append(opts, param.apply(ts))
		}
	}
	return opts, nil
}

func parseTime(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func statusForError(err error) int {
	switch {
	case task.IsTaskError(err, task.CodeTaskNotFound), xerrors.Is(err, xerrors.CodeNotFound):
		return http.StatusNotFound
	case xerrors.Is(err, task.CodeTaskValidation), xerrors.Is(err, xerrors.CodeInvalidArgument):
		return http.StatusBadRequest
	case xerrors.Is(err, xerrors.CodeUnauthorized):
		return http.StatusUnauthorized
	case xerrors.Is(err, xerrors.CodeInitializationFailure):
		return http.StatusServiceUnavailable
	case xerrors.Is(err, xerrors.CodeTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var xe *xerrors.Error
	if errors.As(err, &xe) {
		resp.Code = string(xe.Code())
	}
	writeJSON(w, status, resp)
}
