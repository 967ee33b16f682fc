package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsClientFrame 是客户端发送的消息帧。
type wsClientFrame struct {
	Message *string `json:"message"`
}

// wsServerFrame 是服务端回复的消息帧，Reply 与 Error 二选一。
type wsServerFrame struct {
	Reply *string `json:"reply,omitempty"`
	Error string  `json:"error,omitempty"`
}

const wsWriteTimeout = 10 * time.Second

// handleWebSocket 在一个连接上顺序处理多轮对话。
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		http.Error(w, "对话服务未初始化", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket 升级失败", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket 读取失败", slog.Any("error", err))
			}
			return
		}
		var frame wsClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Message == nil {
			if !s.writeFrame(conn, wsServerFrame{Error: "invalid frame: expected {\"message\": ...}"}) {
				return
			}
			continue
		}
		reply := s.chat.Chat(ctx, *frame.Message)
		text := reply.Text
		if !s.writeFrame(conn, wsServerFrame{Reply: &text}) {
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, frame wsServerFrame) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		s.log.Warn("websocket 写入失败", slog.Any("error", err))
		return false
	}
	return true
}
