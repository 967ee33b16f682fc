package agent

import (
	"context"
	"strings"
	"time"

	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/session"
	"Leno-Agent/internal/tool"
)

// TradeRequest 是等待用户确认的交易。
type TradeRequest struct {
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Qty         float64   `json:"qty"`
	Note        string    `json:"note,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// TradeConfirmationTool 返回 request_trade_confirmation 工具。它在当前运行智能体的会话中
// 写入 pending_trade_action，下一条用户消息因此直接交给券商智能体处理；上下文中没有会话时使用 fallback。
func TradeConfirmationTool(store session.Store, fallback session.Key, now func() time.Time) tool.Tool {
	if now == nil {
		now = time.Now
	}
	spec := llm.ToolSpec{
		Name:        "request_trade_confirmation",
		Description: "Ask the user to confirm a trade. The user's next message is routed back to you.",
		Parameters: map[string]any{
			"symbol": map[string]any{"type": "string", "description": "Ticker symbol."},
			"side":   map[string]any{"type": "string", "enum": []string{"buy", "sell"}},
			"qty":    map[string]any{"type": "number", "description": "Quantity to trade."},
			"note":   map[string]any{"type": "string", "description": "What the user is asked to confirm."},
		},
		Required: []string{"symbol", "side", "qty"},
	}
	return tool.Typed(spec, func(ctx context.Context, args TradeRequest) (any, error) {
		args.Symbol = strings.ToUpper(strings.TrimSpace(args.Symbol))
		args.Side = strings.ToLower(strings.TrimSpace(args.Side))
		if args.Symbol == "" {
			return nil, tool.Invalid("symbol 不能为空")
		}
		if args.Side != "buy" && args.Side != "sell" {
			return nil, tool.Invalid("side 必须是 buy 或 sell")
		}
		if args.Qty <= 0 {
			return nil, tool.Invalid("qty 必须大于 0")
		}
		args.RequestedAt = now().UTC()

		key, ok := session.KeyFromContext(ctx)
		if !ok {
			key = fallback
		}
		pending := map[string]any{
			"symbol":       args.Symbol,
			"side":         args.Side,
			"qty":          args.Qty,
			"note":         args.Note,
			"requested_at": args.RequestedAt.Format(time.RFC3339),
		}
		if _, err := store.Update(ctx, key, func(state session.State) error {
			state[session.PendingTradeActionKey] = pending
			return nil
		}); err != nil {
			return nil, err
		}
		return map[string]any{
			"pending_trade_action": pending,
			"message":              "Awaiting user confirmation.",
		}, nil
	})
}
