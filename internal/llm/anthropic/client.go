package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"Leno-Agent/internal/llm"
)

const (
	defaultModelName = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration
	Temperature float64
	HTTPClient  *http.Client
}

// Client 通过官方 SDK 调用 Claude，并把工具调用映射到 llm 抽象。
type Client struct {
	api         sdk.Client
	model       string
	maxTokens   int64
	temperature float64
}

var _ llm.Client = (*Client)(nil)

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	opts = append(opts, option.WithHTTPClient(httpClient))

	return &Client{
		api:         sdk.NewClient(opts...),
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: cfg.Temperature,
	}, nil
}

// Generate 调用 Claude 完成一轮推理。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("请求 Anthropic 失败: %w", err)
	}

	out := &llm.Response{}
	var texts []string
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			if text := strings.TrimSpace(b.Text); text != "" {
				texts = append(texts, text)
			}
		case sdk.ToolUseBlock:
			raw := strings.TrimSpace(b.JSON.Input.Raw())
			if raw == "" || raw == "null" {
				raw = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: json.RawMessage(raw),
			})
		}
	}
	out.Text = strings.Join(texts, "\n")
	return out, nil
}

// buildMessages 把通用消息转换成 Messages API 的格式，连续的工具结果合并为一条 user 消息。
func buildMessages(messages []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	var pendingResults []sdk.ContentBlockParamUnion
	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, sdk.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case llm.RoleTool:
			pendingResults = append(pendingResults, sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case llm.RoleAssistant:
			flush()
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				input := call.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	flush()
	return out
}

func buildTools(specs []llm.ToolSpec) []sdk.ToolUnionParam {
	tools := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		props := spec.Parameters
		if props == nil {
			props = map[string]any{}
		}
		tools = append(tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        spec.Name,
				Description: sdk.String(spec.Description),
				InputSchema: sdk.ToolInputSchemaParam{
					Properties: props,
					Required:   spec.Required,
				},
			},
		})
	}
	return tools
}
