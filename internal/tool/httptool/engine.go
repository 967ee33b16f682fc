package httptool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/tool"
	"Leno-Agent/pkg/logger"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
	errorBodyLimit  = 512
	textBodyLimit   = 4000
)

// Engine 把目录中的定义作为工具执行。
type Engine struct {
	client   *http.Client
	resolver *tool.Resolver
	timeout  time.Duration
	log      *slog.Logger
}

// Option 定制 Engine。
type Option func(*Engine)

// WithHTTPClient 替换调用供应商接口的 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.client = c
		}
	}
}

// WithResolver 启用名称解析结果缓存。
func WithResolver(r *tool.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithDefaultTimeout 设置未声明超时的定义所用的超时。
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine 构造 Engine。
func NewEngine(opts ...Option) *Engine {
	e := &Engine{client: &http.Client{}, timeout: defaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.log == nil {
		e.log = logger.Named("httptool")
	}
	return e
}

// Tools 为目录中每个启用的定义构建工具。
func (e *Engine) Tools(cat Catalog) []tool.Tool {
	defs := cat.Enabled()
	out := make([]tool.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, e.Tool(def))
	}
	return out
}

// Tool 包装单个定义。
func (e *Engine) Tool(def Definition) tool.Tool {
	return &restTool{def: def, engine: e}
}

type restTool struct {
	def    Definition
	engine *Engine
}

func (t *restTool) Spec() llm.ToolSpec {
	props := make(map[string]any, len(t.def.Params))
	var required []string
	for _, p := range t.def.Params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		prop := map[string]any{"type": typ}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return llm.ToolSpec{
		Name:        t.def.Name,
		Description: t.def.Description,
		Parameters:  props,
		Required:    required,
	}
}

func (t *restTool) Call(ctx context.Context, raw json.RawMessage) tool.Result {
	args, err := decodeArgs(raw)
	if err != nil {
		return tool.Err(tool.KindInvalidArgument, "参数解析失败: "+err.Error())
	}
	for _, p := range t.def.Params {
		if _, ok := args[p.Name]; ok {
			continue
		}
		if p.Default != nil {
			args[p.Name] = p.Default
			continue
		}
		if p.Required {
			return tool.Err(tool.KindInvalidArgument, fmt.Sprintf("缺少必填参数 %q", p.Name))
		}
	}

	timeout := t.def.RequestTimeout(t.engine.timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var resolved *tool.Candidate
	if r := t.def.Resolve; r != nil {
		c, res, ok := t.resolve(ctx, r, args)
		if !ok {
			return res
		}
		resolved = &c
	}

	req, err := t.buildRequest(ctx, args)
	if err != nil {
		return tool.Err(tool.KindInvalidArgument, err.Error())
	}
	status, body, res, ok := t.engine.do(req, t.def.Name)
	if !ok {
		return res
	}
	if status >= http.StatusBadRequest {
		return tool.Err(tool.KindVendor, fmt.Sprintf("%s 返回 HTTP %d: %s", t.def.Name, status, truncate(body, errorBodyLimit)))
	}

	payload, err := t.shape(body)
	if err != nil {
		return tool.Err(tool.KindVendor, fmt.Sprintf("%s: %v", t.def.Name, err))
	}
	if resolved != nil {
		payload["resolved"] = resolved
	}
	return tool.Ok(payload)
}

func (t *restTool) resolve(ctx context.Context, r *Resolve, args map[string]any) (tool.Candidate, tool.Result, bool) {
	query := strings.TrimSpace(stringify(args[r.Param]))
	if query == "" {
		return tool.Candidate{}, tool.Err(tool.KindInvalidArgument, fmt.Sprintf("名称解析需要参数 %q", r.Param)), false
	}
	list := func(ctx context.Context, q string) ([]tool.Candidate, error) {
		return t.list(ctx, r, q)
	}

	policy := tool.ParsePolicy(r.Policy)
	var (
		c   tool.Candidate
		err error
	)
	if t.engine.resolver != nil {
		c, err = t.engine.resolver.Resolve(ctx, t.def.Name, query, policy, list)
	} else {
		var candidates []tool.Candidate
		candidates, err = list(ctx, query)
		if err == nil {
			c, err = tool.Match(query, candidates, policy)
		}
	}
	if err != nil {
		var vendor *vendorError
		if errors.As(err, &vendor) {
			return tool.Candidate{}, vendor.result, false
		}
		return tool.Candidate{}, tool.FromError(err), false
	}

	if r.Into != r.Param {
		delete(args, r.Param)
	}
	args[r.Into] = c.ID
	return c, tool.Result{}, true
}

// vendorError 携带现成的信封穿过 tool.Resolver。
type vendorError struct{ result tool.Result }

func (e *vendorError) Error() string { return e.result.Message() }

func (t *restTool) list(ctx context.Context, r *Resolve, query string) ([]tool.Candidate, error) {
	method := strings.ToUpper(r.List.Method)
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(r.List.URL)
	if err != nil {
		return nil, fmt.Errorf("查询 url 无效: %w", err)
	}
	values := u.Query()
	for k, v := range r.List.Query {
		values.Set(k, strings.ReplaceAll(v, "{query}", query))
	}
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req, r.List.Headers)
	req.Header.Set("Accept", "application/json")

	status, body, res, ok := t.engine.do(req, t.def.Name)
	if !ok {
		return nil, &vendorError{result: res}
	}
	if status >= http.StatusBadRequest {
		return nil, &vendorError{result: tool.Err(tool.KindVendor,
			fmt.Sprintf("%s 名称查询返回 HTTP %d: %s", t.def.Name, status, truncate(body, errorBodyLimit)))}
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &vendorError{result: tool.Err(tool.KindVendor, t.def.Name+" 名称查询返回的不是 JSON")}
	}
	items, _ := lookupPath(doc, r.ItemsPath)
	list, _ := items.([]any)
	idField, nameField := r.IDField, r.NameField
	if idField == "" {
		idField = "id"
	}
	if nameField == "" {
		nameField = "name"
	}
	candidates := make([]tool.Candidate, 0, len(list))
	for _, item := range list {
		id, _ := lookupPath(item, idField)
		name, _ := lookupPath(item, nameField)
		if id == nil {
			continue
		}
		candidates = append(candidates, tool.Candidate{ID: stringify(id), Name: stringify(name)})
	}
	return candidates, nil
}

func (t *restTool) buildRequest(ctx context.Context, args map[string]any) (*http.Request, error) {
	method := t.def.method()
	target := t.def.URL
	query := url.Values{}
	body := map[string]any{}

	declared := make(map[string]Param, len(t.def.Params))
	for _, p := range t.def.Params {
		declared[p.Name] = p
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		value := args[name]
		p, ok := declared[name]
		if !ok {
			if t.def.Resolve == nil || name != t.def.Resolve.Into {
				continue
			}
			p = Param{Name: name}
		}
		switch t.def.location(p) {
		case InPath:
			target = strings.ReplaceAll(target, "{"+name+"}", url.PathEscape(stringify(value)))
		case InQuery:
			query.Set(name, stringify(value))
		default:
			body[name] = value
		}
	}
	if strings.Contains(target, "{") && strings.Contains(target, "}") {
		for _, p := range t.def.Params {
			if t.def.location(p) == InPath && strings.Contains(target, "{"+p.Name+"}") {
				return nil, fmt.Errorf("缺少路径参数 %q", p.Name)
			}
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("url 无效: %w", err)
	}
	if len(query) > 0 {
		merged := u.Query()
		for k, v := range query {
			merged[k] = v
		}
		u.RawQuery = merged.Encode()
	}

	var reader io.Reader
	hasBody := len(body) > 0
	if hasBody {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("编码请求体失败: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	setHeaders(req, t.def.Headers)
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// do 发送请求并读取有上限的响应体，传输失败直接返回信封。
func (e *Engine) do(req *http.Request, name string) (int, []byte, tool.Result, bool) {
	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(req.Context().Err(), context.DeadlineExceeded) {
			return 0, nil, tool.Err(tool.KindTimeout, fmt.Sprintf("%s 请求超时", name)), false
		}
		e.log.Warn("供应商请求失败", slog.String("tool", name), slog.Any("error", err))
		return 0, nil, tool.Err(tool.KindVendor, fmt.Sprintf("%s 请求失败: %v", name, err)), false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, tool.Err(tool.KindVendor, fmt.Sprintf("%s 读取响应体失败: %v", name, err)), false
	}
	e.log.Debug("供应商请求完成",
		slog.String("tool", name),
		slog.String("method", req.Method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))
	return resp.StatusCode, body, tool.Result{}, true
}

// shape 把成功的响应体整理成载荷对象。
func (t *restTool) shape(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return map[string]any{"body": truncate(trimmed, textBodyLimit)}, nil
	}
	if t.def.ResultPath != "" {
		sub, ok := lookupPath(doc, t.def.ResultPath)
		if !ok {
			return nil, fmt.Errorf("响应中不存在 result_path %q", t.def.ResultPath)
		}
		doc = sub
	}
	if len(t.def.Fields) > 0 {
		doc = project(doc, t.def.Fields)
	}
	switch v := doc.(type) {
	case map[string]any:
		return v, nil
	case []any:
		return map[string]any{"items": v}, nil
	default:
		return map[string]any{"result": v}, nil
	}
}

func project(doc any, fields map[string]string) any {
	if list, ok := doc.([]any); ok {
		out := make([]any, 0, len(list))
		for _, item := range list {
			out = append(out, project(item, fields))
		}
		return out
	}
	out := make(map[string]any, len(fields))
	for name, path := range fields {
		v, _ := lookupPath(doc, path)
		out[name] = v
	}
	return out
}

// lookupPath 按点分路径遍历 JSON，数字段作为数组下标，空路径返回文档本身。
func lookupPath(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		if strings.TrimSpace(v) == "" {
			continue
		}
		req.Header.Set(k, v)
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func truncate(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
