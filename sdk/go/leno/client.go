package leno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Chats run a full agent loop, so it is generous.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the Leno REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// HistoryEntry is one record of the append-only task history.
type HistoryEntry struct {
	User      string    `json:"user"`
	Request   string    `json:"request"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// TaskSubmission represents the payload required to queue an asynchronous chat.
type TaskSubmission struct {
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Task is the server side view of an asynchronous chat.
type Task struct {
	ID         string         `json:"id"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Reply      string         `json:"reply,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Done reports whether the task will not change any more.
func (t Task) Done() bool {
	switch t.Status {
	case "succeeded":
		return true
	case "failed":
		return t.Attempts >= t.MaxRetries
	default:
		return false
	}
}

// TaskStats aggregates task counts by status.
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// ListOptions filters GET /api/tasks.
type ListOptions struct {
	Status string
	Query  string
	Limit  int
	Offset int
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("leno api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("leno api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the Leno API. When httpClient is nil, a
// default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken stores the bearer token sent with every request. An empty
// token disables the Authorization header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Chat sends a message and returns the agent reply. Failed dispatches are
// returned by the server as replies prefixed with "[ERROR] ", not as errors.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	var resp struct {
		Reply string `json:"reply"`
	}
	if err := c.post(ctx, "/api/chat", map[string]string{"message": message}, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}

// TaskHistory returns every recorded exchange in append order.
func (c *Client) TaskHistory(ctx context.Context) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	if err := c.get(ctx, "/api/task_history", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/api/healthz", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", resp.Status)
	}
	return nil
}

// StockQuote fetches a realtime quote. The returned map is the tool envelope
// with "status":"success" and the quote fields.
func (c *Client) StockQuote(ctx context.Context, symbol string) (map[string]any, error) {
	var quote map[string]any
	q := url.Values{"symbol": []string{symbol}}
	if err := c.get(ctx, "/api/stock/quote", q, &quote); err != nil {
		return nil, err
	}
	return quote, nil
}

// SubmitTask queues an asynchronous chat.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/tasks", submission, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var found Task
	if err := c.get(ctx, "/api/tasks/"+url.PathEscape(id), nil, &found); err != nil {
		return Task{}, err
	}
	return found, nil
}

// ListTasks lists tasks matching opts.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	var tasks []Task
	if err := c.get(ctx, "/api/tasks", q, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// TaskStats returns task counts by status.
func (c *Client) TaskStats(ctx context.Context) (TaskStats, error) {
	var stats TaskStats
	if err := c.get(ctx, "/api/tasks/stats", nil, &stats); err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}

// WaitTask polls a task until it is done or ctx ends. The last observed task
// is returned together with ctx.Err() on timeout.
func (c *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		current, err := c.GetTask(ctx, id)
		if err != nil {
			return current, err
		}
		if current.Done() {
			return current, nil
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			// 工具信封使用 message 字段，其余错误使用 error 字段。
			var envelope struct {
				Error   string `json:"error"`
				Code    string `json:"code"`
				Kind    string `json:"kind"`
				Message string `json:"message"`
			}
			if json.Unmarshal(data, &envelope) == nil {
				apiErr.Message = envelope.Error
				apiErr.Code = envelope.Code
				if apiErr.Message == "" {
					apiErr.Message = envelope.Message
				}
				if apiErr.Code == "" {
					apiErr.Code = envelope.Kind
				}
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
