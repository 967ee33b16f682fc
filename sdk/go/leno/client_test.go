package leno

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestChatSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "echo: " + body["message"]})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAccessToken("token")

	reply, err := client.Chat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "echo: hello" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestNoAuthorizationHeaderWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Fatalf("unexpected authorization header")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tasks/missing":
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "任务不存在", "code": "TASK_NOT_FOUND"})
		case "/api/stock/quote":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "kind": "invalid_argument", "message": "symbol is required"})
		default:
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx := context.Background()

	_, err := client.GetTask(ctx, "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	apiErr := err.(*APIError)
	if apiErr.Code != "TASK_NOT_FOUND" || apiErr.Message != "任务不存在" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}

	_, err = client.StockQuote(ctx, "")
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "invalid_argument" || apiErr.Message != "symbol is required" {
		t.Fatalf("unexpected quote error %v", err)
	}

	_, err = client.TaskHistory(ctx)
	apiErr, ok = err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Unauthorized" {
		t.Fatalf("unexpected history error %v", err)
	}
}

func TestWaitTaskPollsUntilDone(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks/task-1" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		task := Task{ID: "task-1", Status: "pending", MaxRetries: 3}
		switch calls.Add(1) {
		case 1:
		case 2:
			task.Status, task.Attempts = "failed", 1
		default:
			task.Status, task.Attempts, task.Reply = "succeeded", 2, "done"
		}
		_ = json.NewEncoder(w).Encode(task)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task, err := client.WaitTask(ctx, "task-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != "succeeded" || task.Reply != "done" {
		t.Fatalf("unexpected task %+v", task)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", calls.Load())
	}
}

func TestWaitTaskTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: "running", MaxRetries: 3})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	task, err := client.WaitTask(ctx, "task-1", 10*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if task.Status != "running" {
		t.Fatalf("expected last snapshot, got %+v", task)
	}
}

func TestListTasksQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "failed" || q.Get("limit") != "5" || q.Get("q") != "quote" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Task{{ID: "a", Status: "failed"}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	tasks, err := client.ListTasks(context.Background(), ListOptions{Status: "failed", Query: "quote", Limit: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "a" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:3001", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}
