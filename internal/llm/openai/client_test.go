package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Leno-Agent/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestGenerateText(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": " 你好 "}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{
		System:   "你是管理者",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Text != "你好" || len(resp.ToolCalls) != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if captured.Body["model"] != defaultModelName {
		t.Fatalf("model field missing in request: %v", captured.Body["model"])
	}
	messages, _ := captured.Body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %v", messages)
	}
	if _, ok := captured.Body["tools"]; ok {
		t.Fatalf("tools must be omitted when none are declared")
	}
}

func TestGenerateToolCallsRoundTrip(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_realtime_quote","arguments":"{\"symbol\":\"AAPL\"}"}},
			{"id":"","type":"function","function":{"name":"list_dir","arguments":""}}
		]}}]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "quote"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_0", Name: "noop", Arguments: json.RawMessage(`{}`)}}},
			{Role: llm.RoleTool, ToolCallID: "call_0", Name: "noop", Content: `{"status":"success"}`},
		},
		Tools: []llm.ToolSpec{{
			Name:        "get_realtime_quote",
			Description: "quote",
			Parameters:  map[string]any{"symbol": map[string]any{"type": "string"}},
			Required:    []string{"symbol"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "" || len(resp.ToolCalls) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ToolCalls[0].Name != "get_realtime_quote" || string(resp.ToolCalls[0].Arguments) != `{"symbol":"AAPL"}` {
		t.Fatalf("unexpected tool call: %+v", resp.ToolCalls[0])
	}
	if !strings.HasPrefix(resp.ToolCalls[1].ID, "call_") || string(resp.ToolCalls[1].Arguments) != "{}" {
		t.Fatalf("missing id or arguments not normalised: %+v", resp.ToolCalls[1])
	}

	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected one tool declaration, got %v", body["tools"])
	}
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	params := fn["parameters"].(map[string]any)
	if params["type"] != "object" {
		t.Fatalf("parameters must be an object schema: %v", params)
	}
	messages := body["messages"].([]any)
	assistant := messages[1].(map[string]any)
	if assistant["content"] != nil {
		t.Fatalf("assistant tool call message should have null content: %v", assistant)
	}
	toolMsg := messages[2].(map[string]any)
	if toolMsg["tool_call_id"] != "call_0" {
		t.Fatalf("tool message missing tool_call_id: %v", toolMsg)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}}); err == nil {
		t.Fatalf("expected error when http status is not success")
	}
}
