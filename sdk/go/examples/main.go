package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"Leno-Agent/sdk/go/leno"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "AAPL 当前价格为 189.12 美元。"})
	})
	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(leno.Task{ID: "task-demo", Status: "pending", MaxRetries: 3})
	})
	mux.HandleFunc("GET /api/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(leno.Task{
			ID:         "task-demo",
			Status:     "succeeded",
			Attempts:   1,
			MaxRetries: 3,
			Reply:      "已为您创建 GitHub issue #42。",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := leno.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAccessToken("demo-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Chat(ctx, "What's the price of AAPL?")
	if err != nil {
		panic(err)
	}
	fmt.Printf("chat reply: %s\n", reply)

	created, err := client.SubmitTask(ctx, leno.TaskSubmission{Message: "Open an issue about flaky tests"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s (status=%s)\n", created.ID, created.Status)

	done, err := client.WaitTask(ctx, created.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished: %s\n", done.ID, done.Reply)
}
