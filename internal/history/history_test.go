package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMemoryLogAppendOrderAndTimestamps(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CST", 8*3600))
	first, _ := log.Append(ctx, Entry{User: "user_1", Request: "a", Response: "ra", Status: StatusCompleted, Timestamp: base})
	second, _ := log.Append(ctx, Entry{User: "user_1", Request: "b", Response: "[ERROR] boom", Status: StatusError, Timestamp: base.Add(-time.Hour)})
	third, _ := log.Append(ctx, Entry{User: "user_1", Request: "c", Response: "rc", Status: StatusCompleted})

	if first.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamps must be UTC: %v", first.Timestamp)
	}
	if second.Timestamp.Before(first.Timestamp) {
		t.Fatalf("timestamps must not decrease: %v < %v", second.Timestamp, first.Timestamp)
	}
	if third.Timestamp.IsZero() {
		t.Fatalf("missing timestamp should be assigned")
	}

	entries, err := log.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 3 || entries[0].Request != "a" || entries[2].Request != "c" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	entries[0].Request = "mutated"
	again, _ := log.List(ctx)
	if again[0].Request != "a" {
		t.Fatalf("list must return a copy")
	}
}

func TestEntryJSONShape(t *testing.T) {
	entry := Entry{User: "user_1", Request: "hi", Response: "hello", Status: StatusCompleted, Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	raw, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	for _, field := range []string{"user", "request", "response", "timestamp", "status"} {
		if _, ok := decoded[field]; !ok {
			t.Fatalf("missing field %s in %s", field, raw)
		}
	}
	if decoded["timestamp"] != "2024-01-02T03:04:05Z" {
		t.Fatalf("timestamp not ISO-8601 UTC: %v", decoded["timestamp"])
	}
}

func TestFileLogPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "history.jsonl")
	ctx := context.Background()

	log, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	first, _ := log.Append(ctx, Entry{User: "user_1", Request: "one", Response: "1", Status: StatusCompleted})
	if _, err := log.Append(ctx, Entry{User: "user_1", Request: "two", Response: "[ERROR] x", Status: StatusError}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	_, _ = f.WriteString("not json\n")
	_ = f.Close()

	reopened, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	entries, _ := reopened.List(ctx)
	if len(entries) != 2 || entries[1].Status != StatusError {
		t.Fatalf("unexpected restored entries: %+v", entries)
	}
	next, _ := reopened.Append(ctx, Entry{User: "user_1", Request: "three", Status: StatusCompleted, Timestamp: first.Timestamp.Add(-time.Minute)})
	if next.Timestamp.Before(entries[1].Timestamp) {
		t.Fatalf("restored clock must keep timestamps non-decreasing")
	}

	content, _ := os.ReadFile(path)
	if strings.Count(string(content), "\n") != 4 {
		t.Fatalf("unexpected file content: %q", content)
	}
}

func TestFileLogClosed(t *testing.T) {
	log, err := NewFileLog(filepath.Join(t.TempDir(), "h.jsonl"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_ = log.Close()
	if _, err := log.Append(context.Background(), Entry{Request: "x"}); err == nil {
		t.Fatalf("append after close should fail")
	}
}
