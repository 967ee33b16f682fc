package chat

import (
	"context"
	"errors"
	"testing"

	"Leno-Agent/internal/auth"
	"Leno-Agent/internal/history"
	"Leno-Agent/pkg/logger"
)

type stubDispatcher struct {
	reply string
	err   error
	panic any
}

func (s *stubDispatcher) Handle(context.Context, string) (string, error) {
	if s.panic != nil {
		panic(s.panic)
	}
	return s.reply, s.err
}

func TestChatSuccessRecordsHistory(t *testing.T) {
	log := history.NewMemoryLog()
	svc := NewService(&stubDispatcher{reply: "Hello from manager"}, log, "user_1", WithLogger(logger.Discard()))

	reply := svc.Chat(context.Background(), "hi")
	if reply.Text != "Hello from manager" || reply.Status != history.StatusCompleted || reply.Err != nil {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	entries, _ := svc.History(context.Background())
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	e := entries[0]
	if e.User != "user_1" || e.Request != "hi" || e.Response != "Hello from manager" || e.Status != history.StatusCompleted || e.Timestamp.IsZero() {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestChatErrorReply(t *testing.T) {
	svc := NewService(&stubDispatcher{err: errors.New("model unavailable")}, nil, "user_1", WithLogger(logger.Discard()))
	reply := svc.Chat(context.Background(), "hi")
	if reply.Text != "[ERROR] model unavailable" || reply.Status != history.StatusError {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	entries, _ := svc.History(context.Background())
	if len(entries) != 1 || entries[0].Status != history.StatusError || entries[0].Response != reply.Text {
		t.Fatalf("error should be recorded: %+v", entries)
	}
}

func TestChatRecoversPanic(t *testing.T) {
	svc := NewService(&stubDispatcher{panic: "nil map"}, nil, "user_1", WithLogger(logger.Discard()))
	reply := svc.Chat(context.Background(), "hi")
	if reply.Status != history.StatusError || reply.Text != "[ERROR] nil map" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestChatUsesAuthenticatedSubject(t *testing.T) {
	svc := NewService(&stubDispatcher{reply: "ok"}, nil, "user_1", WithLogger(logger.Discard()))
	ctx := auth.WithSubject(context.Background(), &auth.Subject{ID: "alice", Method: auth.ModeJWT})
	svc.Chat(ctx, "hi")
	entries, _ := svc.History(context.Background())
	if entries[0].User != "alice" {
		t.Fatalf("subject should override user: %+v", entries[0])
	}
}

func TestHistoryEmptyIsNotNil(t *testing.T) {
	svc := NewService(&stubDispatcher{}, nil, "user_1", WithLogger(logger.Discard()))
	entries, err := svc.History(context.Background())
	if err != nil || entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v %v", entries, err)
	}
}

func TestHistoryTimestampsNonDecreasing(t *testing.T) {
	svc := NewService(&stubDispatcher{reply: "ok"}, nil, "user_1", WithLogger(logger.Discard()))
	for i := 0; i < 20; i++ {
		svc.Chat(context.Background(), "hi")
	}
	entries, _ := svc.History(context.Background())
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Fatalf("timestamps went backwards at %d", i)
		}
	}
}
