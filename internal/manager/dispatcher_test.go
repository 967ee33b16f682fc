package manager

import (
	"context"
	"errors"
	"sync"
	"testing"

	"Leno-Agent/internal/agent"
	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/runner"
	"Leno-Agent/internal/session"
	"Leno-Agent/pkg/logger"
)

type stubRunner struct {
	mu    sync.Mutex
	turns []runner.Turn
	err   error
	calls int
	keys  []session.Key
}

func (s *stubRunner) Run(ctx context.Context, _ runner.Spec, _ string) ([]runner.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if key, ok := session.KeyFromContext(ctx); ok {
		s.keys = append(s.keys, key)
	}
	return s.turns, s.err
}

type stubBrokerage struct {
	messages []string
	reply    string
	err      error
	onCall   func()
}

func (s *stubBrokerage) HandleMessage(_ context.Context, message string) (string, error) {
	s.messages = append(s.messages, message)
	if s.onCall != nil {
		s.onCall()
	}
	return s.reply, s.err
}

func text(s string) runner.Turn {
	return runner.Turn{Role: llm.RoleAssistant, Parts: []runner.Part{{Text: s}}}
}

func newDispatcher(store session.Store, run *stubRunner, broker MessageHandler, opts ...Option) *Dispatcher {
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return New(store, run, runner.Spec{Name: "manager_agent"}, broker, Identity{}, opts...)
}

func TestHandleGenericRoute(t *testing.T) {
	store := session.NewMemoryStore()
	run := &stubRunner{turns: []runner.Turn{text("first"), text("Hello from manager")}}
	broker := &stubBrokerage{reply: "broker"}
	d := newDispatcher(store, run, broker)

	reply, err := d.Handle(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Hello from manager" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if run.calls != 1 || len(broker.messages) != 0 {
		t.Fatalf("expected runner only, runner=%d broker=%d", run.calls, len(broker.messages))
	}
	if run.keys[0] != DefaultIdentity().ManagerKey() {
		t.Fatalf("runner should run in the manager session: %+v", run.keys)
	}

	state, err := store.Get(context.Background(), DefaultIdentity().ManagerKey())
	if err != nil || state[session.LastUserRequestKey] != "hi" {
		t.Fatalf("manager session not written: %v %v", state, err)
	}
}

func TestHandleOverwritesManagerSession(t *testing.T) {
	store := session.NewMemoryStore()
	key := DefaultIdentity().ManagerKey()
	_ = store.Put(context.Background(), key, session.State{"stale": true})
	d := newDispatcher(store, &stubRunner{turns: []runner.Turn{text("ok")}}, nil)

	if _, err := d.Handle(context.Background(), "again"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, _ := store.Get(context.Background(), key)
	if _, ok := state["stale"]; ok || len(state) != 1 {
		t.Fatalf("manager session should be replaced: %v", state)
	}
}

func TestHandleBrokerageRouteClearsFlag(t *testing.T) {
	store := session.NewMemoryStore()
	brokerKey := DefaultIdentity().BrokerageKey()
	_ = store.Put(context.Background(), brokerKey, session.State{
		session.PendingTradeActionKey: map[string]any{"symbol": "AAPL"},
		"other":                       "kept",
	})

	run := &stubRunner{turns: []runner.Turn{text("generic")}}
	var flagDuringCall any
	broker := &stubBrokerage{reply: "Order placed"}
	broker.onCall = func() {
		state, _ := store.Get(context.Background(), brokerKey)
		flagDuringCall = state[session.PendingTradeActionKey]
	}
	d := newDispatcher(store, run, broker)

	reply, err := d.Handle(context.Background(), "yes")
	if err != nil || reply != "Order placed" {
		t.Fatalf("unexpected result: %q %v", reply, err)
	}
	if run.calls != 0 || len(broker.messages) != 1 || broker.messages[0] != "yes" {
		t.Fatalf("message should go to brokerage only")
	}
	if flagDuringCall != nil {
		t.Fatalf("flag must be cleared before the brokerage handler runs")
	}
	state, _ := store.Get(context.Background(), brokerKey)
	if state["other"] != "kept" {
		t.Fatalf("other brokerage state must survive: %v", state)
	}

	reply, err = d.Handle(context.Background(), "thanks")
	if err != nil || reply != "generic" || run.calls != 1 {
		t.Fatalf("second message should take the generic route: %q %v", reply, err)
	}
}

func TestHandleFalsyFlagTakesGenericRoute(t *testing.T) {
	store := session.NewMemoryStore()
	_ = store.Put(context.Background(), DefaultIdentity().BrokerageKey(), session.State{session.PendingTradeActionKey: false})
	run := &stubRunner{turns: []runner.Turn{text("generic")}}
	broker := &stubBrokerage{}
	d := newDispatcher(store, run, broker)

	if reply, _ := d.Handle(context.Background(), "hi"); reply != "generic" || len(broker.messages) != 0 {
		t.Fatalf("falsy flag must not route to brokerage, reply=%q", reply)
	}
}

func TestHandleNoTurns(t *testing.T) {
	d := newDispatcher(session.NewMemoryStore(), &stubRunner{}, nil)
	reply, err := d.Handle(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "[ERROR] No response generated. Please try again." || reply != agent.NoResponse {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestHandlePropagatesErrors(t *testing.T) {
	boom := errors.New("model unavailable")
	d := newDispatcher(session.NewMemoryStore(), &stubRunner{err: boom}, nil)
	if _, err := d.Handle(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Fatalf("expected runner error, got %v", err)
	}

	store := session.NewMemoryStore()
	_ = store.Put(context.Background(), DefaultIdentity().BrokerageKey(), session.State{session.PendingTradeActionKey: "yes"})
	brokerErr := errors.New("broker down")
	d = newDispatcher(store, &stubRunner{}, &stubBrokerage{err: brokerErr})
	if _, err := d.Handle(context.Background(), "confirm"); !errors.Is(err, brokerErr) {
		t.Fatalf("expected brokerage error, got %v", err)
	}
}

type countingLocker struct {
	mu    sync.Mutex
	locks int
}

func (c *countingLocker) Lock(context.Context, session.Key) (func(), error) {
	c.mu.Lock()
	c.locks++
	c.mu.Unlock()
	return func() {}, nil
}

func TestHandleUsesLocker(t *testing.T) {
	locker := &countingLocker{}
	d := newDispatcher(session.NewMemoryStore(), &stubRunner{turns: []runner.Turn{text("ok")}}, nil, WithLocker(locker))
	for i := 0; i < 3; i++ {
		if _, err := d.Handle(context.Background(), "hi"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if locker.locks != 3 {
		t.Fatalf("expected 3 locks, got %d", locker.locks)
	}
}

func TestHandleConcurrentWithKeyedMutex(t *testing.T) {
	store := session.NewMemoryStore()
	run := &stubRunner{turns: []runner.Turn{text("ok")}}
	d := newDispatcher(store, run, nil, WithLocker(session.NewKeyedMutex()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Handle(context.Background(), "hi"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if run.calls != 10 {
		t.Fatalf("expected 10 runs, got %d", run.calls)
	}
}
