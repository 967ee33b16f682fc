package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Leno-Agent/internal/llm"
	"Leno-Agent/internal/runner"
	"Leno-Agent/internal/session"
	"Leno-Agent/internal/tool"
	"Leno-Agent/pkg/logger"
)

type stubRunner struct {
	turns  []runner.Turn
	err    error
	specs  []runner.Spec
	keys   []session.Key
	inputs []string
}

func (s *stubRunner) Run(ctx context.Context, spec runner.Spec, message string) ([]runner.Turn, error) {
	s.specs = append(s.specs, spec)
	s.inputs = append(s.inputs, message)
	if key, ok := session.KeyFromContext(ctx); ok {
		s.keys = append(s.keys, key)
	}
	return s.turns, s.err
}

func textTurn(text string) runner.Turn {
	return runner.Turn{Role: llm.RoleAssistant, Parts: []runner.Part{{Text: text}}}
}

var managerKey = session.Key{App: "agent4_app", User: "user_1", Session: "session_001"}

func newStockAgent(run Runner, store session.Store) *Agent {
	def := Definition{Name: "stock_agent", Description: "stocks", Instruction: "trade carefully", Tools: []string{"get_realtime_quote"}, Brokerage: true}
	return New(def, run, store, "user_1", "session_001", WithSharedSession(managerKey), WithLogger(logger.Discard()))
}

func TestHandleMessageRunsInOwnSession(t *testing.T) {
	store := session.NewMemoryStore()
	run := &stubRunner{turns: []runner.Turn{textTurn("thinking"), textTurn("AAPL is 190")}}
	ag := newStockAgent(run, store)

	reply, err := ag.HandleMessage(context.Background(), "quote AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "AAPL is 190" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(run.keys) != 1 || run.keys[0] != ag.Key() || ag.Key().App != "stock_agent" {
		t.Fatalf("runner should see the agent session in context: %+v", run.keys)
	}
	if run.specs[0].Instruction != "trade carefully" || run.specs[0].Tools[0] != "get_realtime_quote" {
		t.Fatalf("unexpected spec: %+v", run.specs[0])
	}
	if _, err := store.Get(context.Background(), ag.Key()); err != nil {
		t.Fatalf("agent session should exist: %v", err)
	}

	shared, err := store.Get(context.Background(), managerKey)
	if err != nil {
		t.Fatalf("shared session missing: %v", err)
	}
	if shared["stock_agent_last_task"] != "quote AAPL" {
		t.Fatalf("last task not recorded: %v", shared)
	}
	if actions, _ := shared[session.ActionsKey].([]any); len(actions) != 1 {
		t.Fatalf("action not appended: %v", shared)
	}
}

func TestHandleMessageWithoutText(t *testing.T) {
	ag := newStockAgent(&stubRunner{}, session.NewMemoryStore())
	reply, err := ag.HandleMessage(context.Background(), "hi")
	if err != nil || reply != NoResponse {
		t.Fatalf("expected fixed no-response reply, got %q %v", reply, err)
	}

	toolOnly := &stubRunner{turns: []runner.Turn{{Role: llm.RoleTool, Parts: []runner.Part{{ToolResult: &runner.ToolResult{Name: "x"}}}}}}
	ag = newStockAgent(toolOnly, session.NewMemoryStore())
	if reply, _ := ag.HandleMessage(context.Background(), "hi"); reply != NoResponse {
		t.Fatalf("tool-only last turn should produce fixed reply, got %q", reply)
	}
}

func TestHandleMessagePropagatesErrors(t *testing.T) {
	boom := errors.New("llm down")
	ag := newStockAgent(&stubRunner{err: boom}, session.NewMemoryStore())
	if _, err := ag.HandleMessage(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Fatalf("expected runner error, got %v", err)
	}
}

func TestAsToolPayload(t *testing.T) {
	ag := newStockAgent(&stubRunner{turns: []runner.Turn{textTurn("done")}}, session.NewMemoryStore())
	res := ag.AsTool().Call(context.Background(), json.RawMessage(`{"request":"buy 1 AAPL"}`))
	if !res.IsOk() {
		t.Fatalf("unexpected failure: %s", res)
	}
	var out map[string]any
	_ = json.Unmarshal([]byte(res.String()), &out)
	if out["agent"] != "stock_agent" || out["reply"] != "done" || out["status"] != "success" {
		t.Fatalf("unexpected envelope: %v", out)
	}
	if res := ag.AsTool().Call(context.Background(), json.RawMessage(`{}`)); res.Kind() != tool.KindInvalidArgument {
		t.Fatalf("empty request should be invalid: %s", res)
	}
}

type slowRunner struct {
	delay time.Duration
	calls int
}

func (s *slowRunner) Run(ctx context.Context, _ runner.Spec, _ string) ([]runner.Turn, error) {
	s.calls++
	select {
	case <-time.After(s.delay):
		return []runner.Turn{textTurn("order placed")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDelegationOutlivesRegistryTimeout(t *testing.T) {
	run := &slowRunner{delay: 300 * time.Millisecond}
	ag := newStockAgent(run, session.NewMemoryStore())
	registry := tool.NewRegistry(tool.WithTimeout(100*time.Millisecond), tool.WithLogger(logger.Discard()))
	if err := registry.Register(ag.AsTool()); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := registry.Invoke(context.Background(), "stock_agent", json.RawMessage(`{"request":"buy 1 AAPL"}`))
	if !res.IsOk() {
		t.Fatalf("delegation should not be cut off by the tool timeout: %s", res)
	}
	var out map[string]any
	_ = json.Unmarshal([]byte(res.String()), &out)
	if out["reply"] != "order placed" || run.calls != 1 {
		t.Fatalf("unexpected delegation result: %v calls=%d", out, run.calls)
	}
}

func TestTradeConfirmationSetsFlag(t *testing.T) {
	store := session.NewMemoryStore()
	brokerage := session.Key{App: "stock_agent", User: "user_1", Session: "session_001"}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tl := TradeConfirmationTool(store, managerKey, func() time.Time { return fixed })

	ctx := session.WithKey(context.Background(), brokerage)
	res := tl.Call(ctx, json.RawMessage(`{"symbol":"aapl","side":"BUY","qty":3}`))
	if !res.IsOk() {
		t.Fatalf("unexpected failure: %s", res)
	}
	state, err := store.Get(context.Background(), brokerage)
	if err != nil {
		t.Fatalf("brokerage session missing: %v", err)
	}
	if !session.Truthy(state[session.PendingTradeActionKey]) {
		t.Fatalf("flag not set: %v", state)
	}
	pending := state[session.PendingTradeActionKey].(map[string]any)
	if pending["symbol"] != "AAPL" || pending["side"] != "buy" || pending["requested_at"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected pending action: %v", pending)
	}

	if res := tl.Call(ctx, json.RawMessage(`{"symbol":"AAPL","side":"hold","qty":1}`)); res.Kind() != tool.KindInvalidArgument {
		t.Fatalf("invalid side should be rejected: %s", res)
	}
}

func TestRecordTaskTool(t *testing.T) {
	store := session.NewMemoryStore()
	_ = store.Put(context.Background(), managerKey, session.State{session.LastUserRequestKey: "hello"})
	tl := RecordTaskTool(store, managerKey)

	ctx := session.WithKey(context.Background(), session.Key{App: "coding_agent", User: "user_1", Session: "session_001"})
	res := tl.Call(ctx, json.RawMessage(`{"task":"write tests"}`))
	payload, _ := res.Payload().(map[string]any)
	if !res.IsOk() || payload["coding_agent_last_task"] != "write tests" || payload[session.LastUserRequestKey] != "hello" {
		t.Fatalf("unexpected result: %s", res)
	}
	if _, err := RecordTask(context.Background(), store, managerKey, "google_agent", "list events"); err != nil {
		t.Fatalf("record: %v", err)
	}
	state, _ := store.Get(context.Background(), managerKey)
	if actions, _ := state[session.ActionsKey].([]any); len(actions) != 2 {
		t.Fatalf("expected two actions: %v", state[session.ActionsKey])
	}
}

func TestLoadCatalogReadsInstructionFiles(t *testing.T) {
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(docs, "STOCK.md"), []byte("stock instructions"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	catalog := `
manager:
  name: manager_agent
  instruction: route requests
agents:
  - name: stock_agent
    instruction_file: STOCK.md
    brokerage: true
  - name: coding_agent
    instruction: code
`
	path := filepath.Join(dir, "agents.yaml")
	if err := os.WriteFile(path, []byte(catalog), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat, err := LoadCatalog(path, docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cat.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cat.Agents[0].Instruction != "stock instructions" {
		t.Fatalf("instruction file not loaded: %+v", cat.Agents[0])
	}
	if def, ok := cat.Brokerage(); !ok || def.Name != "stock_agent" {
		t.Fatalf("brokerage agent not found")
	}
}

func TestCatalogValidate(t *testing.T) {
	cases := map[string]Catalog{
		"no manager": {},
		"duplicate":  {Manager: Definition{Name: "m"}, Agents: []Definition{{Name: "a"}, {Name: "a"}}},
		"shadow":     {Manager: Definition{Name: "m"}, Agents: []Definition{{Name: "m"}}},
		"brokerages": {Manager: Definition{Name: "m"}, Agents: []Definition{{Name: "a", Brokerage: true}, {Name: "b", Brokerage: true}}},
	}
	for name, cat := range cases {
		if err := cat.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func quoteTool() tool.Tool {
	return tool.Func{
		ToolSpec: llm.ToolSpec{Name: "get_realtime_quote"},
		Fn:       func(context.Context, json.RawMessage) tool.Result { return tool.Ok(nil) },
	}
}

func TestNewTeam(t *testing.T) {
	registry := tool.NewRegistry(tool.WithLogger(logger.Discard()))
	if err := registry.Register(quoteTool()); err != nil {
		t.Fatalf("register: %v", err)
	}
	cat := Catalog{
		Manager: Definition{Name: "manager_agent", Tools: []string{"record_task"}},
		Agents: []Definition{
			{Name: "stock_agent", Tools: []string{"get_realtime_quote", "request_trade_confirmation"}, Brokerage: true},
			{Name: "coding_agent"},
		},
	}
	cfg := TeamConfig{User: "user_1", Session: "session_001", ManagerApp: "agent4_app", BrokerageApp: "stock_agent"}
	team, err := NewTeam(cat, &stubRunner{}, session.NewMemoryStore(), registry, cfg, WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	spec := team.ManagerSpec()
	if len(spec.Tools) != 3 || spec.Tools[1] != "stock_agent" || spec.Tools[2] != "coding_agent" {
		t.Fatalf("manager should get delegation tools: %v", spec.Tools)
	}
	if team.ManagerKey() != managerKey {
		t.Fatalf("unexpected manager key: %+v", team.ManagerKey())
	}
	if b, ok := team.Brokerage(); !ok || b.Key().App != "stock_agent" {
		t.Fatalf("brokerage agent missing")
	}
	if len(team.Agents()) != 2 {
		t.Fatalf("unexpected agents")
	}
}

func TestNewTeamRejectsBadReferences(t *testing.T) {
	cfg := TeamConfig{User: "u", Session: "s", ManagerApp: "m", BrokerageApp: "stock_agent"}
	cat := Catalog{Manager: Definition{Name: "m"}, Agents: []Definition{{Name: "a", Tools: []string{"missing"}}}}
	if _, err := NewTeam(cat, &stubRunner{}, session.NewMemoryStore(), tool.NewRegistry(tool.WithLogger(logger.Discard())), cfg); err == nil {
		t.Fatalf("expected unknown tool error")
	}

	cat = Catalog{Manager: Definition{Name: "m"}, Agents: []Definition{{Name: "broker", App: "other", Brokerage: true}}}
	if _, err := NewTeam(cat, &stubRunner{}, session.NewMemoryStore(), tool.NewRegistry(tool.WithLogger(logger.Discard())), cfg); err == nil {
		t.Fatalf("expected brokerage app mismatch error")
	}
}
