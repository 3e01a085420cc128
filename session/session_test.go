package session

import (
	"context"
	"testing"
	"time"

	"github.com/agentwire/agentwire/bridge"
	"github.com/agentwire/agentwire/bus"
	"github.com/agentwire/agentwire/engine"
	agenterrors "github.com/agentwire/agentwire/errors"
	"github.com/agentwire/agentwire/history"
	"github.com/agentwire/agentwire/llm"
	"github.com/agentwire/agentwire/protocol"
	"github.com/agentwire/agentwire/tools"
	"github.com/agentwire/agentwire/transport"
)

type fixture struct {
	client *bus.Bus
	store  *history.MemoryStore
}

// newFixture stands up a bridge over an in-process pair and returns the
// consumer-side bus.
func newFixture(t *testing.T, mock *llm.MockProvider) *fixture {
	t.Helper()

	trA, trB := transport.Pair(transport.DefaultConfig())
	serverBus := bus.New(trA)
	clientBus := bus.New(trB)
	store := history.NewMemoryStore()

	eng, err := engine.New(engine.Config{Provider: mock, Registry: tools.NewRegistry()})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	br, err := bridge.New(bridge.Config{
		Bus:    serverBus,
		Store:  store,
		Engine: eng,
		Model:  "mock-model",
		CWD:    "/work",
	})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}

	t.Cleanup(func() {
		br.Close()
		serverBus.Close()
	})

	return &fixture{client: clientBus, store: store}
}

// collect pulls items until a result arrives or the deadline passes.
func collect(t *testing.T, s *Session, deadline time.Duration) []Item {
	t.Helper()
	var items []Item
	timeout := time.After(deadline)
	for {
		select {
		case item, ok := <-s.Receive():
			if !ok {
				return items
			}
			items = append(items, item)
			if item.Type == ItemResult {
				return items
			}
		case <-timeout:
			t.Fatalf("timed out; collected %d items", len(items))
		}
	}
}

// --- Integration Tests ---

// The canonical round trip: one send yields the system item, the
// assistant's message, and a success result, in that order.
func TestSession_SendReceive(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("42")
	f := newFixture(t, mock)

	s, err := Initialize(context.Background(), f.client, Options{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer s.Close()

	if s.ID() == "" {
		t.Fatal("session has no id")
	}

	uuid, err := s.Send("what is 6 times 7?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if uuid == "" {
		t.Fatal("Send returned empty uuid")
	}

	items := collect(t, s, 2*time.Second)
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	if items[0].Type != ItemSystem {
		t.Errorf("items[0].Type = %q, want system", items[0].Type)
	}
	if items[0].System.Model != "mock-model" {
		t.Errorf("system model = %q", items[0].System.Model)
	}

	if items[1].Type != ItemMessage {
		t.Fatalf("items[1].Type = %q, want message", items[1].Type)
	}
	if items[1].Message.Role != protocol.RoleAssistant {
		t.Errorf("message role = %q", items[1].Message.Role)
	}
	if items[1].Message.Text() != "42" {
		t.Errorf("message text = %q, want 42", items[1].Message.Text())
	}
	if items[1].Message.ParentUUID == nil || *items[1].Message.ParentUUID != uuid {
		t.Error("assistant message not chained to the sent uuid")
	}

	if items[2].Type != ItemResult {
		t.Fatalf("items[2].Type = %q, want result", items[2].Type)
	}
	if items[2].Result.IsError {
		t.Errorf("result is error: %s", items[2].Result.Result)
	}
	if items[2].Result.Result != "42" {
		t.Errorf("result text = %q", items[2].Result.Result)
	}
}

func TestSession_FastFollowChains(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("first reply")
	mock.SetResponse("second reply")
	f := newFixture(t, mock)

	s, err := Initialize(context.Background(), f.client, Options{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer s.Close()

	// Two sends back to back, before any reply arrives. The second must
	// chain off the first's uuid, not the (unknown) assistant reply.
	first, _ := s.Send("one")
	second, _ := s.Send("two")

	// Wait for both runs to settle.
	results := 0
	timeout := time.After(3 * time.Second)
	for results < 2 {
		select {
		case item := <-s.Receive():
			if item.Type == ItemResult {
				results++
			}
		case <-timeout:
			t.Fatal("timed out waiting for results")
		}
	}

	chain, err := f.store.List(s.ID())
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	byUUID := make(map[string]protocol.Message)
	for _, m := range chain {
		byUUID[m.UUID] = m
	}
	firstMsg, ok := byUUID[first]
	if !ok {
		t.Fatal("first send not persisted")
	}
	if firstMsg.ParentUUID != nil {
		t.Error("first send should be the chain root")
	}
	secondMsg, ok := byUUID[second]
	if !ok {
		t.Fatal("second send not persisted")
	}
	if secondMsg.ParentUUID == nil || *secondMsg.ParentUUID != first {
		t.Error("fast-follow send not chained to the first send's uuid")
	}
}

func TestSession_Resume(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("first reply")
	mock.SetResponse("resumed reply")
	f := newFixture(t, mock)

	s1, err := Initialize(context.Background(), f.client, Options{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	sessionID := s1.ID()

	s1.Send("start")
	collect(t, s1, 2*time.Second)

	chainBefore, _ := f.store.List(sessionID)
	lastBefore := chainBefore[len(chainBefore)-1].UUID

	// Resume on a fresh consumer stack over the same store.
	s2, err := Resume(context.Background(), f.client, sessionID, Options{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	uuid, err := s2.Send("continue")
	if err != nil {
		t.Fatalf("Send after resume: %v", err)
	}

	items := collect(t, s2, 2*time.Second)
	// History is not replayed: only system, the new reply, and result.
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3 (no history replay)", len(items))
	}

	chain, _ := f.store.List(sessionID)
	byUUID := make(map[string]protocol.Message)
	for _, m := range chain {
		byUUID[m.UUID] = m
	}
	resumedMsg := byUUID[uuid]
	if resumedMsg.ParentUUID == nil || *resumedMsg.ParentUUID != lastBefore {
		t.Error("resumed send not chained to the prior last message")
	}
}

func TestSession_ResumeUnknownFails(t *testing.T) {
	f := newFixture(t, llm.NewMockProvider())

	_, err := Resume(context.Background(), f.client, "never-seen", Options{})
	if !agenterrors.Is(err, agenterrors.ErrCodeSessionNotFound) {
		t.Errorf("err = %v, want SESSION_NOT_FOUND", err)
	}
}

func TestSession_ForeignSessionFiltered(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("reply")
	f := newFixture(t, mock)

	a, err := Initialize(context.Background(), f.client, Options{})
	if err != nil {
		t.Fatalf("Initialize a: %v", err)
	}
	b, err := Initialize(context.Background(), f.client, Options{})
	if err != nil {
		t.Fatalf("Initialize b: %v", err)
	}

	b.Send("for b only")
	collect(t, b, 2*time.Second)

	// a sees only its own system item.
	select {
	case item := <-a.Receive():
		if item.Type != ItemSystem {
			t.Errorf("a received %q item from b's send", item.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("a never received its system item")
	}
	select {
	case item := <-a.Receive():
		t.Errorf("a received stray %q item", item.Type)
	case <-time.After(200 * time.Millisecond):
	}
}

// --- Failure Tests ---

func TestSession_CloseEndsStream(t *testing.T) {
	f := newFixture(t, llm.NewMockProvider())

	s, err := Initialize(context.Background(), f.client, Options{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Drain the system item, then close mid-receive.
	<-s.Receive()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Close() }()

	select {
	case _, ok := <-s.Receive():
		if ok {
			t.Error("expected channel close, got item")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive channel did not close")
	}

	if err := <-errCh; err != nil {
		t.Errorf("Close: %v", err)
	}

	// Idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// Sends after close fail fast.
	if _, err := s.Send("too late"); !agenterrors.Is(err, agenterrors.ErrCodeSessionClosed) {
		t.Errorf("Send after close = %v, want SESSION_CLOSED", err)
	}
}

func TestSession_SendFailureYieldsErrorResult(t *testing.T) {
	mock := llm.NewMockProvider()
	f := newFixture(t, mock)

	s, err := Initialize(context.Background(), f.client, Options{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	<-s.Receive() // system

	// Sever the transport under the session: the next send's request
	// cannot settle and must surface as an error result item.
	f.client.Close()

	if _, err := s.Send("into the void"); err != nil {
		t.Fatalf("Send should hand off before settlement: %v", err)
	}

	select {
	case item := <-s.Receive():
		if item.Type != ItemResult {
			t.Fatalf("item type = %q, want result", item.Type)
		}
		if !item.Result.IsError {
			t.Error("result should be an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no synthetic error result delivered")
	}
}

func TestSession_RejectedSendSurfaces(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("reply")
	f := newFixture(t, mock)

	s, err := Initialize(context.Background(), f.client, Options{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer s.Close()

	<-s.Receive() // system

	uuid, _ := s.Send("original")
	items := collect(t, s, 2*time.Second)
	if items[len(items)-1].Type != ItemResult {
		t.Fatal("no result for original send")
	}

	// Replaying an already-used uuid is rejected by the bridge.
	_, err = f.client.Request(context.Background(), protocol.MethodSend, &protocol.SendParams{
		SessionID: s.ID(),
		UUID:      uuid,
		Message:   "conflict",
	})
	if err == nil {
		t.Fatal("expected duplicate uuid rejection")
	}
}

func TestSession_DuplicateEventsFiltered(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.SetResponse("reply")
	f := newFixture(t, mock)

	s, err := Initialize(context.Background(), f.client, Options{})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer s.Close()

	s.Send("hello")
	items := collect(t, s, 2*time.Second)

	uuids := make(map[string]int)
	for _, item := range items {
		if item.Type == ItemMessage {
			uuids[item.Message.UUID]++
		}
	}
	for uuid, n := range uuids {
		if n > 1 {
			t.Errorf("message %s delivered %d times", uuid, n)
		}
	}
}
