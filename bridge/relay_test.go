package bridge

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/agentwire/agentwire/bus"
	"github.com/agentwire/agentwire/history"
	"github.com/agentwire/agentwire/logging"
	"github.com/agentwire/agentwire/protocol"
	"github.com/agentwire/agentwire/transport"
)

func newTestRelay(t *testing.T, buffer int) (*relay, *bus.Bus, *history.MemoryStore) {
	t.Helper()

	trA, trB := transport.Pair(transport.DefaultConfig())
	serverBus := bus.New(trA)
	clientBus := bus.New(trB)
	store := history.NewMemoryStore()

	r := newRelay(serverBus, store, nil, logging.Default().WithComponent("relay"), buffer)
	r.start()

	t.Cleanup(func() {
		r.stop()
		serverBus.Close()
	})

	return r, clientBus, store
}

// --- Unit Tests ---

func TestRelay_EmitsInOrder(t *testing.T) {
	r, client, _ := newTestRelay(t, 8)

	received := make(chan protocol.AgentProgress, 32)
	client.OnEvent(protocol.EventProgress, func(raw json.RawMessage) {
		var p protocol.AgentProgress
		json.Unmarshal(raw, &p)
		received <- p
	})

	for i := 0; i < 10; i++ {
		r.enqueue(protocol.AgentProgress{
			SessionID: "s",
			AgentID:   fmt.Sprintf("agent-%d", i),
			Status:    protocol.StatusRunning,
		})
	}
	r.flush()

	for i := 0; i < 10; i++ {
		select {
		case p := <-received:
			if want := fmt.Sprintf("agent-%d", i); p.AgentID != want {
				t.Errorf("event %d agentId = %q, want %q", i, p.AgentID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out at event %d", i)
		}
	}
}

func TestRelay_PersistsBranchMessages(t *testing.T) {
	r, _, store := newTestRelay(t, 8)
	store.EnsureSession("s")

	root := protocol.NewMessage("s", protocol.RoleUser, nil, protocol.TextBlock("spawn"))
	if err := store.Append(root); err != nil {
		t.Fatalf("Append root: %v", err)
	}

	branch := protocol.NewMessage("s", protocol.RoleAssistant, &root.UUID, protocol.TextBlock("branch output"))
	r.enqueue(protocol.AgentProgress{
		SessionID:       "s",
		Message:         &branch,
		ParentToolUseID: "call_1",
		AgentID:         "a1",
		Status:          protocol.StatusRunning,
	})
	r.flush()

	chain, err := store.List("s")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain has %d messages, want 2", len(chain))
	}
	if chain[1].UUID != branch.UUID {
		t.Error("branch message not persisted")
	}
}

func TestRelay_TerminalWithoutMessage(t *testing.T) {
	r, client, _ := newTestRelay(t, 8)

	received := make(chan protocol.AgentProgress, 4)
	client.OnEvent(protocol.EventProgress, func(raw json.RawMessage) {
		var p protocol.AgentProgress
		json.Unmarshal(raw, &p)
		received <- p
	})

	r.enqueue(protocol.AgentProgress{
		SessionID: "s",
		AgentID:   "a1",
		Status:    protocol.StatusCompleted,
	})
	r.flush()

	select {
	case p := <-received:
		if !p.Terminal() {
			t.Errorf("status = %q, want terminal", p.Status)
		}
		if p.Message != nil {
			t.Error("terminal event should carry no message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
}

// --- Failure Tests ---

// Emission failures are swallowed: a closed transport must not wedge
// the relay or lose the persisted branch message.
func TestRelay_SwallowsEmissionFailure(t *testing.T) {
	trA, trB := transport.Pair(transport.DefaultConfig())
	serverBus := bus.New(trA)
	clientBus := bus.New(trB)
	store := history.NewMemoryStore()
	store.EnsureSession("s")

	r := newRelay(serverBus, store, nil, logging.Default().WithComponent("relay"), 4)
	r.start()
	defer r.stop()

	clientBus.Close() // tears down both pair endpoints

	branch := protocol.NewMessage("s", protocol.RoleUser, nil, protocol.TextBlock("orphaned"))
	r.enqueue(protocol.AgentProgress{
		SessionID: "s",
		Message:   &branch,
		Status:    protocol.StatusRunning,
	})
	r.flush()

	chain, err := store.List("s")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(chain) != 1 {
		t.Errorf("chain has %d messages, want 1", len(chain))
	}
}
