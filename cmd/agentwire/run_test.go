package main

import (
	"context"
	"strings"
	"testing"

	"github.com/agentwire/agentwire/config"
	"github.com/agentwire/agentwire/logging"
	"github.com/agentwire/agentwire/session"
	"github.com/agentwire/agentwire/shutdown"
)

// --- Unit Tests ---

func TestTransportConfig_Buffers(t *testing.T) {
	cfg := config.Default()
	tc := transportConfig(cfg)
	if tc.RecvBufferSize != 100 || tc.SendBufferSize != 100 {
		t.Errorf("default buffers = %d/%d, want 100/100", tc.RecvBufferSize, tc.SendBufferSize)
	}

	cfg.Transport.RecvBufferSize = 7
	cfg.Transport.SendBufferSize = 9
	tc = transportConfig(cfg)
	if tc.RecvBufferSize != 7 || tc.SendBufferSize != 9 {
		t.Errorf("buffers = %d/%d, want 7/9", tc.RecvBufferSize, tc.SendBufferSize)
	}
}

// --- Integration Tests ---

func TestConnectTransport_PairHostsBridge(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	cfg := config.Default()
	cfg.LLM.Model = "claude-sonnet-4-5"

	coord := shutdown.NewCoordinator(0)
	clientBus, err := connectTransport(cfg, logging.New(), coord)
	if err != nil {
		t.Fatalf("connectTransport: %v", err)
	}
	defer coord.ShutdownWithTimeout()

	// The returned endpoint talks to a live in-process bridge.
	sess, err := session.Initialize(context.Background(), clientBus, session.Options{Model: cfg.LLM.Model})
	if err != nil {
		t.Fatalf("Initialize over pair transport: %v", err)
	}
	if sess.ID() == "" {
		t.Error("expected a session id from the in-process bridge")
	}
	sess.Close()
}

// --- Failure Tests ---

func TestConnectTransport_StdioIsServed(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = "stdio"

	_, err := connectTransport(cfg, logging.New(), shutdown.NewCoordinator(0))
	if err == nil || !strings.Contains(err.Error(), "serve") {
		t.Errorf("err = %v, want guidance toward agentwire serve", err)
	}
}

func TestConnectTransport_UnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = "carrier-pigeon"

	if _, err := connectTransport(cfg, logging.New(), shutdown.NewCoordinator(0)); err == nil {
		t.Error("expected error for unknown transport kind")
	}
}

func TestServeTransport_PairRejected(t *testing.T) {
	cfg := config.Default()
	if _, err := serveTransport(cfg); err == nil {
		t.Error("pair transport should not be servable to an external consumer")
	}
}
