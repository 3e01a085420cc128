package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agentwire/agentwire/bridge"
	"github.com/agentwire/agentwire/bus"
	"github.com/agentwire/agentwire/config"
	"github.com/agentwire/agentwire/engine"
	"github.com/agentwire/agentwire/history"
	"github.com/agentwire/agentwire/llm"
	"github.com/agentwire/agentwire/logging"
	"github.com/agentwire/agentwire/protocol"
	"github.com/agentwire/agentwire/session"
	"github.com/agentwire/agentwire/shutdown"
	"github.com/agentwire/agentwire/sink"
	"github.com/agentwire/agentwire/telemetry"
	"github.com/agentwire/agentwire/tools"
	"github.com/agentwire/agentwire/transport"
)

// Run sends one prompt through a session and streams items until the
// result arrives. The pair transport hosts the engine behind a bridge in
// this process; the nats transport attaches to a bridge served elsewhere.
func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Model != "" {
		cfg.LLM.Model = c.Model
	}
	if c.System != "" {
		cfg.Session.SystemPrompt = c.System
	}
	if c.OutputFormat != "" {
		cfg.Output.Format = c.OutputFormat
	}

	mode, err := sink.ParseMode(cfg.Output.Format)
	if err != nil {
		return err
	}

	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	log.SetOutput(os.Stderr)

	if cfg.Telemetry.Enabled {
		telemetry.SetGlobalTracer(telemetry.NewTracer("agentwire", cfg.Telemetry.Debug))
	}

	coord := shutdown.NewCoordinator(0)
	clientBus, err := connectTransport(cfg, log, coord)
	if err != nil {
		return err
	}

	cwd := cfg.Session.CWD
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	ctx := context.Background()
	opts := session.Options{Model: cfg.LLM.Model, CWD: cwd, Logger: log}
	var sess *session.Session
	if c.Resume != "" {
		sess, err = session.Resume(ctx, clientBus, c.Resume, opts)
	} else {
		sess, err = session.Initialize(ctx, clientBus, opts)
	}
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	coord.Register("session", shutdown.PhaseConsumer, func(ctx context.Context) error {
		return sess.Close()
	})
	coord.HandleSignals()
	defer coord.ShutdownWithTimeout()

	if _, err := sess.Send(strings.Join(c.Prompt, " ")); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	out := sink.New(os.Stdout, mode)
	var result *protocol.ResultMessage
	for item := range sess.Receive() {
		if err := out.Write(item); err != nil {
			return fmt.Errorf("writing item: %w", err)
		}
		if mode == sink.ModeText {
			renderText(item)
		}
		if item.Type == session.ItemResult {
			result = item.Result
			break
		}
	}

	if result != nil && result.IsError {
		return fmt.Errorf("session failed: %s", result.Result)
	}
	return nil
}

// connectTransport builds the consumer-side bus for the configured
// transport kind.
func connectTransport(cfg *config.Config, log *logging.Logger, coord *shutdown.Coordinator) (*bus.Bus, error) {
	switch cfg.Transport.Kind {
	case "", "pair":
		return serveInProcess(cfg, log, coord)
	case "stdio":
		// Over stdio the bridge owns this process's stdin/stdout; the
		// consumer lives in the parent process.
		return nil, fmt.Errorf("transport.kind %q is served, not dialed; use agentwire serve", cfg.Transport.Kind)
	case "nats":
		tr, err := transport.NewNATS(transport.NATSOptions{
			URL:         cfg.Transport.NATSURL,
			SendSubject: cfg.Transport.SendSubject,
			RecvSubject: cfg.Transport.RecvSubject,
			Config:      transportConfig(cfg),
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		clientBus := bus.New(tr)
		coord.Register("client-bus", shutdown.PhaseTransport, func(ctx context.Context) error {
			return clientBus.Close()
		})
		return clientBus, nil
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", cfg.Transport.Kind)
	}
}

// serveInProcess hosts the bridge over an in-process pair and returns
// the consumer endpoint.
func serveInProcess(cfg *config.Config, log *logging.Logger, coord *shutdown.Coordinator) (*bus.Bus, error) {
	serverEnd, clientEnd := transport.Pair(transportConfig(cfg))
	serverBus := bus.New(serverEnd)
	clientBus := bus.New(clientEnd)

	if err := buildStack(cfg, log, serverBus, coord); err != nil {
		serverBus.Close()
		clientBus.Close()
		return nil, err
	}
	return clientBus, nil
}

// buildStack builds the provider, engine, store, index, and bridge over
// the given server bus, registering teardown on coord.
func buildStack(cfg *config.Config, log *logging.Logger, serverBus *bus.Bus, coord *shutdown.Coordinator) error {
	providerName := cfg.LLM.Provider
	if providerName == "" {
		providerName = llm.InferProviderFromModel(cfg.LLM.Model)
	}
	provider, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  providerName,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.ResolveAPIKey(providerName),
		MaxTokens: cfg.LLM.MaxTokens,
		BaseURL:   cfg.LLM.BaseURL,
		Retry: llm.RetryConfig{
			MaxRetries: cfg.LLM.MaxRetries,
			MaxBackoff: cfg.MaxRetryBackoff(),
		},
	})
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	registry := tools.NewRegistry()
	eng, err := engine.New(engine.Config{
		Provider: provider,
		Registry: registry,
		MaxTurns: cfg.Session.MaxTurns,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	cwd := cfg.Session.CWD
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	store := history.NewMemoryStore()
	index, err := openIndex(cfg)
	if err != nil {
		return err
	}

	br, err := bridge.New(bridge.Config{
		Bus:          serverBus,
		Store:        store,
		Engine:       eng,
		Model:        cfg.LLM.Model,
		CWD:          cwd,
		SystemPrompt: cfg.Session.SystemPrompt,
		Tools:        registry.Names(),
		Index:        index,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	coord.Register("bridge", shutdown.PhaseBridge, func(ctx context.Context) error {
		return br.Close()
	})
	coord.Register("server-bus", shutdown.PhaseTransport, func(ctx context.Context) error {
		return serverBus.Close()
	})
	coord.Register("store", shutdown.PhaseStorage, func(ctx context.Context) error {
		return store.Close()
	})
	if index != nil {
		coord.Register("index", shutdown.PhaseStorage, func(ctx context.Context) error {
			return index.Close()
		})
	}
	return nil
}

// transportConfig maps configured buffer sizes onto transport defaults.
func transportConfig(cfg *config.Config) transport.Config {
	tc := transport.DefaultConfig()
	if cfg.Transport.RecvBufferSize > 0 {
		tc.RecvBufferSize = cfg.Transport.RecvBufferSize
	}
	if cfg.Transport.SendBufferSize > 0 {
		tc.SendBufferSize = cfg.Transport.SendBufferSize
	}
	return tc
}

// openIndex opens the configured search index: path-backed when
// history.index_path is set, in-memory otherwise.
func openIndex(cfg *config.Config) (*history.SearchIndex, error) {
	if cfg.History.IndexPath != "" {
		return history.OpenSearchIndex(cfg.History.IndexPath)
	}
	return history.NewSearchIndex()
}

// renderText prints human-readable output for text mode. Structured
// consumers get the sink's NDJSON instead.
func renderText(item session.Item) {
	switch item.Type {
	case session.ItemMessage:
		if item.Message != nil && item.Message.Role == protocol.RoleAssistant {
			if text := item.Message.Text(); text != "" {
				fmt.Println(text)
			}
		}
	case session.ItemProgress:
		if item.Progress != nil {
			fmt.Fprintf(os.Stderr, "  [%s] %s\n", item.Progress.AgentType, item.Progress.Status)
		}
	case session.ItemResult:
		if item.Result != nil && item.Result.IsError {
			fmt.Fprintf(os.Stderr, "error: %s\n", item.Result.Result)
		}
	}
}
