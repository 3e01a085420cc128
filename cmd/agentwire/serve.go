package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agentwire/agentwire/bus"
	"github.com/agentwire/agentwire/config"
	"github.com/agentwire/agentwire/logging"
	"github.com/agentwire/agentwire/shutdown"
	"github.com/agentwire/agentwire/telemetry"
	"github.com/agentwire/agentwire/transport"
)

// Run hosts the bridge over an externally reachable transport and blocks
// until the peer disconnects or a signal triggers shutdown.
func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	log.SetOutput(os.Stderr)

	if cfg.Telemetry.Enabled {
		telemetry.SetGlobalTracer(telemetry.NewTracer("agentwire", cfg.Telemetry.Debug))
	}

	tr, err := serveTransport(cfg)
	if err != nil {
		return err
	}

	coord := shutdown.NewCoordinator(0)
	serverBus := bus.New(tr)
	if err := buildStack(cfg, log, serverBus, coord); err != nil {
		serverBus.Close()
		return err
	}
	coord.Register("server-transport", shutdown.PhaseTransport, func(ctx context.Context) error {
		return tr.Close()
	})
	coord.HandleSignals()

	log.Info("serving", map[string]interface{}{"transport": cfg.Transport.Kind})

	runDone := make(chan error, 1)
	go func() { runDone <- tr.Run(context.Background()) }()

	select {
	case <-runDone:
		// Peer disconnected (stdio EOF or transport closed).
		coord.ShutdownWithTimeout()
	case <-coord.Done():
		// Signal-triggered shutdown already ran the teardown.
	}
	return coord.Err()
}

// serveTransport builds the server-side endpoint for an externally
// reachable transport kind.
func serveTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "stdio":
		return transport.NewStream(os.Stdin, os.Stdout, transportConfig(cfg)), nil
	case "nats":
		// Subjects are named from the consumer's perspective, so the
		// serve side swaps them.
		tr, err := transport.NewNATS(transport.NATSOptions{
			URL:         cfg.Transport.NATSURL,
			SendSubject: cfg.Transport.RecvSubject,
			RecvSubject: cfg.Transport.SendSubject,
			Config:      transportConfig(cfg),
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("transport.kind %q cannot serve an external consumer", cfg.Transport.Kind)
	}
}
