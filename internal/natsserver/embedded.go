// Package natsserver runs an in-process NATS server for single-node
// deployments that have no external message bus.
package natsserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ErrNotReady is returned when the server does not accept connections in time.
var ErrNotReady = errors.New("natsserver: embedded server failed to start")

const readyTimeout = 5 * time.Second

// Options configures the embedded server.
type Options struct {
	// Host to listen on. Defaults to 127.0.0.1.
	Host string
	// Port to listen on. -1 picks a random free port.
	Port int
	// StoreDir enables JetStream persistence when set.
	StoreDir string
}

// EmbeddedServer wraps a NATS server instance.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start creates and starts an embedded server and waits until it accepts
// connections.
func Start(opts Options, log *slog.Logger) (*EmbeddedServer, error) {
	if log == nil {
		log = slog.Default()
	}
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}

	sopts := &server.Options{
		Host:      host,
		Port:      opts.Port,
		JetStream: opts.StoreDir != "",
		StoreDir:  opts.StoreDir,
		NoSigs:    true,
	}

	ns, err := server.NewServer(sopts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("%w within %s", ErrNotReady, readyTimeout)
	}

	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.Bool("jetstream", sopts.JetStream),
	)

	return &EmbeddedServer{ns: ns, log: log}, nil
}

// ClientURL returns the URL clients connect to.
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
