package tradewire_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tradewire-protocol/tradewire-go/pkg/config"
	"github.com/tradewire-protocol/tradewire-go/pkg/log"
	"github.com/tradewire-protocol/tradewire-go/pkg/transport"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

// TestE2E_ConfiguredStack wires the full stack from a YAML config file:
// server, client, pub/sub routing, request/response, and the CBOR
// diagnostic capture, then reads the capture back.
func TestE2E_ConfiguredStack(t *testing.T) {
	dir := t.TempDir()

	configPath := filepath.Join(dir, "tradewire.yaml")
	configYAML := `
max_chunk_size: 256
heartbeat_interval: 200ms
heartbeat_timeout: 100ms
missed_heartbeat_threshold: 5
max_streams_per_connection: 8
reconnect_backoff_base: 10ms
reconnect_backoff_max: 100ms
per_subscriber_queue_depth: 32
backpressure_policy: drop_oldest
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	capturePath := filepath.Join(dir, "capture.twlog")
	logger, err := log.NewFileLogger(capturePath)
	if err != nil {
		t.Fatalf("failed to create capture: %v", err)
	}

	// Server side.
	listener := transport.NewMemListener()

	serverConn := cfg.Conn()
	serverConn.Logger = logger

	routerCfg := cfg.Router()
	routerCfg.Logger = logger

	srv := transport.NewServer(listener, transport.ServerConfig{
		Conn:   serverConn,
		Router: routerCfg,
		OnRequest: func(ctx context.Context, conn *transport.Conn, req *wire.Message) ([]byte, error) {
			return append([]byte("echo:"), req.Payload...), nil
		},
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Stop()

	// Client side.
	client, err := transport.NewClient(transport.ClientConfig{
		Address:   listener.Addr().String(),
		Dialer:    listener.Dialer(),
		Conn:      cfg.Conn(),
		Reconnect: cfg.Reconnect(),
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	// Subscribe and receive a published message. The payload exceeds
	// the configured chunk size so it crosses the wire in pieces.
	received := make(chan *wire.Message, 1)
	if err := client.Subscribe(ctx, "trades", func(msg *wire.Message) {
		select {
		case received <- msg:
		default:
		}
	}); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	waitForSubscribers(t, srv, "trades", 1)

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := srv.Publish(ctx, "trades", payload); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case msg := <-received:
		if len(msg.Payload) != len(payload) {
			t.Fatalf("received %d bytes, want %d", len(msg.Payload), len(payload))
		}
		for i := range payload {
			if msg.Payload[i] != payload[i] {
				t.Fatalf("payload corrupted at byte %d", i)
			}
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published message")
	}

	// Request/response round trip.
	resp, err := client.Request(ctx, []byte("ping"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if string(resp.Payload) != "echo:ping" {
		t.Fatalf("response = %q, want %q", resp.Payload, "echo:ping")
	}

	// Tear down and inspect the capture.
	if err := client.Close(); err != nil {
		t.Fatalf("failed to close client: %v", err)
	}
	srv.Stop()
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close capture: %v", err)
	}

	assertCaptured(t, capturePath, log.Filter{Topic: "trades"}, "topic events")

	layer := log.LayerChunk
	assertCaptured(t, capturePath, log.Filter{Layer: &layer}, "chunk events")

	category := log.CategoryState
	assertCaptured(t, capturePath, log.Filter{Category: &category}, "state events")
}

func waitForSubscribers(t *testing.T, srv *transport.Server, topic string, want int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Router().SubscriberCount(topic) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d subscribers on %s", want, topic)
}

func assertCaptured(t *testing.T, path string, filter log.Filter, what string) {
	t.Helper()

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("failed to open capture: %v", err)
	}
	defer reader.Close()

	events, err := reader.All()
	if err != nil {
		t.Fatalf("failed to read capture: %v", err)
	}
	if len(events) == 0 {
		t.Errorf("capture contains no %s", what)
	}
}
