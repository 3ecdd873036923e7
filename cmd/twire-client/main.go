// Command twire-client is a TradeWire trading client.
//
// The client connects to a server, pins its certificate fingerprint,
// subscribes to market data topics, and optionally publishes synthetic
// orders. It reconnects automatically with exponential backoff and
// re-establishes subscriptions after every reconnect.
//
// Usage:
//
//	twire-client [flags]
//
// Flags:
//
//	-address string      Server address (default "127.0.0.1:9469")
//	-fingerprint string  Server certificate fingerprint to pin (required
//	                     unless -discover is set)
//	-discover            Find a server via mDNS instead of -address
//	-config string       Configuration file path
//	-state-dir string    Directory for the node identity (default "./state")
//	-topics string       Comma separated topics to subscribe to
//	-publish string      Topic to publish synthetic orders on
//	-ping                Measure request round trips
//
// Examples:
//
//	# Subscribe to gold ticks
//	twire-client -address 10.0.0.5:9469 -fingerprint ab12... -topics ticks.XAUUSD
//
//	# Publish orders while watching fills
//	twire-client -fingerprint ab12... -topics fills -publish orders
package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/tradewire-protocol/tradewire-go/pkg/cert"
	"github.com/tradewire-protocol/tradewire-go/pkg/config"
	"github.com/tradewire-protocol/tradewire-go/pkg/discovery"
	"github.com/tradewire-protocol/tradewire-go/pkg/transport"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

var (
	address     string
	fingerprint string
	discover    bool
	configFile  string
	stateDir    string
	topicList   string
	publishOn   string
	ping        bool
)

func init() {
	flag.StringVar(&address, "address", "127.0.0.1:9469", "Server address")
	flag.StringVar(&fingerprint, "fingerprint", "", "Server certificate fingerprint to pin")
	flag.BoolVar(&discover, "discover", false, "Find a server via mDNS")
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.StringVar(&stateDir, "state-dir", "./state", "Directory for the node identity")
	flag.StringVar(&topicList, "topics", "", "Comma separated topics to subscribe to")
	flag.StringVar(&publishOn, "publish", "", "Topic to publish synthetic orders on")
	flag.BoolVar(&ping, "ping", false, "Measure request round trips")
}

func main() {
	flag.Parse()
	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	if fingerprint == "" {
		stdlog.Fatal("A server fingerprint is required (-fingerprint)")
	}

	cfg := config.Default()
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			stdlog.Fatalf("Failed to load config: %v", err)
		}
	}

	identity, err := cert.LoadOrGenerate(stateDir, nil)
	if err != nil {
		stdlog.Fatalf("Failed to load identity: %v", err)
	}
	stdlog.Printf("Node ID: %s", identity.NodeID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if discover {
		address, err = discoverServer(ctx)
		if err != nil {
			stdlog.Fatalf("Discovery failed: %v", err)
		}
		stdlog.Printf("Discovered server at %s", address)
	}

	dialer := transport.NewQUICDialer(transport.QUICConfig{
		TLSConfig: identity.ClientTLSConfig(fingerprint),
	})

	client, err := transport.NewClient(transport.ClientConfig{
		Address:   address,
		Dialer:    dialer,
		Conn:      cfg.Conn(),
		Reconnect: cfg.Reconnect(),
		OnHealthChange: func(oldHealth, newHealth transport.Health) {
			stdlog.Printf("[HEALTH] %s -> %s", oldHealth, newHealth)
		},
		OnUnreachable: func(attempts int, elapsed time.Duration) {
			stdlog.Printf("[CONN] Server unreachable after %d attempts over %s", attempts, elapsed)
		},
		OnError: func(err error) {
			stdlog.Printf("[ERROR] %v", err)
		},
	})
	if err != nil {
		stdlog.Fatalf("Failed to create client: %v", err)
	}

	if err := client.Connect(ctx); err != nil {
		stdlog.Fatalf("Failed to connect: %v", err)
	}
	stdlog.Printf("Connected to %s", address)

	for _, topic := range splitTopics(topicList) {
		topic := topic
		err := client.Subscribe(ctx, topic, func(msg *wire.Message) {
			printMessage(topic, msg)
		})
		if err != nil {
			stdlog.Fatalf("Failed to subscribe to %s: %v", topic, err)
		}
		stdlog.Printf("Subscribed to %s", topic)
	}

	if publishOn != "" {
		go runOrderFlow(ctx, client, publishOn)
	}
	if ping {
		go runPing(ctx, client)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	stdlog.Printf("Received signal: %v", sig)
	if err := client.Close(); err != nil {
		stdlog.Printf("Error closing client: %v", err)
	}
	stdlog.Println("Goodbye!")
}

func splitTopics(list string) []string {
	var topics []string
	for _, t := range strings.Split(list, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

func discoverServer(ctx context.Context) (string, error) {
	browseCtx, cancel := context.WithTimeout(ctx, discovery.BrowseTimeout)
	defer cancel()

	services, err := discovery.Browse(browseCtx)
	if err != nil {
		return "", err
	}
	for svc := range services {
		if len(svc.Addresses) == 0 {
			continue
		}
		return net.JoinHostPort(svc.Addresses[0], strconv.Itoa(int(svc.Port))), nil
	}
	return "", errors.New("no server found")
}

// tick mirrors the server's synthetic market data payload.
type tick struct {
	Symbol string  `cbor:"1,keyasint"`
	Price  float64 `cbor:"2,keyasint"`
	Seq    uint64  `cbor:"3,keyasint"`
}

func printMessage(topic string, msg *wire.Message) {
	var t tick
	if err := cbor.Unmarshal(msg.Payload, &t); err == nil && t.Symbol != "" {
		stdlog.Printf("[%s] %s %.4f (seq %d)", topic, t.Symbol, t.Price, t.Seq)
		return
	}
	stdlog.Printf("[%s] %d bytes", topic, len(msg.Payload))
}

// order is the synthetic order payload.
type order struct {
	ID     string `cbor:"1,keyasint"`
	Symbol string `cbor:"2,keyasint"`
	Side   string `cbor:"3,keyasint"`
	Qty    int64  `cbor:"4,keyasint"`
}

func runOrderFlow(ctx context.Context, client *transport.Client, topic string) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	sides := []string{"buy", "sell"}
	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o := order{
				ID:     uuid.NewString(),
				Symbol: "EURUSD",
				Side:   sides[n%2],
				Qty:    int64(100000 * (n%3 + 1)),
			}
			n++
			payload, err := cbor.Marshal(o)
			if err != nil {
				stdlog.Printf("[ORDER] encode failed: %v", err)
				continue
			}
			if err := client.Publish(ctx, topic, payload); err != nil {
				stdlog.Printf("[ORDER] publish failed: %v", err)
				continue
			}
			stdlog.Printf("[ORDER] %s %s %d %s", o.Side, o.Symbol, o.Qty, o.ID[:8])
		}
	}
}

func runPing(ctx context.Context, client *transport.Client) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			start := time.Now()
			_, err := client.Request(reqCtx, []byte("ping"))
			cancel()
			if err != nil {
				stdlog.Printf("[PING] failed: %v", err)
				continue
			}
			stdlog.Printf("[PING] rtt %s", time.Since(start).Round(time.Microsecond))
		}
	}
}
