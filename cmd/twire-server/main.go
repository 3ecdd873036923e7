// Command twire-server runs a TradeWire message server.
//
// The server accepts QUIC connections from trading clients, routes
// published messages between topic subscribers, and answers request
// envelopes. On first start it generates a node identity in the state
// directory and prints the certificate fingerprint that clients pin.
//
// Usage:
//
//	twire-server [flags]
//
// Flags:
//
//	-listen string     UDP listen address (default ":9469")
//	-config string     Configuration file path
//	-state-dir string  Directory for the node identity (default "./state")
//	-advertise         Advertise the endpoint via mDNS
//	-log-file string   Write CBOR diagnostic events to this file
//	-simulate          Publish synthetic market data
//
// Examples:
//
//	# Start with defaults, printing the pin fingerprint
//	twire-server -state-dir /var/lib/twire
//
//	# Start from a config file with mDNS advertising
//	twire-server -config /etc/twire/server.yaml -advertise
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/tradewire-protocol/tradewire-go/pkg/cert"
	"github.com/tradewire-protocol/tradewire-go/pkg/config"
	"github.com/tradewire-protocol/tradewire-go/pkg/discovery"
	"github.com/tradewire-protocol/tradewire-go/pkg/log"
	"github.com/tradewire-protocol/tradewire-go/pkg/transport"
	"github.com/tradewire-protocol/tradewire-go/pkg/wire"
)

var (
	listenAddr string
	configFile string
	stateDir   string
	advertise  bool
	logFile    string
	simulate   bool
)

func init() {
	flag.StringVar(&listenAddr, "listen", "", "UDP listen address (overrides config)")
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.StringVar(&stateDir, "state-dir", "./state", "Directory for the node identity")
	flag.BoolVar(&advertise, "advertise", false, "Advertise the endpoint via mDNS")
	flag.StringVar(&logFile, "log-file", "", "Write CBOR diagnostic events to this file")
	flag.BoolVar(&simulate, "simulate", false, "Publish synthetic market data")
}

func main() {
	flag.Parse()
	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	cfg := config.Default()
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			stdlog.Fatalf("Failed to load config: %v", err)
		}
	}
	if listenAddr != "" {
		cfg.ListenAddress = listenAddr
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}

	identity, err := cert.LoadOrGenerate(stateDir, nil)
	if err != nil {
		stdlog.Fatalf("Failed to load identity: %v", err)
	}

	logger, closeLogger, err := buildLogger(cfg.LogFile)
	if err != nil {
		stdlog.Fatalf("Failed to open log file: %v", err)
	}
	defer closeLogger()

	listener, err := transport.ListenQUIC(cfg.ListenAddress, transport.QUICConfig{
		TLSConfig: identity.ServerTLSConfig(),
	})
	if err != nil {
		stdlog.Fatalf("Failed to listen: %v", err)
	}

	connConfig := cfg.Conn()
	connConfig.Logger = logger

	srv := transport.NewServer(listener, transport.ServerConfig{
		Conn:   connConfig,
		Router: cfg.Router(),
		OnConnect: func(conn *transport.Conn) {
			stdlog.Printf("[CONN] Client connected: %s", conn.RemoteAddr())
		},
		OnDisconnect: func(conn *transport.Conn) {
			stdlog.Printf("[CONN] Client disconnected: %s", conn.RemoteAddr())
		},
		OnRequest: handleRequest,
		OnError: func(err error) {
			stdlog.Printf("[ERROR] %v", err)
		},
	})

	if err := srv.Start(); err != nil {
		stdlog.Fatalf("Failed to start server: %v", err)
	}

	printNodeInfo(identity, cfg.ListenAddress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var adv *discovery.Advertiser
	if advertise {
		adv = discovery.NewAdvertiser(discovery.AdvertiserConfig{})
		info := &discovery.EndpointInfo{
			NodeID: identity.NodeID.String(),
			Port:   listenPort(cfg.ListenAddress),
		}
		if err := adv.Advertise(info); err != nil {
			stdlog.Printf("Warning: mDNS advertising failed: %v", err)
		} else {
			stdlog.Println("mDNS advertising active")
		}
	}

	if simulate {
		go runSimulation(ctx, srv)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	stdlog.Printf("Received signal: %v", sig)
	stdlog.Println("Shutting down...")

	if adv != nil {
		adv.Stop()
	}
	if err := srv.Stop(); err != nil {
		stdlog.Printf("Error stopping server: %v", err)
	}

	stdlog.Println("Goodbye!")
}

func listenPort(address string) uint16 {
	_, p, err := net.SplitHostPort(address)
	if err != nil {
		return discovery.DefaultPort
	}
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 || n > 65535 {
		return discovery.DefaultPort
	}
	return uint16(n)
}

func buildLogger(path string) (log.Logger, func(), error) {
	if path == "" {
		return log.NoopLogger{}, func() {}, nil
	}
	fl, err := log.NewFileLogger(path)
	if err != nil {
		return nil, nil, err
	}
	return fl, func() { _ = fl.Close() }, nil
}

func handleRequest(ctx context.Context, conn *transport.Conn, req *wire.Message) ([]byte, error) {
	// Echo service: lets clients measure round trips.
	stdlog.Printf("[REQ] %d bytes from %s", len(req.Payload), conn.RemoteAddr())
	return req.Payload, nil
}

func printNodeInfo(identity *cert.Identity, address string) {
	stdlog.Println("")
	stdlog.Println("============================================")
	stdlog.Println("            TRADEWIRE SERVER                ")
	stdlog.Println("============================================")
	stdlog.Printf("  Node ID:     %s", identity.NodeID)
	stdlog.Printf("  Listen:      %s", address)
	stdlog.Printf("  Fingerprint: %s", identity.Fingerprint())
	stdlog.Println("")
	stdlog.Println("  Clients pin the fingerprint above.")
	stdlog.Println("============================================")
	stdlog.Println("")
}

// tick is the synthetic market data payload.
type tick struct {
	Symbol string  `cbor:"1,keyasint"`
	Price  float64 `cbor:"2,keyasint"`
	Seq    uint64  `cbor:"3,keyasint"`
}

func runSimulation(ctx context.Context, srv *transport.Server) {
	stdlog.Println("Simulation mode enabled")

	symbols := []string{"EURUSD", "XAUUSD", "BTCUSD"}
	prices := []float64{1.0842, 2519.30, 64210.0}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, sym := range symbols {
				seq++
				prices[i] *= 1 + 0.0004*float64(int(seq%7)-3)
				payload, err := cbor.Marshal(tick{Symbol: sym, Price: prices[i], Seq: seq})
				if err != nil {
					stdlog.Printf("[SIM] encode failed: %v", err)
					continue
				}
				reached, err := srv.Publish(ctx, "ticks."+sym, payload)
				if err != nil {
					stdlog.Printf("[SIM] publish failed: %v", err)
					continue
				}
				if reached > 0 {
					stdlog.Printf("[SIM] %s %s -> %d subscribers", sym, fmt.Sprintf("%.4f", prices[i]), reached)
				}
			}
		}
	}
}
