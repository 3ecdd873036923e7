package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures mDNS advertising.
type AdvertiserConfig struct {
	// Interface restricts advertising to a single network interface.
	// Empty means all interfaces.
	Interface string

	// TTL for the mDNS records. Zero uses the zeroconf default.
	TTL time.Duration
}

// Advertiser announces a TradeWire endpoint over mDNS.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// Advertise starts announcing the endpoint. A previous announcement is
// replaced.
func (a *Advertiser) Advertise(info *EndpointInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	instanceName := fmt.Sprintf("TW-%s", shortNodeID(info.NodeID))
	txtStrings := TXTRecordsToStrings(EncodeEndpointTXT(info))

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		instanceName,
		ServiceType,
		Domain,
		port,
		txtStrings,
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register endpoint service: %w", err)
	}

	a.server = server
	return nil
}

// UpdateTopics re-publishes the TXT records with a new topic list.
func (a *Advertiser) UpdateTopics(info *EndpointInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return fmt.Errorf("not advertising")
	}
	a.server.SetText(TXTRecordsToStrings(EncodeEndpointTXT(info)))
	return nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

func shortNodeID(nodeID string) string {
	if len(nodeID) > 8 {
		return nodeID[:8]
	}
	return nodeID
}

// Browse searches for TradeWire endpoints until ctx is done. Discovered
// endpoints are sent on the returned channel, which is closed when
// browsing stops. Entries with invalid TXT records are skipped.
func Browse(ctx context.Context) (<-chan *EndpointService, error) {
	out := make(chan *EndpointService)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToEndpoint(entry)
				if svc == nil {
					continue
				}
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}
			case <-removed:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	return out, nil
}

// FindNode browses until an endpoint with the given node id appears, or
// ctx is done.
func FindNode(ctx context.Context, nodeID string) (*EndpointService, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	endpoints, err := Browse(ctx)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case svc, ok := <-endpoints:
			if !ok {
				return nil, fmt.Errorf("node %s not found", nodeID)
			}
			if svc.NodeID == nodeID {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func entryToEndpoint(entry *zeroconf.ServiceEntry) *EndpointService {
	info, err := DecodeEndpointTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &EndpointService{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    addrs,
		NodeID:       info.NodeID,
		Version:      info.Version,
		Topics:       info.Topics,
	}
}
