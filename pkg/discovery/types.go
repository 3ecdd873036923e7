package discovery

import (
	"errors"
	"time"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service type for TradeWire endpoints.
	ServiceType = "_tradewire._udp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultPort is the default TradeWire listen port.
	DefaultPort = 9469

	// ProtocolVersion is the advertised protocol version.
	ProtocolVersion = "1"

	// BrowseTimeout is the default browse duration.
	BrowseTimeout = 10 * time.Second
)

// TXT record keys.
const (
	TXTKeyVersion = "ver"
	TXTKeyNodeID  = "node"
	TXTKeyTopics  = "topics"
)

// Discovery errors.
var (
	ErrMissingRequired  = errors.New("missing required TXT record")
	ErrInvalidTXTRecord = errors.New("invalid TXT record")
)

// EndpointInfo describes a TradeWire endpoint for advertising.
type EndpointInfo struct {
	// NodeID uniquely identifies the endpoint (UUID string).
	NodeID string

	// Port the endpoint listens on. Zero means DefaultPort.
	Port uint16

	// Topics the endpoint publishes, advertised as a hint for
	// browsers. May be empty.
	Topics []string

	// Version is filled when decoding a discovered endpoint.
	// Advertising always announces ProtocolVersion.
	Version string
}

// EndpointService is a discovered TradeWire endpoint.
type EndpointService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the advertised hostname.
	Host string

	// Port is the endpoint's listen port.
	Port uint16

	// Addresses are the endpoint's IP addresses as strings.
	Addresses []string

	// NodeID is the endpoint's node id.
	NodeID string

	// Version is the advertised protocol version.
	Version string

	// Topics are the advertised topics.
	Topics []string
}
