// Package discovery advertises and finds TradeWire endpoints on the
// local network via mDNS/DNS-SD.
//
// A server advertises the "_tradewire._udp" service with TXT records
// describing its node id, protocol version, and published topics.
// Clients browse for endpoints and dial the advertised address.
package discovery
