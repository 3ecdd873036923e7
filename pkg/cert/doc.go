// Package cert manages TradeWire node identities.
//
// Every node owns a self-signed ECDSA P-256 certificate whose common
// name carries the node ID. The certificate secures the QUIC transport
// via TLS 1.3. Peers are authenticated by certificate fingerprint
// pinning rather than a CA hierarchy: an operator distributes the
// SHA-256 fingerprint of a server's certificate out of band, and
// clients refuse connections to any other certificate.
//
// Identities can be persisted as PEM files so a node keeps its ID and
// fingerprint across restarts.
package cert
