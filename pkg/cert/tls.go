package cert

import (
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// Pinning errors.
var (
	ErrFingerprintMismatch = errors.New("peer certificate fingerprint mismatch")
	ErrNoPeerCertificate   = errors.New("peer presented no certificate")
)

// TLSCertificate returns the identity as a tls.Certificate.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.der},
		PrivateKey:  id.PrivateKey,
	}
}

// ServerTLSConfig builds the TLS configuration for a listening node.
func (id *Identity) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{id.TLSCertificate()},
	}
}

// ClientTLSConfig builds a TLS configuration that authenticates the
// server by certificate fingerprint instead of a CA chain. The client
// presents its own identity so the server can log who connected.
func (id *Identity) ClientTLSConfig(serverFingerprint string) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{id.TLSCertificate()},

		// Chain verification is replaced by fingerprint pinning.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: VerifyFingerprint(serverFingerprint),
	}
}

// VerifyFingerprint returns a VerifyPeerCertificate callback that
// accepts exactly one certificate fingerprint.
func VerifyFingerprint(expected string) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrNoPeerCertificate
		}
		got := FingerprintDER(rawCerts[0])
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			return fmt.Errorf("%w: got %s", ErrFingerprintMismatch, got)
		}
		return nil
	}
}
