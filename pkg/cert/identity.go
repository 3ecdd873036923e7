package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity errors.
var (
	ErrInvalidNodeID = errors.New("certificate does not carry a node ID")
)

const (
	// CommonNamePrefix precedes the node ID in the certificate subject.
	CommonNamePrefix = "tw-"

	// DefaultValidity is how long a generated certificate is valid.
	DefaultValidity = 365 * 24 * time.Hour
)

// Identity is a node's certificate and private key.
type Identity struct {
	NodeID      uuid.UUID
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey

	der []byte
}

// GenerateIdentity creates a fresh self-signed identity for nodeID.
// hosts lists the DNS names or IP addresses the certificate covers;
// it may be empty for fingerprint-pinned deployments.
func GenerateIdentity(nodeID uuid.UUID, hosts []string) (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: CommonNamePrefix + nodeID.String()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(DefaultValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return &Identity{
		NodeID:      nodeID,
		Certificate: parsed,
		PrivateKey:  key,
		der:         der,
	}, nil
}

// Fingerprint returns the lowercase hex SHA-256 digest of the DER
// encoded certificate.
func (id *Identity) Fingerprint() string {
	return FingerprintDER(id.der)
}

// FingerprintDER computes the fingerprint of a raw DER certificate.
func FingerprintDER(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// ExtractNodeID reads the node ID from a certificate subject.
func ExtractNodeID(c *x509.Certificate) (uuid.UUID, error) {
	cn := c.Subject.CommonName
	if !strings.HasPrefix(cn, CommonNamePrefix) {
		return uuid.Nil, ErrInvalidNodeID
	}
	id, err := uuid.Parse(strings.TrimPrefix(cn, CommonNamePrefix))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	return id, nil
}
