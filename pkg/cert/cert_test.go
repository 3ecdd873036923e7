package cert

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateIdentity(t *testing.T) {
	nodeID := uuid.New()
	id, err := GenerateIdentity(nodeID, []string{"127.0.0.1", "trader.local"})
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}

	if id.NodeID != nodeID {
		t.Errorf("NodeID = %s, want %s", id.NodeID, nodeID)
	}
	if id.PrivateKey.Curve.Params().Name != "P-256" {
		t.Errorf("curve = %s, want P-256", id.PrivateKey.Curve.Params().Name)
	}
	if len(id.Certificate.IPAddresses) != 1 {
		t.Errorf("IPAddresses = %v, want one entry", id.Certificate.IPAddresses)
	}
	if len(id.Certificate.DNSNames) != 1 || id.Certificate.DNSNames[0] != "trader.local" {
		t.Errorf("DNSNames = %v, want [trader.local]", id.Certificate.DNSNames)
	}
	if len(id.Fingerprint()) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(id.Fingerprint()))
	}
}

func TestExtractNodeID(t *testing.T) {
	nodeID := uuid.New()
	id, err := GenerateIdentity(nodeID, nil)
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}

	got, err := ExtractNodeID(id.Certificate)
	if err != nil {
		t.Fatalf("ExtractNodeID() error = %v", err)
	}
	if got != nodeID {
		t.Errorf("ExtractNodeID() = %s, want %s", got, nodeID)
	}
}

func TestPEMRoundTrip(t *testing.T) {
	id, err := GenerateIdentity(uuid.New(), nil)
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}

	certPEM := EncodeCertPEM(id.Certificate)
	decoded, err := DecodeCertPEM(certPEM)
	if err != nil {
		t.Fatalf("DecodeCertPEM() error = %v", err)
	}
	if !decoded.Equal(id.Certificate) {
		t.Error("decoded certificate differs from original")
	}

	keyPEM, err := EncodeKeyPEM(id.PrivateKey)
	if err != nil {
		t.Fatalf("EncodeKeyPEM() error = %v", err)
	}
	key, err := DecodeKeyPEM(keyPEM)
	if err != nil {
		t.Fatalf("DecodeKeyPEM() error = %v", err)
	}
	if !key.Equal(id.PrivateKey) {
		t.Error("decoded key differs from original")
	}
}

func TestDecodePEMInvalid(t *testing.T) {
	if _, err := DecodeCertPEM([]byte("not pem")); !errors.Is(err, ErrInvalidPEM) {
		t.Errorf("DecodeCertPEM() error = %v, want ErrInvalidPEM", err)
	}
	if _, err := DecodeKeyPEM([]byte("not pem")); !errors.Is(err, ErrInvalidPEM) {
		t.Errorf("DecodeKeyPEM() error = %v, want ErrInvalidPEM", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	id, err := GenerateIdentity(uuid.New(), nil)
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}
	if err := id.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.NodeID != id.NodeID {
		t.Errorf("loaded NodeID = %s, want %s", loaded.NodeID, id.NodeID)
	}
	if loaded.Fingerprint() != id.Fingerprint() {
		t.Errorf("loaded fingerprint = %s, want %s", loaded.Fingerprint(), id.Fingerprint())
	}
}

func TestLoadOrGenerate(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir, nil)
	if err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}

	second, err := LoadOrGenerate(dir, nil)
	if err != nil {
		t.Fatalf("LoadOrGenerate() second call error = %v", err)
	}
	if second.NodeID != first.NodeID {
		t.Error("identity was regenerated instead of loaded")
	}
	if second.Fingerprint() != first.Fingerprint() {
		t.Error("fingerprint changed across load")
	}
}

func TestVerifyFingerprint(t *testing.T) {
	id, err := GenerateIdentity(uuid.New(), nil)
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}
	raw := id.Certificate.Raw

	verify := VerifyFingerprint(id.Fingerprint())
	if err := verify([][]byte{raw}, nil); err != nil {
		t.Errorf("verify with matching fingerprint error = %v", err)
	}

	other, err := GenerateIdentity(uuid.New(), nil)
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}
	verify = VerifyFingerprint(other.Fingerprint())
	if err := verify([][]byte{raw}, nil); !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("verify with wrong fingerprint error = %v, want ErrFingerprintMismatch", err)
	}

	if err := verify(nil, nil); !errors.Is(err, ErrNoPeerCertificate) {
		t.Errorf("verify with no certs error = %v, want ErrNoPeerCertificate", err)
	}
}

func TestTLSConfigs(t *testing.T) {
	id, err := GenerateIdentity(uuid.New(), nil)
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}

	server := id.ServerTLSConfig()
	if len(server.Certificates) != 1 {
		t.Error("server config missing certificate")
	}

	client := id.ClientTLSConfig(id.Fingerprint())
	if client.VerifyPeerCertificate == nil {
		t.Error("client config missing pinning callback")
	}
	if !client.InsecureSkipVerify {
		t.Error("client config must skip chain verification for pinning")
	}
}
