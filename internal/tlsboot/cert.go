// Package tlsboot is the thin TLS bootstrap layer consumed by cmd/blit's
// daemon and client for the blits:// transport: self-signed certificate
// generation/persistence, fingerprinting, and a trust-on-first-use store.
// Grounded on
// _examples/bamsammich-beam/internal/transport/proto/tls.go, kept
// deliberately thin per spec.md §1's non-goal that TLS certificate
// lifecycle is an external collaborator's concern — the core protocol only
// consumes "a connected byte stream", and this package exists solely to
// hand cmd/blit one.
package tlsboot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultCertPath is the default path for the daemon's TLS certificate.
	DefaultCertPath = "/etc/blit/daemon.crt"
	// DefaultKeyPath is the default path for the daemon's TLS private key.
	DefaultKeyPath = "/etc/blit/daemon.key"
)

// GenerateSelfSignedCert creates a self-signed TLS certificate using P-256
// ECDSA, valid for 10 years, with localhost and 127.0.0.1 as SANs.
func GenerateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "blit daemon"},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return tls.X509KeyPair(certPEM, keyPEM)
}

// LoadOrGenerateCert loads a cert/key pair from disk; an empty path argument
// is taken from BLIT_TLS_CERT/BLIT_TLS_KEY, or DefaultCertPath/DefaultKeyPath
// when that is unset. If the pair cannot be loaded, it generates and
// persists a new self-signed pair. Returns the certificate and its SHA256
// fingerprint.
func LoadOrGenerateCert(certPath, keyPath string) (tls.Certificate, string, error) {
	if certPath == "" {
		certPath = envOr("BLIT_TLS_CERT", DefaultCertPath)
	}
	if keyPath == "" {
		keyPath = envOr("BLIT_TLS_KEY", DefaultKeyPath)
	}

	if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil {
		fp, fpErr := CertFingerprint(cert)
		if fpErr != nil {
			return tls.Certificate{}, "", fpErr
		}
		return cert, fp, nil
	}

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("generate cert: %w", err)
	}
	if err := persistCert(cert, certPath, keyPath); err != nil {
		return tls.Certificate{}, "", fmt.Errorf("persist cert: %w", err)
	}

	fp, err := CertFingerprint(cert)
	if err != nil {
		return tls.Certificate{}, "", err
	}
	return cert, fp, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func persistCert(cert tls.Certificate, certPath, keyPath string) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o755); err != nil {
		return err
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw})
	//nolint:gosec // G306: TLS cert is public data; only the key needs restricted perms
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("write cert: %w", err)
	}

	ecKey, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return errors.New("expected ECDSA private key")
	}
	keyDER, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

// CertFingerprint returns the SHA256 fingerprint of a certificate as
// "SHA256:<base64>".
func CertFingerprint(cert tls.Certificate) (string, error) {
	if len(cert.Certificate) == 0 {
		return "", errors.New("no certificate data")
	}
	h := sha256.Sum256(cert.Certificate[0])
	return "SHA256:" + base64.StdEncoding.EncodeToString(h[:]), nil
}

// PeerFingerprint extracts the SHA256 fingerprint of a TLS connection's
// leaf peer certificate.
func PeerFingerprint(conn *tls.Conn) (string, error) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", errors.New("no peer certificates")
	}
	h := sha256.Sum256(state.PeerCertificates[0].Raw)
	return "SHA256:" + base64.StdEncoding.EncodeToString(h[:]), nil
}

// ClientTLSConfig returns a TLS config for dialing a blits:// daemon. Go's
// built-in chain verification is skipped because the certificate is
// self-signed; the caller must verify the peer via the TOFU Store after
// the handshake completes.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, //nolint:gosec // fingerprint verified via TOFU after handshake
	}
}

// ServerTLSConfig wraps a loaded certificate for the daemon listener.
func ServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
}
