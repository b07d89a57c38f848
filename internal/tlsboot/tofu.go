package tlsboot

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Store is a trust-on-first-use record of blits:// daemon certificates,
// grounded on
// _examples/bamsammich-beam/internal/transport/proto/tls.go's KnownHosts
// but backed by golang.org/x/crypto/ssh/knownhosts's file format and
// matching logic instead of a hand-rolled "host fingerprint" line parser:
// the daemon's TLS public key is wrapped as an ssh.PublicKey purely so the
// knownhosts package's TOFU-friendly HostKeyCallback and KeyError can be
// reused for a transport that has no SSH connection of its own.
type Store struct {
	path string
}

// DefaultKnownHostsPath returns ~/.config/blit/known_hosts.
func DefaultKnownHostsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blit", "known_hosts")
}

// NewStore opens (without requiring it to exist yet) the known_hosts file
// at path, or DefaultKnownHostsPath if path is empty.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultKnownHostsPath()
	}
	return &Store{path: path}
}

type hostAddr string

func (a hostAddr) Network() string { return "tcp" }
func (a hostAddr) String() string  { return string(a) }

// Verify checks host's certificate against the store. A host seen for the
// first time is recorded (TOFU) and accepted; a host whose recorded key
// differs from cert is rejected, since that indicates the peer's identity
// changed since the last successful connection.
func (s *Store) Verify(host string, cert *x509.Certificate) error {
	pub, err := ssh.NewPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("wrap certificate public key: %w", err)
	}

	callback, err := knownhosts.New(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load known_hosts: %w", err)
		}
		return s.record(host, pub)
	}

	// The knownhosts callback accepts only a *net.TCPAddr as the remote
	// address and reads host and port from the address string; a bare host
	// gets port 22, the port knownhosts.Line assumes for it when recording.
	address := host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		address = net.JoinHostPort(host, "22")
	}
	err = callback(address, &net.TCPAddr{}, pub)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return s.record(host, pub)
		}
		return fmt.Errorf(
			"REMOTE HOST IDENTIFICATION HAS CHANGED for %s: certificate does not "+
				"match the key recorded in %s; this could indicate the daemon was "+
				"reinstalled or a man-in-the-middle is present. Remove the entry "+
				"from the known_hosts file to accept the new key: %w",
			host, s.path, err)
	}
	return err
}

func (s *Store) record(host string, pub ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create known_hosts dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open known_hosts: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{host}, pub) + "\n"
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write known_hosts entry: %w", err)
	}
	return nil
}

var _ net.Addr = hostAddr("")
