// Package location parses the blit:// and blits:// URL forms accepted on
// the CLI, grounded on
// _examples/bamsammich-beam/internal/transport/location.go's Location
// struct and net/url-based parser. Bare local paths and the teacher's
// SSH host:path shorthand are out of scope here — spec.md §1 names TLS
// certificate lifecycle and the CLI argument parser as external
// collaborators, and blit has no SSH transport, so only the two URL
// schemes blit actually speaks are parsed.
package location

import (
	"fmt"
	"net/url"
	"strconv"
)

// DefaultPort is the default TCP port for the blit protocol daemon.
const DefaultPort = 9876

// Location is a parsed blit://host:port/path or blits://host:port/path
// argument.
type Location struct {
	Host string
	Path string
	Port int
	TLS  bool
}

// String returns the canonical URL form.
func (l Location) String() string {
	scheme := "blit"
	if l.TLS {
		scheme = "blits"
	}
	port := l.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, l.Host, port, l.Path)
}

// Parse parses a blit:// or blits:// URL into a Location. It returns an
// error for any other scheme or a URL missing a host, since a bare local
// path is handled entirely by the CLI layer, outside this package.
func Parse(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse location %q: %w", raw, err)
	}

	var tls bool
	switch u.Scheme {
	case "blit":
		tls = false
	case "blits":
		tls = true
	default:
		return Location{}, fmt.Errorf("parse location %q: unsupported scheme %q", raw, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Location{}, fmt.Errorf("parse location %q: missing host", raw)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Location{}, fmt.Errorf("parse location %q: invalid port %q: %w", raw, p, err)
		}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return Location{Host: host, Port: port, Path: path, TLS: tls}, nil
}

// Addr returns the host:port string suitable for net.Dial, applying
// DefaultPort when the URL didn't specify one.
func (l Location) Addr() string {
	port := l.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", l.Host, port)
}
