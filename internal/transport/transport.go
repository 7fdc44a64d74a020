// Package transport abstracts how a live connection to one specific backend
// instance is obtained, and caches established connections per service
// version. The wire protocol spoken over a connection is not owned here.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Descriptor identifies one backend instance for a (service, version) pair.
type Descriptor struct {
	ServiceName string
	Version     string
	Endpoint    string
}

func (d Descriptor) key() string {
	return d.ServiceName + "@" + d.Version
}

// Conn is a reusable connection handle. Only the cache closes connections.
type Conn interface {
	Close() error
}

// Transport establishes connections. Connect must honor the context deadline.
type Transport interface {
	Connect(ctx context.Context, desc Descriptor) (Conn, error)
}

// TCPTransport dials backends over plain TCP using the descriptor endpoint.
type TCPTransport struct {
	timeout time.Duration
}

// NewTCPTransport builds a dialer with a per-attempt timeout.
func NewTCPTransport(timeout time.Duration) *TCPTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TCPTransport{timeout: timeout}
}

// Connect dials the descriptor endpoint. The attempt is bounded by the
// configured timeout in addition to any caller deadline.
func (t *TCPTransport) Connect(ctx context.Context, desc Descriptor) (Conn, error) {
	if desc.Endpoint == "" {
		return nil, fmt.Errorf("no endpoint configured for %s", desc.key())
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", desc.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s (%s): %w", desc.key(), desc.Endpoint, err)
	}
	return conn, nil
}
