// Package transport describes the point-to-point peer network the session
// runs on. Delivery is reliable and ordered per connection; nothing is
// promised across connections.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrIdentityTaken means another live peer already holds the requested
	// identity.
	ErrIdentityTaken = errors.New("identity already claimed")
	// ErrUnavailable means the network itself (signaling) cannot be reached.
	ErrUnavailable = errors.New("network unavailable")
	// ErrPeerNotFound means no peer holds the dialed identity.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrRefused means the dialed peer is not taking new connections.
	ErrRefused = errors.New("connection refused")
	// ErrClosed is returned when using a closed peer or connection.
	ErrClosed = errors.New("connection closed")
)

// HostIdentity is the well-known identity the host of a board claims.
func HostIdentity(boardID string) string {
	return "retroboard-" + boardID
}

// Network hands out peer identities.
type Network interface {
	// Claim registers this participant under id. An empty id requests an
	// anonymous identity.
	Claim(ctx context.Context, id string) (Peer, error)
}

// Peer is a claimed identity on the network.
type Peer interface {
	ID() string
	// Accept delivers connections opened by other peers.
	Accept() <-chan Conn
	Dial(ctx context.Context, id string) (Conn, error)
	// Done is closed when the peer loses its network identity.
	Done() <-chan struct{}
	Close() error
}

// Conn is a link to one other peer.
type Conn interface {
	ID() string
	RemoteID() string
	Send(ctx context.Context, data []byte) error
	// Messages yields incoming payloads in order and is closed when the link
	// drops.
	Messages() <-chan []byte
	Close() error
}
