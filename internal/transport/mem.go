package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const acceptBacklog = 16

// MemNetwork is an in-process Network. It backs tests and single-process
// demos; SetDown makes every Claim fail as if signaling were unreachable.
type MemNetwork struct {
	mu    sync.Mutex
	peers map[string]*memPeer
	down  bool
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{peers: make(map[string]*memPeer)}
}

// SetDown toggles the unreachable mode.
func (n *MemNetwork) SetDown(down bool) {
	n.mu.Lock()
	n.down = down
	n.mu.Unlock()
}

// Drop disconnects the peer holding id, as if its session ended.
func (n *MemNetwork) Drop(id string) {
	n.mu.Lock()
	p := n.peers[id]
	n.mu.Unlock()
	if p != nil {
		p.Close()
	}
}

func (n *MemNetwork) Claim(ctx context.Context, id string) (Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.down {
		return nil, ErrUnavailable
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, taken := n.peers[id]; taken {
		return nil, ErrIdentityTaken
	}
	p := &memPeer{
		id:     id,
		net:    n,
		accept: make(chan Conn, acceptBacklog),
		done:   make(chan struct{}),
		conns:  make(map[*memConn]struct{}),
	}
	n.peers[id] = p
	return p, nil
}

type memPeer struct {
	id     string
	net    *MemNetwork
	accept chan Conn
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	conns  map[*memConn]struct{}
}

func (p *memPeer) ID() string            { return p.id }
func (p *memPeer) Accept() <-chan Conn   { return p.accept }
func (p *memPeer) Done() <-chan struct{} { return p.done }

func (p *memPeer) track(c *memConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.conns[c] = struct{}{}
	return true
}

func (p *memPeer) untrack(c *memConn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
}

// Dial fails with ErrRefused when the remote has acceptBacklog connections
// it has not taken from Accept yet.
func (p *memPeer) Dial(ctx context.Context, id string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.net.mu.Lock()
	remote := p.net.peers[id]
	p.net.mu.Unlock()
	if remote == nil {
		return nil, ErrPeerNotFound
	}

	connID := uuid.NewString()
	local := newMemConn(connID, id, p)
	other := newMemConn(connID, p.id, remote)
	local.other, other.other = other, local

	if !p.track(local) {
		return nil, ErrClosed
	}
	if !remote.track(other) {
		p.untrack(local)
		return nil, ErrPeerNotFound
	}

	select {
	case remote.accept <- other:
		return local, nil
	case <-remote.done:
		local.Close()
		return nil, ErrPeerNotFound
	default:
		local.Close()
		return nil, ErrRefused
	}
}

func (p *memPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*memConn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	p.net.mu.Lock()
	if p.net.peers[p.id] == p {
		delete(p.net.peers, p.id)
	}
	p.net.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	close(p.done)
	return nil
}

// memConn is one side of an in-process link. Sends push onto the other
// side's inbox.
type memConn struct {
	id     string
	remote string
	owner  *memPeer
	other  *memConn

	inbox       *Inbox
	localClosed chan struct{}
	closeOnce   sync.Once
}

func newMemConn(id, remote string, owner *memPeer) *memConn {
	return &memConn{
		id:          id,
		remote:      remote,
		owner:       owner,
		inbox:       NewInbox(),
		localClosed: make(chan struct{}),
	}
}

func (c *memConn) ID() string              { return c.id }
func (c *memConn) RemoteID() string        { return c.remote }
func (c *memConn) Messages() <-chan []byte { return c.inbox.C() }

func (c *memConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.localClosed:
		return ErrClosed
	default:
	}
	if !c.other.inbox.Push(append([]byte(nil), data...)) {
		return ErrClosed
	}
	return nil
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.localClosed)
		c.inbox.Stop()
		c.other.inbox.Finish()
		c.owner.untrack(c)
		c.other.owner.untrack(c.other)
	})
	return nil
}
