// Package wsnet implements transport.Network on top of the signaling relay.
// Every claimed identity is one websocket to the relay; logical connections
// to other peers are multiplexed over it.
package wsnet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"retroboard/internal/signaling"
	"retroboard/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	handshakeWait  = 10 * time.Second
	maxFrameSize   = 1 << 20
	defaultRetries = 3
	acceptBacklog  = 16
)

type Options struct {
	// URL of the relay's /peer endpoint, e.g. ws://localhost:8081/peer.
	URL    string
	Logger *zap.Logger
	// Retries bounds how often a failed relay dial is retried. Zero means
	// the default of 3.
	Retries uint64
	// InitialInterval is the first retry delay. Zero keeps the backoff
	// default.
	InitialInterval time.Duration
}

type Network struct {
	url             string
	logger          *zap.Logger
	retries         uint64
	initialInterval time.Duration
	dialer          *websocket.Dialer
}

func New(opts Options) *Network {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := opts.Retries
	if retries == 0 {
		retries = defaultRetries
	}
	return &Network{
		url:             opts.URL,
		logger:          logger,
		retries:         retries,
		initialInterval: opts.InitialInterval,
		dialer:          &websocket.Dialer{HandshakeTimeout: handshakeWait},
	}
}

// Claim connects to the relay under id. It fails with
// transport.ErrIdentityTaken when the relay reports the id as held and with
// transport.ErrUnavailable when the relay cannot be reached.
func (n *Network) Claim(ctx context.Context, id string) (transport.Peer, error) {
	u, err := url.Parse(n.url)
	if err != nil {
		return nil, fmt.Errorf("%w: bad relay url: %v", transport.ErrUnavailable, err)
	}
	if id != "" {
		q := u.Query()
		q.Set("id", id)
		u.RawQuery = q.Encode()
	}

	b := backoff.NewExponentialBackOff()
	if n.initialInterval > 0 {
		b.InitialInterval = n.initialInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, n.retries), ctx)

	var ws *websocket.Conn
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		conn, resp, err := n.dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("relay rejected claim: %s", resp.Status))
			}
			n.logger.Debug("Relay dial failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		ws = conn
		return nil
	}, policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}

	p, err := n.handshake(ws)
	if err != nil {
		ws.Close()
		return nil, err
	}
	go p.readLoop()
	go p.writeLoop()
	return p, nil
}

func (n *Network) handshake(ws *websocket.Conn) (*peer, error) {
	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: relay handshake: %v", transport.ErrUnavailable, err)
	}
	ws.SetReadDeadline(time.Time{})

	f, err := signaling.DecodeFrame(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	switch f.Type {
	case signaling.FrameOpen:
	case signaling.FrameIDTaken:
		return nil, transport.ErrIdentityTaken
	default:
		return nil, fmt.Errorf("%w: relay answered %s %s", transport.ErrUnavailable, f.Type, f.Error)
	}

	return &peer{
		id:      f.ID,
		ws:      ws,
		logger:  n.logger.With(zap.String("peerId", f.ID)),
		out:     make(chan signaling.Frame, 64),
		accept:  make(chan transport.Conn, acceptBacklog),
		done:    make(chan struct{}),
		conns:   make(map[string]*conn),
		pending: make(map[string]chan error),
	}, nil
}

type peer struct {
	id     string
	ws     *websocket.Conn
	logger *zap.Logger
	out    chan signaling.Frame
	accept chan transport.Conn
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	conns   map[string]*conn
	pending map[string]chan error
}

func (p *peer) ID() string                    { return p.id }
func (p *peer) Accept() <-chan transport.Conn { return p.accept }
func (p *peer) Done() <-chan struct{}         { return p.done }

// Close leaves the relay. Open connections end as if the remote had closed
// them.
func (p *peer) Close() error {
	p.shutdown()
	return nil
}

func (p *peer) shutdown() {
	p.once.Do(func() {
		close(p.done)
		p.ws.Close()

		p.mu.Lock()
		conns := make([]*conn, 0, len(p.conns))
		for _, c := range p.conns {
			conns = append(conns, c)
		}
		for id, ch := range p.pending {
			ch <- transport.ErrClosed
			delete(p.pending, id)
		}
		p.mu.Unlock()

		for _, c := range conns {
			c.remoteClosed()
		}
	})
}

// Dial opens a logical connection to the peer holding id.
func (p *peer) Dial(ctx context.Context, id string) (transport.Conn, error) {
	c := newConn(uuid.NewString(), id, p)
	reply := make(chan error, 1)

	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return nil, transport.ErrClosed
	default:
	}
	p.conns[c.id] = c
	p.pending[c.id] = reply
	p.mu.Unlock()

	if err := p.write(ctx, signaling.Frame{Type: signaling.FrameConnect, Dst: id, Conn: c.id}); err != nil {
		p.abandon(c)
		return nil, err
	}

	select {
	case err := <-reply:
		if err != nil {
			p.abandon(c)
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		p.abandon(c)
		c.Close()
		return nil, ctx.Err()
	}
}

func (p *peer) abandon(c *conn) {
	p.mu.Lock()
	delete(p.pending, c.id)
	p.mu.Unlock()
	p.forget(c.id)
	c.inbox.Stop()
}

func (p *peer) forget(connID string) {
	p.mu.Lock()
	delete(p.conns, connID)
	p.mu.Unlock()
}

// resolve completes a pending Dial.
func (p *peer) resolve(connID string, err error) bool {
	p.mu.Lock()
	ch, ok := p.pending[connID]
	delete(p.pending, connID)
	p.mu.Unlock()
	if ok {
		ch <- err
	}
	return ok
}

func (p *peer) lookup(connID string) *conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[connID]
}

func (p *peer) write(ctx context.Context, f signaling.Frame) error {
	select {
	case <-p.done:
		return transport.ErrClosed
	default:
	}
	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case f := <-p.out:
			p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, f.Encode()); err != nil {
				p.logger.Warn("Relay write failed", zap.Error(err))
				p.shutdown()
				return
			}
		}
	}
}

func (p *peer) readLoop() {
	defer p.shutdown()
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				if !errors.Is(err, websocket.ErrCloseSent) {
					p.logger.Info("Relay connection lost", zap.Error(err))
				}
			}
			return
		}
		f, err := signaling.DecodeFrame(data)
		if err != nil {
			p.logger.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}
		p.handle(f)
	}
}

func (p *peer) handle(f signaling.Frame) {
	switch f.Type {
	case signaling.FrameConnect:
		// The read loop is the only sender on accept, so a free slot seen
		// here is still free below.
		if len(p.accept) == cap(p.accept) {
			p.logger.Warn("Refusing connection, accept backlog full",
				zap.String("src", f.Src),
				zap.String("conn", f.Conn))
			p.write(context.Background(), signaling.Frame{Type: signaling.FrameClose, Dst: f.Src, Conn: f.Conn})
			return
		}
		c := newConn(f.Conn, f.Src, p)
		p.mu.Lock()
		p.conns[c.id] = c
		p.mu.Unlock()
		if err := p.write(context.Background(), signaling.Frame{Type: signaling.FrameAccept, Dst: f.Src, Conn: f.Conn}); err != nil {
			return
		}
		select {
		case p.accept <- c:
		case <-p.done:
		}

	case signaling.FrameAccept:
		p.resolve(f.Conn, nil)

	case signaling.FrameUnavailable:
		if p.resolve(f.Conn, transport.ErrPeerNotFound) {
			return
		}
		if c := p.lookup(f.Conn); c != nil {
			c.remoteClosed()
		}

	case signaling.FrameData:
		if c := p.lookup(f.Conn); c != nil && c.remote == f.Src {
			c.inbox.Push([]byte(f.Payload))
		}

	case signaling.FrameClose:
		c := p.lookup(f.Conn)
		if c == nil || c.remote != f.Src {
			return
		}
		if !p.resolve(f.Conn, transport.ErrRefused) {
			c.remoteClosed()
		}

	case signaling.FrameLeave:
		p.mu.Lock()
		var gone []*conn
		for _, c := range p.conns {
			if c.remote == f.Src {
				gone = append(gone, c)
			}
		}
		p.mu.Unlock()
		for _, c := range gone {
			if !p.resolve(c.id, transport.ErrPeerNotFound) {
				c.remoteClosed()
			}
		}

	case signaling.FrameError:
		p.logger.Warn("Relay reported an error", zap.String("conn", f.Conn), zap.String("error", f.Error))
	}
}

// conn is one logical connection multiplexed over the peer's websocket.
type conn struct {
	id     string
	remote string
	peer   *peer
	inbox  *transport.Inbox
	closed chan struct{}
	once   sync.Once
}

func newConn(id, remote string, p *peer) *conn {
	return &conn{
		id:     id,
		remote: remote,
		peer:   p,
		inbox:  transport.NewInbox(),
		closed: make(chan struct{}),
	}
}

func (c *conn) ID() string              { return c.id }
func (c *conn) RemoteID() string        { return c.remote }
func (c *conn) Messages() <-chan []byte { return c.inbox.C() }

func (c *conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	return c.peer.write(ctx, signaling.Frame{
		Type:    signaling.FrameData,
		Dst:     c.remote,
		Conn:    c.id,
		Payload: string(data),
	})
}

func (c *conn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.inbox.Stop()
		c.peer.forget(c.id)
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		c.peer.write(ctx, signaling.Frame{Type: signaling.FrameClose, Dst: c.remote, Conn: c.id})
	})
	return nil
}

// remoteClosed ends the connection from the far side: messages already
// received are still delivered.
func (c *conn) remoteClosed() {
	c.once.Do(func() {
		close(c.closed)
		c.inbox.Finish()
		c.peer.forget(c.id)
	})
}
