// Package session runs one participant's side of a shared board: it decides
// whether this participant hosts the board or joins it as a guest, and then
// keeps the board in sync.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"retroboard/internal/board"
	"retroboard/internal/checkpoint"
	"retroboard/internal/protocol"
	"retroboard/internal/roster"
	"retroboard/internal/transport"
)

// ErrUnavailable is returned by Dispatch when the action cannot reach the
// host. The action is dropped, not queued.
var ErrUnavailable = errors.New("host unavailable")

const (
	sendTimeout = 5 * time.Second
	dialTimeout = 10 * time.Second
)

// Options configures a Session.
type Options struct {
	BoardID    string
	UserName   string
	Network    transport.Network
	Checkpoint *checkpoint.Checkpoint
	Logger     *zap.Logger
	// Clock returns the wall clock in milliseconds. Defaults to time.Now.
	Clock func() int64
}

type event interface{}

type dispatchEvent struct {
	action board.Action
	reply  chan error
}

type userNameEvent struct {
	name  string
	reply chan error
}

type connMessage struct {
	conn transport.Conn
	data []byte
}

type connClosed struct {
	conn transport.Conn
}

// Session owns the board of a single board join. All board state is mutated
// by the goroutine running Run.
type Session struct {
	net    transport.Network
	cp     *checkpoint.Checkpoint
	logger *zap.Logger
	clock  func() int64

	events  chan event
	ready   chan struct{}
	stopped chan struct{}

	// Owned by the Run goroutine.
	role     Role
	peer     transport.Peer
	state    board.Board
	userName string
	hasState bool
	roster   *roster.Roster
	guests   map[string]transport.Conn
	hostConn transport.Conn
	online   []roster.User

	viewMu sync.RWMutex
	view   View
	subsMu sync.Mutex
	subs   map[chan View]struct{}
}

// New creates a session. Run starts it.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().UnixMilli() }
	}
	s := &Session{
		net:      opts.Network,
		cp:       opts.Checkpoint,
		logger:   logger.With(zap.String("boardId", opts.BoardID)),
		clock:    clock,
		events:   make(chan event, 64),
		ready:    make(chan struct{}),
		stopped:  make(chan struct{}),
		role:     RoleStarting,
		state:    board.Board{ID: opts.BoardID, Name: board.DefaultName, Columns: board.Empty()},
		userName: opts.UserName,
		guests:   make(map[string]transport.Conn),
		subs:     make(map[chan View]struct{}),
	}
	s.view = s.buildView()
	return s
}

// Ready is closed once the session knows its role.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.stopped }

// View returns the latest published snapshot.
func (s *Session) View() View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// Subscribe returns a channel that receives the current view and then every
// later one. Slow readers only see the latest view. The channel is closed by
// cancel or when the session stops.
func (s *Session) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	s.subsMu.Lock()
	select {
	case <-s.stopped:
		s.subsMu.Unlock()
		ch <- s.View()
		close(ch)
		return ch, func() {}
	default:
	}
	s.subs[ch] = struct{}{}
	ch <- s.View()
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Dispatch submits a board mutation. A host applies it, persists and
// broadcasts; a guest forwards it to the host and waits for the host's next
// snapshot instead of applying it locally.
func (s *Session) Dispatch(ctx context.Context, a board.Action) error {
	ev := dispatchEvent{action: a, reply: make(chan error, 1)}
	return s.submit(ctx, ev, ev.reply)
}

// Rename changes the board name through the same path as any other action.
func (s *Session) Rename(ctx context.Context, name string) error {
	return s.Dispatch(ctx, board.Action{Type: board.Rename, BoardName: name})
}

// SetUserName changes and saves the local display name. A guest
// re-announces itself so the host's roster follows.
func (s *Session) SetUserName(ctx context.Context, name string) error {
	ev := userNameEvent{name: name, reply: make(chan error, 1)}
	return s.submit(ctx, ev, ev.reply)
}

func (s *Session) submit(ctx context.Context, ev event, reply chan error) error {
	select {
	case s.events <- ev:
	case <-s.stopped:
		return ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.stopped:
		return ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run claims a role and then processes events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	s.arbitrate(ctx)
	close(s.ready)

	for {
		var (
			accept   <-chan transport.Conn
			peerDone <-chan struct{}
		)
		if s.peer != nil {
			peerDone = s.peer.Done()
			if s.role == RoleHost {
				accept = s.peer.Accept()
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case conn := <-accept:
			s.onGuestOpen(ctx, conn)
		case <-peerDone:
			s.onPeerLost()
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case dispatchEvent:
		ev.reply <- s.dispatch(ctx, ev.action)
	case userNameEvent:
		ev.reply <- s.setUserName(ctx, ev.name)
	case connMessage:
		if s.role == RoleHost {
			s.onGuestMessage(ctx, ev.conn, ev.data)
		} else if ev.conn == s.hostConn {
			s.onHostMessage(ctx, ev.data)
		}
	case connClosed:
		if s.role == RoleHost {
			s.onGuestClosed(ctx, ev.conn)
		} else if ev.conn == s.hostConn {
			s.onHostLost()
		}
	}
}

func (s *Session) shutdown() {
	for _, c := range s.guests {
		c.Close()
	}
	if s.hostConn != nil {
		s.hostConn.Close()
	}
	if s.peer != nil {
		s.peer.Close()
	}

	s.subsMu.Lock()
	close(s.stopped)
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.subsMu.Unlock()
}

// readConn forwards one connection's messages to the event loop in order,
// followed by a close event.
func (s *Session) readConn(conn transport.Conn) {
	for data := range conn.Messages() {
		select {
		case s.events <- connMessage{conn: conn, data: data}:
		case <-s.stopped:
			return
		}
	}
	select {
	case s.events <- connClosed{conn: conn}:
	case <-s.stopped:
	}
}

func (s *Session) dispatch(ctx context.Context, a board.Action) error {
	switch s.role {
	case RoleHost, RoleOffline:
		s.applyLocal(ctx, a)
		return nil
	case RoleGuestConnecting, RoleGuestConnected:
		return s.sendAction(ctx, a)
	}
	return ErrUnavailable
}

func (s *Session) setUserName(ctx context.Context, name string) error {
	s.userName = name
	if s.cp != nil {
		if err := s.cp.SetUserName(ctx, name); err != nil {
			s.logger.Error("Failed to save user name", zap.Error(err))
		}
	}
	switch s.role {
	case RoleHost, RoleOffline:
		s.roster.SetHostName(name)
		s.broadcast(ctx)
	case RoleGuestConnecting, RoleGuestConnected:
		if err := s.sendAnnounce(ctx); err != nil {
			s.logger.Warn("Failed to re-announce to host", zap.Error(err))
		}
	}
	s.publish()
	return nil
}

// nextTs advances the logical timestamp to the wall clock, never backwards.
func (s *Session) nextTs() int64 {
	now := s.clock()
	if now <= s.state.LastMutationTs {
		now = s.state.LastMutationTs + 1
	}
	return now
}

// applyLocal is the host pipeline: mutate, persist, then notify. Unknown
// kinds are dropped before the timestamp moves.
func (s *Session) applyLocal(ctx context.Context, a board.Action) {
	if !a.Type.Known() {
		s.logger.Warn("Dropping action of unknown kind", zap.String("type", string(a.Type)))
		return
	}
	ts := s.nextTs()
	if a.Type == board.Rename {
		s.state.Name = board.NormalizeName(a.BoardName)
	} else {
		a.Timestamp = ts
		s.state.Columns = board.Apply(s.state.Columns, a)
	}
	s.state.LastMutationTs = ts
	s.hasState = true

	s.persist(ctx)
	s.broadcast(ctx)
	s.publish()
}

func (s *Session) persist(ctx context.Context) {
	if s.cp == nil {
		return
	}
	snap := checkpoint.Snapshot{Columns: s.state.Columns, Name: s.state.Name, Ts: s.state.LastMutationTs}
	if err := s.cp.Save(ctx, snap); err != nil {
		s.logger.Error("Failed to save checkpoint", zap.Error(err))
	}
}

func (s *Session) publish() {
	v := s.buildView()

	s.viewMu.Lock()
	s.view = v
	s.viewMu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

func (s *Session) buildView() View {
	v := View{
		BoardID:   s.state.ID,
		BoardName: s.state.Name,
		UserName:  s.userName,
		Role:      s.role,
		Columns:   s.state.Columns,
		StateTs:   s.state.LastMutationTs,
	}
	switch {
	case s.roster != nil:
		v.OnlineUsers = s.roster.Users()
	case s.online != nil:
		v.OnlineUsers = append([]roster.User(nil), s.online...)
	default:
		v.OnlineUsers = []roster.User{}
	}
	return v
}

func (s *Session) setRole(r Role) {
	if s.role != r {
		s.logger.Info("Session role changed",
			zap.String("from", string(s.role)),
			zap.String("to", string(r)))
	}
	s.role = r
}

func send(ctx context.Context, conn transport.Conn, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", m.Type(), err)
	}
	return nil
}
