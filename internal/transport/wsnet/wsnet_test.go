package wsnet_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retroboard/internal/board"
	"retroboard/internal/checkpoint"
	"retroboard/internal/roster"
	"retroboard/internal/session"
	"retroboard/internal/signaling"
	"retroboard/internal/transport"
	"retroboard/internal/transport/wsnet"
)

const waitFor = 3 * time.Second

func newNetwork(t *testing.T) *wsnet.Network {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	srv := httptest.NewServer(signaling.NewServer(signaling.Options{Redis: rdb, ClaimTTL: time.Minute}))
	t.Cleanup(srv.Close)
	return wsnet.New(wsnet.Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/peer"})
}

func claim(t *testing.T, n transport.Network, id string) transport.Peer {
	t.Helper()
	p, err := n.Claim(context.Background(), id)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func recv(t *testing.T, c transport.Conn) ([]byte, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		return msg, ok
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for message")
		return nil, false
	}
}

func accept(t *testing.T, p transport.Peer) transport.Conn {
	t.Helper()
	select {
	case c := <-p.Accept():
		return c
	case <-time.After(waitFor):
		t.Fatal("no incoming connection")
		return nil
	}
}

func TestClaimIdentity(t *testing.T) {
	n := newNetwork(t)
	host := claim(t, n, transport.HostIdentity("b1"))
	assert.Equal(t, "retroboard-b1", host.ID())

	_, err := n.Claim(context.Background(), transport.HostIdentity("b1"))
	assert.ErrorIs(t, err, transport.ErrIdentityTaken)

	anon := claim(t, n, "")
	assert.NotEmpty(t, anon.ID())
	assert.NotEqual(t, host.ID(), anon.ID())
}

func TestClaimUnreachableRelay(t *testing.T) {
	n := wsnet.New(wsnet.Options{URL: "ws://127.0.0.1:1/peer", Retries: 1, InitialInterval: 10 * time.Millisecond})
	_, err := n.Claim(context.Background(), "x")
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

func TestDialAndExchange(t *testing.T) {
	n := newNetwork(t)
	host := claim(t, n, "host")
	guest := claim(t, n, "")
	ctx := context.Background()

	conn, err := guest.Dial(ctx, "host")
	require.NoError(t, err)
	hostSide := accept(t, host)
	assert.Equal(t, conn.ID(), hostSide.ID())
	assert.Equal(t, guest.ID(), hostSide.RemoteID())

	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, conn.Send(ctx, []byte(m)))
	}
	for _, want := range []string{"one", "two", "three"} {
		got, ok := recv(t, hostSide)
		require.True(t, ok)
		assert.Equal(t, want, string(got))
	}

	require.NoError(t, hostSide.Send(ctx, []byte(`{"type":"SYNC_STATE"}`)))
	got, ok := recv(t, conn)
	require.True(t, ok)
	assert.Equal(t, `{"type":"SYNC_STATE"}`, string(got))
}

func TestDialUnknownPeer(t *testing.T) {
	n := newNetwork(t)
	guest := claim(t, n, "")

	_, err := guest.Dial(context.Background(), "nobody")
	assert.ErrorIs(t, err, transport.ErrPeerNotFound)
}

func TestCloseEndsRemoteSide(t *testing.T) {
	n := newNetwork(t)
	host := claim(t, n, "host")
	guest := claim(t, n, "")
	ctx := context.Background()

	conn, err := guest.Dial(ctx, "host")
	require.NoError(t, err)
	hostSide := accept(t, host)

	require.NoError(t, conn.Close())
	_, ok := recv(t, hostSide)
	assert.False(t, ok)
	assert.ErrorIs(t, conn.Send(ctx, []byte("x")), transport.ErrClosed)
}

func TestPeerLeaveClosesConnections(t *testing.T) {
	n := newNetwork(t)
	host, err := n.Claim(context.Background(), "host")
	require.NoError(t, err)
	guest := claim(t, n, "")

	conn, err := guest.Dial(context.Background(), "host")
	require.NoError(t, err)
	accept(t, host)

	require.NoError(t, host.Close())
	_, ok := recv(t, conn)
	assert.False(t, ok)

	select {
	case <-host.Done():
	case <-time.After(waitFor):
		t.Fatal("closed peer not done")
	}

	require.Eventually(t, func() bool {
		p, err := n.Claim(context.Background(), "host")
		if err != nil {
			return false
		}
		p.Close()
		return true
	}, waitFor, 20*time.Millisecond, "identity is free once its holder left")
}

func TestIdlePeerRefusesExcessConnections(t *testing.T) {
	n := newNetwork(t)
	host := claim(t, n, "host")
	guest := claim(t, n, "guest")
	other := claim(t, n, "")
	ctx := context.Background()

	link, err := guest.Dial(ctx, "host")
	require.NoError(t, err)
	hostSide := accept(t, host)

	// guest never reads Accept.
	for i := 0; i < wsnet.AcceptBacklog; i++ {
		_, err := other.Dial(ctx, "guest")
		require.NoError(t, err)
	}
	_, err = other.Dial(ctx, "guest")
	assert.ErrorIs(t, err, transport.ErrRefused)

	require.NoError(t, hostSide.Send(ctx, []byte("still here")))
	got, ok := recv(t, link)
	require.True(t, ok)
	assert.Equal(t, "still here", string(got))
}

// The session engine runs unchanged over the relay.
func TestSessionOverRelay(t *testing.T) {
	n := newNetwork(t)
	start := func(user string) *session.Session {
		s := session.New(session.Options{
			BoardID:    "relay01",
			UserName:   user,
			Network:    n,
			Checkpoint: checkpoint.New(checkpoint.NewMemStore(), "relay01", nil),
		})
		ctx, cancel := context.WithCancel(context.Background())
		go s.Run(ctx)
		t.Cleanup(func() {
			cancel()
			<-s.Done()
		})
		<-s.Ready()
		return s
	}

	host := start("Alice")
	require.Equal(t, session.RoleHost, host.View().Role)
	guest := start("Bob")
	require.Eventually(t, func() bool { return guest.View().Role == session.RoleGuestConnected }, waitFor, 10*time.Millisecond)

	require.NoError(t, guest.Dispatch(context.Background(), board.Action{
		Type: board.Create, ColumnID: board.ToImprove, CardID: "c1", Author: "Bob",
	}))
	require.Eventually(t, func() bool { return len(host.View().Columns.ToImprove) == 1 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(guest.View().Columns.ToImprove) == 1 }, waitFor, 10*time.Millisecond)

	assert.Equal(t, []roster.User{{Name: "Alice", IsHost: true}, {Name: "Bob"}}, guest.View().OnlineUsers)
}
