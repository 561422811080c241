package signaling

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRelay struct {
	srv    *httptest.Server
	wsURL  string
	server *Server
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	_, rdb := newRedis(t)
	s := NewServer(Options{Redis: rdb, ClaimTTL: time.Minute})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &testRelay{srv: srv, wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/peer", server: s}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (r *testRelay) connect(t *testing.T, id string) *wsClient {
	t.Helper()
	url := r.wsURL
	if id != "" {
		url += "?id=" + id
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) write(f Frame) {
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, f.Encode()))
}

func (c *wsClient) read() Frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	f, err := DecodeFrame(data)
	require.NoError(c.t, err)
	return f
}

func TestClaimOpenAndTaken(t *testing.T) {
	relay := newTestRelay(t)

	host := relay.connect(t, "retroboard-b1")
	open := host.read()
	assert.Equal(t, FrameOpen, open.Type)
	assert.Equal(t, "retroboard-b1", open.ID)

	second := relay.connect(t, "retroboard-b1")
	assert.Equal(t, FrameIDTaken, second.read().Type)
}

func TestAnonymousClaim(t *testing.T) {
	relay := newTestRelay(t)
	c := relay.connect(t, "")
	open := c.read()
	assert.Equal(t, FrameOpen, open.Type)
	assert.NotEmpty(t, open.ID)
}

func TestInvalidPeerID(t *testing.T) {
	relay := newTestRelay(t)
	_, resp, err := websocket.DefaultDialer.Dial(relay.wsURL+"?id=bad%20id", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelayConnectAndData(t *testing.T) {
	relay := newTestRelay(t)
	host := relay.connect(t, "host")
	host.read()
	guest := relay.connect(t, "guest")
	guest.read()

	guest.write(Frame{Type: FrameConnect, Dst: "host", Conn: "c1", Src: "spoofed"})
	connect := host.read()
	assert.Equal(t, FrameConnect, connect.Type)
	assert.Equal(t, "guest", connect.Src, "relay stamps the sender")
	assert.Equal(t, "c1", connect.Conn)

	host.write(Frame{Type: FrameAccept, Dst: "guest", Conn: "c1"})
	assert.Equal(t, FrameAccept, guest.read().Type)

	guest.write(Frame{Type: FrameData, Dst: "host", Conn: "c1", Payload: "first"})
	guest.write(Frame{Type: FrameData, Dst: "host", Conn: "c1", Payload: "second"})
	assert.Equal(t, "first", host.read().Payload)
	assert.Equal(t, "second", host.read().Payload)
}

func TestConnectToUnknownPeer(t *testing.T) {
	relay := newTestRelay(t)
	guest := relay.connect(t, "guest")
	guest.read()

	guest.write(Frame{Type: FrameConnect, Dst: "nobody", Conn: "c1"})
	f := guest.read()
	assert.Equal(t, FrameUnavailable, f.Type)
	assert.Equal(t, "nobody", f.Src)
	assert.Equal(t, "c1", f.Conn)
}

func TestLeaveOnDisconnect(t *testing.T) {
	relay := newTestRelay(t)
	host := relay.connect(t, "host")
	host.read()
	guest := relay.connect(t, "guest")
	guest.read()

	guest.write(Frame{Type: FrameConnect, Dst: "host", Conn: "c1"})
	host.read()
	host.conn.Close()

	f := guest.read()
	assert.Equal(t, FrameLeave, f.Type)
	assert.Equal(t, "host", f.Src)

	// The identity is released before LEAVE goes out.
	again := relay.connect(t, "host")
	assert.Equal(t, FrameOpen, again.read().Type)
}

func TestMalformedFrame(t *testing.T) {
	relay := newTestRelay(t)
	c := relay.connect(t, "p")
	c.read()

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, FrameError, c.read().Type)
	c.write(Frame{Type: FrameOpen})
	assert.Equal(t, FrameError, c.read().Type)
}

func TestHealthAndMetrics(t *testing.T) {
	relay := newTestRelay(t)
	c := relay.connect(t, "p")
	c.read()

	resp, err := http.Get(relay.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(relay.srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `retroboard_signaling_claims_total{result="ok"} 1`)
	assert.Contains(t, string(body), "retroboard_signaling_peers 1")
}
