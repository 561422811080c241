package signaling

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"retroboard/internal/middleware"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 1 << 20
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var errLeave = errors.New("peer left")

type Options struct {
	Redis    *redis.Client
	ClaimTTL time.Duration
	Logger   *zap.Logger
	// Metrics defaults to a fresh registry served on /metrics.
	Metrics *prometheus.Registry
}

// Server is the relay's HTTP surface: GET /peer upgrades to a websocket
// carrying frames, plus /healthz and /metrics.
type Server struct {
	rdb      *redis.Client
	registry *Registry
	ttl      time.Duration
	logger   *zap.Logger
	metrics  *metrics
	router   *mux.Router
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.ClaimTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	reg := opts.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		rdb:      opts.Redis,
		registry: NewRegistry(opts.Redis, ttl),
		ttl:      ttl,
		logger:   logger,
		metrics:  newMetrics(reg),
	}

	r := mux.NewRouter()
	r.Use(middleware.Logger(logger), s.instrument)
	r.Methods(http.MethodGet).Path("/peer").HandlerFunc(s.handlePeer)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		path := middleware.RoutePath(r)
		s.metrics.requests.WithLabelValues(r.Method, path, strconv.Itoa(m.Code)).Inc()
		s.metrics.requestDuration.WithLabelValues(r.Method, path).Observe(m.Duration.Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

// client is one websocket connected to this relay instance.
type client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
	peers  map[string]struct{}
}

// enqueue hands data to the write pump. It returns false once the client is
// shut down or its buffer is full.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) addPeer(id string) {
	c.mu.Lock()
	c.peers[id] = struct{}{}
	c.mu.Unlock()
}

func (c *client) removePeer(id string) {
	c.mu.Lock()
	delete(c.peers, id)
	c.mu.Unlock()
}

func (c *client) peerIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}
	if !ValidPeerID(id) {
		http.Error(w, "invalid peer id", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := s.logger.With(zap.String("peerId", id))

	owner := uuid.NewString()
	ok, err := s.registry.Claim(ctx, id, owner)
	if err != nil {
		s.metrics.claims.WithLabelValues("error").Inc()
		logger.Error("Failed to claim identity", zap.Error(err))
		writeNow(ws, Frame{Type: FrameError, Error: "registry unavailable"})
		return
	}
	if !ok {
		s.metrics.claims.WithLabelValues("taken").Inc()
		logger.Info("Identity already claimed")
		writeNow(ws, Frame{Type: FrameIDTaken, ID: id})
		return
	}
	s.metrics.claims.WithLabelValues("ok").Inc()

	pubsub := s.rdb.Subscribe(ctx, peerChannel(id))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe peer channel", zap.Error(err))
		s.release(id, owner)
		writeNow(ws, Frame{Type: FrameError, Error: "relay unavailable"})
		return
	}

	c := &client{
		id:    id,
		conn:  ws,
		send:  make(chan []byte, sendBuffer),
		peers: make(map[string]struct{}),
	}
	c.enqueue(Frame{Type: FrameOpen, ID: id}.Encode())

	s.metrics.peers.Inc()
	defer s.metrics.peers.Dec()
	logger.Info("Peer connected")

	go s.writePump(c)
	go s.forward(ctx, c, pubsub.Channel(), logger)
	go s.refresh(ctx, c, owner, logger)

	err = s.readPump(ctx, c)
	cancel()
	c.shutdown()
	s.release(id, owner)
	s.leave(c)
	logger.Info("Peer disconnected", zap.NamedError("reason", err))
}

func (s *Server) release(id, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := s.registry.Release(ctx, id, owner); err != nil {
		s.logger.Warn("Failed to release identity", zap.String("peerId", id), zap.Error(err))
	}
}

// leave tells every peer c talked to that c is gone.
func (s *Server) leave(c *client) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	for _, peer := range c.peerIDs() {
		f := Frame{Type: FrameLeave, Src: c.id, Dst: peer}
		if err := s.rdb.Publish(ctx, peerChannel(peer), f.Encode()).Err(); err != nil {
			s.logger.Warn("Failed to publish leave", zap.String("peerId", c.id), zap.Error(err))
		}
	}
}

func (s *Server) readPump(ctx context.Context, c *client) error {
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("WebSocket error", zap.String("peerId", c.id), zap.Error(err))
			}
			return err
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		f, err := DecodeFrame(data)
		if err != nil {
			c.enqueue(Frame{Type: FrameError, Error: err.Error()}.Encode())
			continue
		}
		if err := s.route(ctx, c, f); err != nil {
			return err
		}
	}
}

// route relays a frame sent by c to its destination.
func (s *Server) route(ctx context.Context, c *client, f Frame) error {
	f.Src = c.id
	switch f.Type {
	case FrameConnect:
		exists, err := s.registry.Exists(ctx, f.Dst)
		if err != nil {
			s.logger.Warn("Registry lookup failed", zap.String("dst", f.Dst), zap.Error(err))
		}
		if !exists {
			s.unavailable(c, f)
			return nil
		}
		c.addPeer(f.Dst)
		s.publish(ctx, c, f)
	case FrameAccept:
		c.addPeer(f.Dst)
		s.publish(ctx, c, f)
	case FrameData, FrameClose:
		s.publish(ctx, c, f)
	case FrameLeave:
		return errLeave
	default:
		c.enqueue(Frame{Type: FrameError, Error: "unsupported frame type " + string(f.Type)}.Encode())
	}
	return nil
}

func (s *Server) publish(ctx context.Context, c *client, f Frame) {
	if f.Dst == "" {
		c.enqueue(Frame{Type: FrameError, Conn: f.Conn, Error: "missing dst"}.Encode())
		return
	}
	n, err := s.rdb.Publish(ctx, peerChannel(f.Dst), f.Encode()).Result()
	if err != nil {
		s.logger.Warn("Failed to publish frame",
			zap.String("src", f.Src),
			zap.String("dst", f.Dst),
			zap.Error(err))
	}
	if err != nil || n == 0 {
		if f.Type != FrameClose {
			s.unavailable(c, f)
		}
		return
	}
	s.metrics.frames.WithLabelValues(string(f.Type)).Inc()
}

func (s *Server) unavailable(c *client, f Frame) {
	s.metrics.unavailable.Inc()
	c.enqueue(Frame{Type: FrameUnavailable, Src: f.Dst, Conn: f.Conn}.Encode())
}

// forward copies frames published for c into its write pump.
func (s *Server) forward(ctx context.Context, c *client, ch <-chan *redis.Message, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f, err := DecodeFrame([]byte(msg.Payload))
			if err != nil {
				logger.Warn("Dropping malformed relayed frame", zap.Error(err))
				continue
			}
			switch f.Type {
			case FrameConnect:
				c.addPeer(f.Src)
			case FrameLeave:
				c.removePeer(f.Src)
			}
			if !c.enqueue([]byte(msg.Payload)) {
				if ctx.Err() == nil {
					logger.Warn("Peer too slow, disconnecting")
					c.conn.Close()
				}
				return
			}
		}
	}
}

// refresh keeps the identity claimed while c is connected. Losing it
// disconnects c.
func (s *Server) refresh(ctx context.Context, c *client, owner string, logger *zap.Logger) {
	ticker := time.NewTicker(s.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.registry.Refresh(ctx, c.id, owner)
			if err != nil {
				logger.Warn("Failed to refresh identity", zap.Error(err))
				continue
			}
			if !ok {
				logger.Warn("Identity lost, disconnecting")
				c.conn.Close()
				return
			}
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeNow writes a single frame before the write pump is running.
func writeNow(ws *websocket.Conn, f Frame) {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	ws.WriteMessage(websocket.TextMessage, f.Encode())
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(f.Type)))
}
