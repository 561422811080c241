// Package ui connects browser clients to a running session: clients receive
// the session's views over a websocket and send back edit intents.
package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"retroboard/internal/board"
	"retroboard/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	intentTimeout  = 10 * time.Second
)

// Message types sent to clients.
const (
	TypeView  = "VIEW"
	TypeError = "ERROR"
)

// SetUserName is the one intent that is not a board action.
const SetUserName = "SET_USERNAME"

// Board is the part of a session the hub drives.
type Board interface {
	View() session.View
	Subscribe() (<-chan session.View, func())
	Dispatch(ctx context.Context, a board.Action) error
	Rename(ctx context.Context, name string) error
	SetUserName(ctx context.Context, name string) error
}

// Intent is what a client sends: a board action, or SET_USERNAME.
type Intent struct {
	board.Action
	UserName string `json:"userName,omitempty"`
}

type outMessage struct {
	Type  string        `json:"type"`
	View  *session.View `json:"view,omitempty"`
	Error string        `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected browser tab.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and pushes every new view to them.
type Hub struct {
	board      Board
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	direct     chan directMessage
	done       chan struct{}
	latest     []byte
}

type directMessage struct {
	client *Client
	data   []byte
}

func NewHub(b Board, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		board:      b,
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMessage),
		done:       make(chan struct{}),
	}
}

// Run serves clients until ctx is done or the session stops publishing.
func (h *Hub) Run(ctx context.Context) {
	views, cancel := h.board.Subscribe()
	defer cancel()
	defer func() {
		close(h.done)
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			h.latest = encode(outMessage{Type: TypeView, View: &v})
			for client := range h.clients {
				h.deliver(client, h.latest)
			}
		case client := <-h.register:
			h.clients[client] = true
			if h.latest != nil {
				h.deliver(client, h.latest)
			}
			h.logger.Info("UI client registered", zap.Int("clients", len(h.clients)))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("UI client unregistered", zap.Int("clients", len(h.clients)))
			}
		case d := <-h.direct:
			if h.clients[d.client] {
				h.deliver(d.client, d.data)
			}
		}
	}
}

func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		close(client.send)
		delete(h.clients, client)
	}
}

// ServeWs upgrades the request and attaches the client to the hub.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("UI websocket error", zap.Error(err))
			}
			break
		}
		var in Intent
		if err := json.Unmarshal(message, &in); err != nil {
			c.reply(fmt.Errorf("malformed intent: %w", err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), intentTimeout)
		err = c.hub.Handle(ctx, in)
		cancel()
		if err != nil {
			c.hub.logger.Info("Intent rejected", zap.String("type", string(in.Type)), zap.Error(err))
			c.reply(err)
		}
	}
}

// reply sends an error to this client only.
func (c *Client) reply(err error) {
	select {
	case c.hub.direct <- directMessage{client: c, data: encode(outMessage{Type: TypeError, Error: err.Error()})}:
	case <-c.hub.done:
	}
}

func (c *Client) writePump() {
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

var errUnknownIntent = errors.New("unknown intent")

// Handle turns a client intent into a session call. CREATE gets a fresh card
// id and the local user as author when the client left them out.
func (h *Hub) Handle(ctx context.Context, in Intent) error {
	switch in.Type {
	case SetUserName:
		return h.board.SetUserName(ctx, in.UserName)
	case board.Rename:
		return h.board.Rename(ctx, in.BoardName)
	case board.Create:
		if in.CardID == "" {
			in.CardID = board.NewID()
		}
		if in.Author == "" {
			in.Author = h.board.View().UserName
		}
		return h.board.Dispatch(ctx, in.Action)
	case board.Update, board.Vote, board.Delete, board.Move:
		return h.board.Dispatch(ctx, in.Action)
	}
	return fmt.Errorf("%w %q", errUnknownIntent, in.Type)
}

func encode(m outMessage) []byte {
	data, _ := json.Marshal(m)
	return data
}
