package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/moltbunker/tierstake/internal/logging"
	"github.com/moltbunker/tierstake/internal/staking"
	"github.com/moltbunker/tierstake/internal/util"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 4 * 1024
	wsSendBuffer = 256
)

// StreamMessage is one frame on the event stream. Clients send
// subscribe/unsubscribe/ping; the server sends event/subscribed/
// unsubscribed/pong.
type StreamMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type channelList struct {
	Channels []string `json:"channels"`
}

// UserChannel is the channel carrying events about one wallet.
func UserChannel(addr string) string {
	return "user:" + strings.ToLower(addr)
}

// StreamCounter tracks connected stream clients.
type StreamCounter interface {
	IncrementStreamClients()
	DecrementStreamClients()
}

type broadcast struct {
	channels []string
	data     []byte
}

// Hub fans committed ledger events out to websocket clients. It is a
// staking.EventSink; Publish never blocks the ledger.
type Hub struct {
	clients    map[*streamClient]bool
	broadcast  chan broadcast
	register   chan *streamClient
	unregister chan *streamClient
	done       chan struct{}
	counter    StreamCounter

	mu sync.RWMutex
}

var _ staking.EventSink = (*Hub)(nil)

// NewHub creates a hub. counter may be nil.
func NewHub(counter StreamCounter) *Hub {
	return &Hub{
		clients:    make(map[*streamClient]bool),
		broadcast:  make(chan broadcast, wsSendBuffer),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
		done:       make(chan struct{}),
		counter:    counter,
	}
}

// Publish queues ev for every client subscribed to its kind or its user's
// channel. Clients with no subscriptions receive everything.
func (h *Hub) Publish(ev staking.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	frame, err := json.Marshal(StreamMessage{Type: "event", Channel: string(ev.Kind), Data: data})
	if err != nil {
		return
	}
	channels := []string{string(ev.Kind), UserChannel(ev.Actor.Hex())}
	if ev.User != ev.Actor && ev.User != (common.Address{}) {
		channels = append(channels, UserChannel(ev.User.Hex()))
	}

	select {
	case h.broadcast <- broadcast{channels: channels, data: frame}:
	default:
		logging.Warn("event stream buffer full, dropping event",
			"seq", ev.Seq,
			logging.Component("websocket"))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run dispatches until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			if h.counter != nil {
				h.counter.IncrementStreamClients()
			}
			logging.Debug("stream client connected", "total_clients", n, logging.Component("websocket"))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				h.dropLocked(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			logging.Debug("stream client disconnected", "total_clients", n, logging.Component("websocket"))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(msg.channels) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// slow consumer
					h.dropLocked(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) dropLocked(c *streamClient) {
	delete(h.clients, c)
	close(c.send)
	if h.counter != nil {
		h.counter.DecrementStreamClients()
	}
}

type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu         sync.RWMutex
	subscribed map[string]bool
}

func (c *streamClient) wants(channels []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.subscribed) == 0 {
		return true
	}
	for _, ch := range channels {
		if c.subscribed[ch] {
			return true
		}
	}
	return false
}

func (c *streamClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg StreamMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("stream read error", logging.Err(err), logging.Component("websocket"))
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) handleMessage(msg *StreamMessage) {
	switch msg.Type {
	case "subscribe", "unsubscribe":
		var req channelList
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				return
			}
		}
		c.mu.Lock()
		for _, ch := range req.Channels {
			if strings.HasPrefix(ch, "user:") {
				ch = strings.ToLower(ch)
			}
			if msg.Type == "subscribe" {
				c.subscribed[ch] = true
			} else {
				delete(c.subscribed, ch)
			}
		}
		c.mu.Unlock()
		c.reply(msg.Type+"d", channelList{Channels: c.channels()})
	case "ping":
		c.reply("pong", nil)
	}
}

// reply sends a control frame. The hub may have closed send already, so
// the send is guarded by the hub lock.
func (c *streamClient) reply(typ string, data any) {
	msg := StreamMessage{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return
		}
		msg.Data = raw
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *streamClient) channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscribed))
	for ch := range c.subscribed {
		out = append(out, ch)
	}
	return out
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = s.checkOrigin
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", logging.Err(err), logging.Component("websocket"))
		return
	}

	c := &streamClient{
		hub:        s.hub,
		conn:       conn,
		send:       make(chan []byte, wsSendBuffer),
		subscribed: make(map[string]bool),
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}
	util.SafeGoWithName("ws-write", c.writePump)
	util.SafeGoWithName("ws-read", c.readPump)
}

// checkOrigin accepts non-browser clients and configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.config.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
