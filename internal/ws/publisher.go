package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Publisher is the local websocket fan-out hub: it tracks connected
// clients and their channel subscriptions and broadcasts price/book
// updates dispatched by internal/dispatch (§4.5, §6).
type Publisher struct {
	mu            sync.RWMutex
	clients       map[*client]struct{}
	subscriptions map[string]map[*client]struct{} // channel -> clients

	register   chan *client
	unregister chan *client
	subscribe  chan subRequest
}

type subRequest struct {
	client  *client
	channel string
	sub     bool
}

// client is one connected websocket peer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewPublisher constructs a Publisher. Call Run to start its event loop.
func NewPublisher() *Publisher {
	return &Publisher{
		clients:       make(map[*client]struct{}),
		subscriptions: make(map[string]map[*client]struct{}),
		register:      make(chan *client),
		unregister:    make(chan *client),
		subscribe:     make(chan subRequest, 256),
	}
}

// Run drives the hub's single-writer event loop until stop is closed.
func (p *Publisher) Run(stop <-chan struct{}) {
	for {
		select {
		case c := <-p.register:
			p.mu.Lock()
			p.clients[c] = struct{}{}
			p.mu.Unlock()

		case c := <-p.unregister:
			p.dropClient(c)

		case req := <-p.subscribe:
			p.mu.Lock()
			if req.sub {
				if p.subscriptions[req.channel] == nil {
					p.subscriptions[req.channel] = make(map[*client]struct{})
				}
				p.subscriptions[req.channel][req.client] = struct{}{}
			} else if set, ok := p.subscriptions[req.channel]; ok {
				delete(set, req.client)
				if len(set) == 0 {
					delete(p.subscriptions, req.channel)
				}
			}
			p.mu.Unlock()

		case <-stop:
			return
		}
	}
}

func (p *Publisher) dropClient(c *client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.clients[c]; !ok {
		return
	}
	delete(p.clients, c)
	for channel, set := range p.subscriptions {
		delete(set, c)
		if len(set) == 0 {
			delete(p.subscriptions, channel)
		}
	}
	close(c.send)
}

// Subscribed reports whether any client currently subscribes to channel,
// used by internal/dispatch to skip encoding a book update nobody wants.
func (p *Publisher) Subscribed(channel string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions[channel]) > 0
}

// Broadcast pushes data to every client subscribed to channel.
func (p *Publisher) Broadcast(channel string, data any) {
	payload, err := json.Marshal(NewBroadcast(channel, data))
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("ws: marshal broadcast")
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for c := range p.subscriptions[channel] {
		select {
		case c.send <- payload:
		default:
			// slow consumer, drop rather than block the hub
		}
	}
}

// ServeHTTP upgrades the request to a websocket connection and starts its
// read/write pumps.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws: upgrade")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	p.register <- c

	go p.writePump(c)
	go p.readPump(c)
}

func (p *Publisher) readPump(c *client) {
	defer func() {
		p.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("ws: read")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Payload == nil {
			continue
		}

		switch frame.Payload.Type {
		case Subscribe:
			p.subscribe <- subRequest{client: c, channel: frame.Payload.Channel, sub: true}
		case Unsubscribe:
			p.subscribe <- subRequest{client: c, channel: frame.Payload.Channel, sub: false}
		}
	}
}

func (p *Publisher) writePump(c *client) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
