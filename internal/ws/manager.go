// Package ws broadcasts accepted-bid events to WebSocket clients watching
// an auction.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Manager manages all WebSocket connections, grouped by auction.
type Manager struct {
	// auction id -> set of clients watching that auction
	subscribers sync.Map // map[string]*sync.Map

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
}

// Client is one WebSocket connection watching one auction.
type Client struct {
	ID        string
	AuctionID string
	Conn      *websocket.Conn
	Send      chan []byte
}

type broadcastMessage struct {
	auctionID string
	payload   []byte
}

// NewManager creates a new WebSocket manager.
func NewManager() *Manager {
	return &Manager{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
	}
}

// Run is the manager's main loop; run it in a goroutine.
func (m *Manager) Run() {
	for {
		select {
		case client := <-m.register:
			m.registerClient(client)
		case client := <-m.unregister:
			m.unregisterClient(client)
		case message := <-m.broadcast:
			m.broadcastToAuction(message.auctionID, message.payload)
		}
	}
}

// RegisterClient adds a client to the manager.
func (m *Manager) RegisterClient(client *Client) {
	m.register <- client
}

// UnregisterClient removes a client from the manager.
func (m *Manager) UnregisterClient(client *Client) {
	m.unregister <- client
}

// Broadcast sends a payload to every client watching an auction.
func (m *Manager) Broadcast(auctionID string, payload []byte) {
	m.broadcast <- &broadcastMessage{auctionID: auctionID, payload: payload}
}

func (m *Manager) registerClient(client *Client) {
	subscribers, _ := m.subscribers.LoadOrStore(client.AuctionID, &sync.Map{})
	subscribers.(*sync.Map).Store(client, true)

	log.Debug().Str("client", client.ID).Str("auction", client.AuctionID).Msg("client subscribed")

	go client.writePump()
}

func (m *Manager) unregisterClient(client *Client) {
	subscribers, ok := m.subscribers.Load(client.AuctionID)
	if !ok {
		return
	}

	// The slow-client drop and the read pump can both enqueue the same
	// client; only the request that actually removes it closes the channel.
	if _, present := subscribers.(*sync.Map).LoadAndDelete(client); !present {
		return
	}

	close(client.Send)
	client.Conn.Close()

	log.Debug().Str("client", client.ID).Str("auction", client.AuctionID).Msg("client unsubscribed")
}

func (m *Manager) broadcastToAuction(auctionID string, payload []byte) {
	subscribers, ok := m.subscribers.Load(auctionID)
	if !ok {
		return
	}

	subscribers.(*sync.Map).Range(func(key, _ interface{}) bool {
		client := key.(*Client)
		select {
		case client.Send <- payload:
		default:
			// Slow client; drop it rather than block the others.
			go m.UnregisterClient(client)
		}
		return true
	})
}

// SubscriberCount returns how many clients are watching an auction.
func (m *Manager) SubscriberCount(auctionID string) int {
	subscribers, ok := m.subscribers.Load(auctionID)
	if !ok {
		return 0
	}

	count := 0
	subscribers.(*sync.Map).Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// writePump pumps messages from the Send channel to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client messages and detects disconnects.
func (c *Client) readPump(unregister chan *Client) {
	defer func() {
		unregister <- c
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("client", c.ID).Msg("websocket read error")
			}
			return
		}
	}
}

// StartReadPump starts the read pump for this client.
func (c *Client) StartReadPump(unregister chan *Client) {
	go c.readPump(unregister)
}
