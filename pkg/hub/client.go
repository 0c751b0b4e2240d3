package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames and pings.
	maxMessageSize = 4 * 1024
)

// Conn is the subset of a websocket connection the client pumps use.
// *websocket.Conn implements it.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Handler answers a message received from a client. A nil reply sends
// nothing back.
type Handler func(data []byte) (reply []byte)

// Client is a single websocket connection.
type Client struct {
	hub     *Hub
	conn    Conn
	send    chan []byte
	reply   chan []byte
	handler Handler
}

// NewClient creates a client and registers it with the hub. initial, when
// non-nil, is queued before any broadcast. handler may be nil.
func NewClient(hub *Hub, conn Conn, initial []byte, handler Handler) *Client {
	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 64),
		reply:   make(chan []byte, 8),
		handler: handler,
	}
	if initial != nil {
		client.send <- initial
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		close(client.send)
	}
	return client
}

// Run starts the write pump and blocks in the read pump until the
// connection closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Reads also detect disconnection and deliver pongs.
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if c.handler == nil || msgType != websocket.TextMessage {
			continue
		}
		if out := c.handler(data); out != nil {
			select {
			case c.reply <- out:
			default:
				// Writer gone or backed up.
			}
		}
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
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

		case message := <-c.reply:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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
