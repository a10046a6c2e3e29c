package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bananalabs-oss/retro/internal/retro"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// inbound is one client frame: {"event": "...", "data": {...}}.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client is one websocket connection. Outbound events are queued on send
// and written by writePump so that producers never block on the network.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan retro.Event
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func newClient(id string, conn *websocket.Conn, limiter *rate.Limiter) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan retro.Event, sendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

// enqueue queues ev without blocking. A client whose buffer is full is
// closed; it recovers the room state on its next restore.
func (c *Client) enqueue(ev retro.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		c.close()
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump decodes frames until the connection fails and hands each one to
// handle. It runs on the goroutine that accepted the connection.
func (c *Client) readPump(handle func(frame inbound)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inbound
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			handle(inbound{})
			continue
		}
		handle(frame)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// It owns all writes to the socket and closes it on exit.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			if err := c.write(ev); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *Client) write(ev retro.Event) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}
