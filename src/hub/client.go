package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/orchestra-mcp/collab/src/codec"
	"github.com/orchestra-mcp/collab/src/types"
)

// Client wraps one admitted WebSocket connection. Its identity and room are
// fixed for its lifetime.
type Client struct {
	ID       string
	Username string
	Room     string

	conn        types.Conn
	codec       codec.Codec
	hub         *Hub
	send        chan types.Envelope
	connectedAt time.Time
	mu          sync.RWMutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a new WebSocket client wrapper.
func NewClient(id, username, room string, conn types.Conn, c codec.Codec, h *Hub) *Client {
	if c == nil {
		c = codec.JSON
	}
	return &Client{
		ID:          id,
		Username:    username,
		Room:        room,
		conn:        conn,
		codec:       c,
		hub:         h,
		send:        make(chan types.Envelope, 256),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// Info returns metadata about this client.
func (c *Client) Info() types.ClientInfo {
	return types.ClientInfo{
		ID:          c.ID,
		Username:    c.Username,
		Room:        c.Room,
		Codec:       c.codec.Name(),
		ConnectedAt: c.connectedAt,
	}
}

var (
	errClientClosed = errors.New("client closed")
	errSendFull     = errors.New("send buffer full")
)

// enqueue hands env to the write pump without blocking.
func (c *Client) enqueue(env types.Envelope) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- env:
		return nil
	default:
		return errSendFull
	}
}

// ReadPump reads frames from the WebSocket and routes them to the hub. It
// returns when the connection fails, after queueing the client's removal.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		data, err := c.conn.ReadFrame()
		if err != nil {
			return
		}
		frame, err := c.codec.Unmarshal(data)
		if err != nil {
			c.hub.logger.Debug().Err(err).Str("client_id", c.ID).Msg("dropping undecodable frame")
			continue
		}
		if !c.hub.dispatch(types.Inbound{
			Type:      frame.Type,
			Raw:       frame.Raw,
			ClientID:  c.ID,
			Username:  c.Username,
			Room:      c.Room,
			Timestamp: time.Now(),
			Codec:     c.codec,
		}) {
			return
		}
	}
}

// WritePump writes queued envelopes to the WebSocket and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.pingEvery())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			data, err := c.codec.Marshal(env)
			if err != nil {
				c.hub.logger.Error().Err(err).Str("client_id", c.ID).Str("type", env.Type).Msg("encode failed")
				continue
			}
			if err := c.conn.WriteFrame(data, c.codec.Binary()); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.send)
	}
}
