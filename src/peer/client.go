package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orchestra-mcp/collab/src/codec"
	"github.com/orchestra-mcp/collab/src/transfer"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4 << 20
)

// ErrClosed is returned by sends after Close.
var ErrClosed = errors.New("peer connection closed")

// DialError reports a connection the relay refused before upgrading.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("relay rejected connection (%d): %v", e.StatusCode, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Options configures a peer connection.
type Options struct {
	// URL is the relay WebSocket endpoint, e.g. ws://localhost:3000/ws.
	URL   string
	Room  string
	Token string
	// Codec is "json" (default) or "msgpack".
	Codec string

	ChunkSize int
	// Plain sends files without sequence numbers and digest.
	Plain bool
	// TransferIdleTimeout drops incoming transfers that stall; zero selects
	// two minutes, negative disables expiry.
	TransferIdleTimeout time.Duration

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Header http.Header
	Logger zerolog.Logger
}

// Client is one participant connected to a relay room.
type Client struct {
	conn   *websocket.Conn
	codec  codec.Codec
	opts   Options
	logger zerolog.Logger

	reasm  *transfer.Reassembler
	events chan Event

	writeMu  sync.Mutex
	readDone chan struct{}
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	errMu   sync.Mutex
	readErr error
}

// Dial connects to the relay and starts the read loop. The first event is
// normally the room roster.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	cdc, ok := codec.Lookup(opts.Codec)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", opts.Codec)
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("room", opts.Room)
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	q.Set("codec", cdc.Name())
	u.RawQuery = q.Encode()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil {
			return nil, &DialError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	idle := opts.TransferIdleTimeout
	if idle == 0 {
		idle = 2 * time.Minute
	}

	c := &Client{
		conn:     conn,
		codec:    cdc,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "peer").Str("room", opts.Room).Logger(),
		reasm:    transfer.NewReassembler(idle),
		events:   make(chan Event, 256),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	c.wg.Add(1)
	go c.readPump()
	if idle > 0 {
		c.wg.Add(1)
		go c.expireLoop(idle)
	}
	go func() {
		c.wg.Wait()
		close(c.events)
	}()
	return c, nil
}

// Events delivers everything the relay sends. It is closed once the
// connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Send writes one envelope. It satisfies transfer.Transport.
func (c *Client) Send(env types.Envelope) error {
	data, err := c.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}
	kind := websocket.TextMessage
	if c.codec.Binary() {
		kind = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

// Signal sends an opaque payload to one peer.
func (c *Client) Signal(to string, data any) error {
	return c.Send(types.Envelope{Type: types.TypeSignal, Data: types.SignalRequest{To: to, Data: data}})
}

// Chat sends a chat line to the room.
func (c *Client) Chat(text string) error {
	return c.Send(types.Envelope{Type: types.TypeChat, Data: text})
}

// Draw sends one whiteboard stroke.
func (c *Client) Draw(s types.Stroke) error {
	return c.Send(types.Envelope{Type: types.TypeDraw, Data: s})
}

// Clear asks every other member to clear their whiteboard.
func (c *Client) Clear() error {
	return c.Send(types.Envelope{Type: types.TypeClear})
}

// SendFile streams r to the room as one transfer.
func (c *Client) SendFile(ctx context.Context, name, contentType string, r io.ReadSeeker) (types.FileMeta, error) {
	s := transfer.NewSender(c, transfer.SenderOptions{ChunkSize: c.opts.ChunkSize, Plain: c.opts.Plain})
	return s.Send(ctx, name, contentType, r)
}

// Close sends a close frame and waits for the loops to stop.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Client) readPump() {
	defer func() {
		close(c.readDone)
		c.conn.Close()
		c.wg.Done()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.errMu.Lock()
				c.readErr = err
				c.errMu.Unlock()
			}
			return
		}
		frame, err := c.codec.Unmarshal(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}
		msg := types.Inbound{Type: frame.Type, Raw: frame.Raw, Codec: c.codec, Timestamp: time.Now()}
		ev, ok, err := c.decode(msg)
		if err != nil {
			c.logger.Debug().Err(err).Str("type", msg.Type).Msg("dropping malformed message")
			continue
		}
		if ok && !c.emit(ev) {
			return
		}
	}
}

func (c *Client) expireLoop(idle time.Duration) {
	defer c.wg.Done()
	every := idle / 4
	if every < 10*time.Millisecond {
		every = 10 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			for _, ev := range c.reasm.Expire(now) {
				c.logger.Warn().Str("transfer_id", ev.ID).Msg("transfer expired")
				if !c.emit(Event{Kind: EventTransfer, Transfer: ev}) {
					return
				}
			}
		case <-c.readDone:
			return
		case <-c.done:
			return
		}
	}
}

func (c *Client) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}
