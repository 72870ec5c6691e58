package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/collab/src/types"
	"github.com/rs/zerolog"
)

const defaultPingInterval = 30 * time.Second

// MessageBridge publishes deliveries to other server instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(d types.Delivery) error
	Available() bool
}

// event is one item of the inbound queue. A non-nil leave removes that client
// once everything it sent before has been handled.
type event struct {
	msg   types.Inbound
	leave *Client
}

// Hub owns every admitted connection and the room registry. Membership
// changes and inbound messages are processed one at a time by Run.
type Hub struct {
	clients  map[string]*Client
	registry *Registry

	register  chan *Client
	incoming  chan event // client messages and departures, in read order
	broadcast chan types.Delivery
	localCast chan types.Delivery // deliveries from the bridge, no re-publish

	handlers  map[string]types.MessageHandler
	onConnect []func(types.ClientInfo)
	onDisconn []func(types.ClientInfo)

	bridge       MessageBridge
	pingInterval time.Duration
	mu           sync.RWMutex
	logger       zerolog.Logger
	done         chan struct{}
	stopOnce     sync.Once
}

// New creates a new Hub instance.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		registry:     NewRegistry(),
		register:     make(chan *Client),
		incoming:     make(chan event, 256),
		broadcast:    make(chan types.Delivery, 256),
		localCast:    make(chan types.Delivery, 256),
		handlers:     make(map[string]types.MessageHandler),
		pingInterval: defaultPingInterval,
		logger:       logger.With().Str("component", "hub").Logger(),
		done:         make(chan struct{}),
	}
}

// SetBridge attaches a cross-instance message bridge to the hub.
// When set, room deliveries are also forwarded to other instances.
func (h *Hub) SetBridge(b MessageBridge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bridge = b
}

// SetPingInterval sets how often write pumps ping idle connections.
// It only affects clients started afterwards.
func (h *Hub) SetPingInterval(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pingInterval = d
}

func (h *Hub) pingEvery() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.pingInterval <= 0 {
		return defaultPingInterval
	}
	return h.pingInterval
}

// BroadcastToLocal delivers a message from the bridge to local clients only.
// It does not re-publish to Redis, preventing infinite loops.
func (h *Hub) BroadcastToLocal(d types.Delivery) {
	select {
	case h.localCast <- d:
	case <-h.done:
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case ev := <-h.incoming:
			if ev.leave != nil {
				h.removeClient(ev.leave)
				continue
			}
			h.handleMessage(ev.msg)
		case d := <-h.broadcast:
			h.Deliver(d)
		case d := <-h.localCast:
			h.deliverLocal(d)
		case <-h.done:
			return
		}
	}
}

// Stop halts the hub event loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register queues an admitted client. Once processed the client is joined to
// its room, receives the roster and is announced to the other members.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

// Unregister queues a client for removal behind the messages it already
// dispatched.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.incoming <- event{leave: c}:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) dispatch(msg types.Inbound) bool {
	select {
	case h.incoming <- event{msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	callbacks := h.onConnect
	h.mu.Unlock()

	existing := h.registry.Join(c.Room, c.ID)
	c.enqueue(types.Envelope{Type: types.TypePeers, Data: existing})
	h.Deliver(types.Delivery{
		Room:     c.Room,
		Exclude:  c.ID,
		Envelope: types.Envelope{Type: types.TypePeerJoined, Data: types.PeerJoined{ID: c.ID, Username: c.Username}},
	})

	h.logger.Info().
		Str("client_id", c.ID).
		Str("username", c.Username).
		Str("room", c.Room).
		Int("peers", len(existing)).
		Msg("client joined room")

	info := c.Info()
	for _, cb := range callbacks {
		cb(info)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.dropClient(c, false)
}

// dropClient removes c from its room and announces the departure. An evicted
// client also has its connection closed so the peer notices at once.
func (h *Hub) dropClient(c *Client, evicted bool) {
	h.mu.Lock()
	if current, ok := h.clients[c.ID]; !ok || current != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	callbacks := h.onDisconn
	h.mu.Unlock()

	c.Close()
	if evicted {
		c.conn.Close()
	}

	room, ok := h.registry.Leave(c.ID)
	if ok {
		h.Deliver(types.Delivery{
			Room:     room,
			Exclude:  c.ID,
			Envelope: types.Envelope{Type: types.TypePeerLeft, Data: types.PeerLeft{ID: c.ID}},
		})
	}
	h.logger.Info().
		Str("client_id", c.ID).
		Str("username", c.Username).
		Str("room", room).
		Bool("evicted", evicted).
		Msg("client left room")

	info := c.Info()
	for _, cb := range callbacks {
		cb(info)
	}
}
