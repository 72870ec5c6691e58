package hub

import (
	"errors"

	"github.com/orchestra-mcp/collab/src/types"
)

func (h *Hub) handleMessage(msg types.Inbound) {
	if types.ServerOnly(msg.Type) {
		h.logger.Debug().Str("client_id", msg.ClientID).Str("type", msg.Type).Msg("client sent server-only type")
		return
	}

	h.mu.RLock()
	_, member := h.clients[msg.ClientID]
	handler, ok := h.handlers[msg.Type]
	h.mu.RUnlock()

	if !member {
		h.logger.Debug().Str("client_id", msg.ClientID).Str("type", msg.Type).Msg("sender already removed")
		return
	}
	if !ok {
		h.logger.Debug().Str("type", msg.Type).Msg("no handler")
		return
	}
	if err := handler(msg.ClientID, msg); err != nil {
		h.logger.Error().Err(err).Str("client_id", msg.ClientID).Str("type", msg.Type).Msg("handler error")
	}
}

// Deliver sends d to its local recipients and, through the bridge, to other
// instances. A unicast whose target is connected here is not bridged.
// Safe to call from handlers running on the event loop.
func (h *Hub) Deliver(d types.Delivery) {
	if d.Target != "" {
		if h.sendLocal(d.Target, d.Envelope) {
			return
		}
		h.publishToBridge(d)
		return
	}
	h.broadcastLocal(d)
	h.publishToBridge(d)
}

func (h *Hub) deliverLocal(d types.Delivery) {
	if d.Target != "" {
		h.sendLocal(d.Target, d.Envelope)
		return
	}
	h.broadcastLocal(d)
}

// sendLocal reports whether the target is connected to this instance.
// A client whose send buffer is full is evicted rather than skipped, so it
// never sees a stream with holes in it. Runs on the event loop only.
func (h *Hub) sendLocal(id string, env types.Envelope) bool {
	h.mu.RLock()
	client, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := client.enqueue(env); errors.Is(err, errSendFull) {
		h.logger.Warn().Str("client_id", id).Str("type", env.Type).Msg("send buffer full, evicting slow client")
		h.dropClient(client, true)
	}
	return true
}

func (h *Hub) broadcastLocal(d types.Delivery) {
	for _, id := range h.registry.MembersExcluding(d.Room, d.Exclude) {
		h.sendLocal(id, d.Envelope)
	}
}

// publishToBridge forwards a delivery to the bridge if one is attached.
func (h *Hub) publishToBridge(d types.Delivery) {
	h.mu.RLock()
	b := h.bridge
	h.mu.RUnlock()

	if b == nil || !b.Available() {
		return
	}
	if err := b.Publish(d); err != nil {
		h.logger.Error().Err(err).Msg("bridge publish failed")
	}
}

// Publish queues a delivery on the event loop. Use it from outside handlers.
func (h *Hub) Publish(d types.Delivery) {
	select {
	case h.broadcast <- d:
	case <-h.done:
	}
}

// SendToClient sends an envelope directly to a locally connected client.
func (h *Hub) SendToClient(clientID string, env types.Envelope) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return client.enqueue(env) == nil
}
