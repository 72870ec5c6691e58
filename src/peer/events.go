package peer

import (
	"fmt"

	"github.com/orchestra-mcp/collab/src/transfer"
	"github.com/orchestra-mcp/collab/src/types"
)

// EventKind identifies what an Event carries.
type EventKind int

const (
	EventPeers EventKind = iota
	EventPeerJoined
	EventPeerLeft
	EventSignal
	EventChat
	EventDraw
	EventClear
	EventTransfer
)

func (k EventKind) String() string {
	switch k {
	case EventPeers:
		return "peers"
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerLeft:
		return "peer-left"
	case EventSignal:
		return "signal"
	case EventChat:
		return "chat"
	case EventDraw:
		return "draw"
	case EventClear:
		return "clear"
	case EventTransfer:
		return "transfer"
	}
	return "unknown"
}

// Event is one decoded relay message. Only the field matching Kind is set.
type Event struct {
	Kind     EventKind
	Peers    []string
	Peer     types.PeerJoined
	Signal   types.SignalDelivery
	Chat     types.ChatMessage
	Stroke   types.Stroke
	Transfer transfer.Event
}

// decode turns an inbound envelope into an event. Unknown kinds report
// ok == false.
func (c *Client) decode(msg types.Inbound) (Event, bool, error) {
	switch msg.Type {
	case types.TypePeers:
		var ids []string
		if len(msg.Raw) > 0 {
			if err := msg.DecodeData(&ids); err != nil {
				return Event{}, false, err
			}
		}
		if ids == nil {
			ids = []string{}
		}
		return Event{Kind: EventPeers, Peers: ids}, true, nil

	case types.TypePeerJoined:
		var p types.PeerJoined
		if err := msg.DecodeData(&p); err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventPeerJoined, Peer: p}, true, nil

	case types.TypePeerLeft:
		var p types.PeerLeft
		if err := msg.DecodeData(&p); err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventPeerLeft, Peer: types.PeerJoined{ID: p.ID}}, true, nil

	case types.TypeSignal:
		var s types.SignalDelivery
		if err := msg.DecodeData(&s); err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventSignal, Signal: s}, true, nil

	case types.TypeChat:
		var m types.ChatMessage
		if err := msg.DecodeData(&m); err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventChat, Chat: m}, true, nil

	case types.TypeDraw:
		var s types.Stroke
		if err := msg.DecodeData(&s); err != nil {
			return Event{}, false, err
		}
		return Event{Kind: EventDraw, Stroke: s}, true, nil

	case types.TypeClear:
		return Event{Kind: EventClear}, true, nil

	case types.TypeFileStart:
		var meta types.FileMeta
		if err := msg.DecodeData(&meta); err != nil {
			return Event{}, false, err
		}
		ev := c.reasm.Start(meta)
		c.logger.Debug().Str("transfer_id", meta.ID).Str("kind", ev.Kind.String()).Msg("transfer announced")
		return Event{Kind: EventTransfer, Transfer: ev}, true, nil

	case types.TypeFileChunk:
		var chunk types.FileChunk
		if err := msg.DecodeData(&chunk); err != nil {
			return Event{}, false, err
		}
		ev, ok := c.reasm.Chunk(chunk)
		if !ok {
			c.logger.Debug().Str("transfer_id", chunk.ID).Msg("chunk for unknown transfer")
			return Event{}, false, nil
		}
		return Event{Kind: EventTransfer, Transfer: ev}, true, nil
	}
	return Event{}, false, fmt.Errorf("unknown message type %q", msg.Type)
}
